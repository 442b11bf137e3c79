package simulate

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/consoleprov/consoleprov/pkg/logger"
)

// telnet 协议字节
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240

	optEcho = 1
	optSGA  = 3
)

const shellPrompt = "vyos@vyos:~$ "

// Stats 模拟控制台计数
type Stats struct {
	Connections int
	Logins      int
	FailedLogin int
	Installs    int
	Executions  int
	PowerOffs   int
}

// Server 讲 telnet 的 VyOS 串口控制台模拟器
type Server struct {
	cfg ConsoleConfig
	ln  net.Listener
	wg  sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	stats Stats
}

// Listen 在 addr 上启动模拟控制台
func Listen(addr string, cfg ConsoleConfig) (*Server, error) {
	if cfg.Username == "" {
		cfg.Username = "vyos"
	}
	if cfg.Password == "" {
		cfg.Password = "vyos"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, ln: ln, conns: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr 实际监听地址
func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Stats 当前计数快照
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close 停止监听并断开所有连接
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.stats.Connections++
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				c.Close()
			}()
			logger.Debugf("Simulate: console connection from %s", c.RemoteAddr())
			(&session{srv: s, conn: c, r: bufio.NewReader(c), files: map[string][]byte{}}).run()
		}(conn)
	}
}

// session 单个连接上的 VyOS 交互
type session struct {
	srv   *Server
	conn  net.Conn
	r     *bufio.Reader
	files map[string][]byte
	// skipLF 上一行以 CR 结束，吞掉紧随的 LF 或 NUL
	skipLF bool
}

func (ss *session) write(s string) bool {
	_, err := io.WriteString(ss.conn, s)
	return err == nil
}

// readLine 读取一行，处理 telnet 命令与 CR/LF/CRNUL 结尾
func (ss *session) readLine() (string, error) {
	var line []byte
	for {
		b, err := ss.r.ReadByte()
		if err != nil {
			return string(line), err
		}
		if b == iac {
			lit, err := ss.readCommand()
			if err != nil {
				return string(line), err
			}
			if !lit {
				continue
			}
		}
		if ss.skipLF {
			ss.skipLF = false
			if b == '\n' || b == 0 {
				continue
			}
		}
		switch b {
		case '\r':
			ss.skipLF = true
			return string(line), nil
		case '\n':
			return string(line), nil
		case 0:
			continue
		}
		line = append(line, b)
	}
}

// readCommand 处理 IAC 之后的字节，返回 true 表示是转义的 0xFF 数据字节
func (ss *session) readCommand() (bool, error) {
	cmd, err := ss.r.ReadByte()
	if err != nil {
		return false, err
	}
	switch cmd {
	case iac:
		return true, nil
	case will, wont, do, dont:
		_, err = ss.r.ReadByte()
		return false, err
	case sb:
		for {
			b, err := ss.r.ReadByte()
			if err != nil {
				return false, err
			}
			if b == iac {
				if next, err := ss.r.ReadByte(); err != nil || next == se {
					return false, err
				}
			}
		}
	}
	return false, nil
}

func (ss *session) run() {
	cfg := ss.srv.cfg
	if cfg.Silent {
		_, _ = io.Copy(io.Discard, ss.conn)
		return
	}
	if _, err := ss.conn.Write([]byte{iac, will, optEcho, iac, will, optSGA}); err != nil {
		return
	}
	if cfg.BootDelay > 0 {
		time.Sleep(cfg.BootDelay)
	}
	if !ss.write("\r\nWelcome to VyOS - vyos ttyS0\r\n\r\n") {
		return
	}
	for ss.login() {
		if !ss.shell() {
			return
		}
	}
}

// login 完成一次登录，连接断开时返回 false
func (ss *session) login() bool {
	cfg := ss.srv.cfg
	for {
		if !ss.write("vyos login: ") {
			return false
		}
		user, err := ss.readLine()
		if err != nil {
			return false
		}
		ss.write(user + "\r\nPassword: ")
		pass, err := ss.readLine()
		if err != nil {
			return false
		}
		if user == cfg.Username && pass == cfg.Password {
			ss.srv.count(func(s *Stats) { s.Logins++ })
			return ss.write("\r\nLinux vyos 5.4.0-amd64-vyos\r\nWelcome to VyOS!\r\n" + shellPrompt)
		}
		ss.srv.count(func(s *Stats) { s.FailedLogin++ })
		time.Sleep(100 * time.Millisecond)
		if !ss.write("\r\nLogin incorrect\r\n") {
			return false
		}
	}
}

// shell 执行命令直到连接断开或关机，返回 true 表示回到登录
func (ss *session) shell() bool {
	for {
		line, err := ss.readLine()
		if err != nil {
			return false
		}
		ss.write(line + "\r\n")
		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "":
		case cmd == "install image":
			if !ss.installImage() {
				return false
			}
		case cmd == "poweroff":
			ss.write("Are you sure you want to poweroff this system? [y/N] ")
			answer, err := ss.readLine()
			if err != nil {
				return false
			}
			if strings.EqualFold(strings.TrimSpace(answer), "y") {
				ss.srv.count(func(s *Stats) { s.PowerOffs++ })
				ss.write("y\r\n\r\nBroadcast message from root@vyos:\r\nThe system is going down for poweroff NOW!\r\n")
				return false
			}
			ss.write("\r\n")
		case cmd == "exit" || cmd == "logout":
			return true
		default:
			ss.write(ss.exec(cmd))
		}
		if !ss.write(shellPrompt) {
			return false
		}
	}
}

// exec 上传流程用到的 shell 命令
func (ss *session) exec(cmd string) string {
	fields := strings.Fields(cmd)
	switch {
	case fields[0] == "rm":
		for _, f := range fields[1:] {
			if !strings.HasPrefix(f, "-") {
				delete(ss.files, f)
			}
		}
		return ""
	case fields[0] == "echo" && len(fields) >= 4 && fields[len(fields)-2] == ">>":
		body := strings.TrimSpace(strings.TrimPrefix(cmd, "echo"))
		body = strings.TrimSpace(body[:strings.LastIndex(body, ">>")])
		body = strings.Trim(body, "'\"")
		name := fields[len(fields)-1]
		ss.files[name] = append(ss.files[name], []byte(body+"\n")...)
		return ""
	case fields[0] == "base64" && len(fields) == 5 && fields[1] == "--decode" && fields[3] == ">":
		src, ok := ss.files[fields[2]]
		if !ok {
			return fmt.Sprintf("base64: %s: No such file or directory\r\n", fields[2])
		}
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(src)), ""))
		if err != nil {
			return "base64: invalid input\r\n"
		}
		ss.files[fields[4]] = data
		return ""
	case fields[0] == "md5sum" && len(fields) == 2:
		data, ok := ss.files[fields[1]]
		if !ok {
			return fmt.Sprintf("md5sum: %s: No such file or directory\r\n", fields[1])
		}
		sum := md5.Sum(data)
		digest := hex.EncodeToString(sum[:])
		if ss.srv.cfg.WrongChecksum {
			digest = strings.Repeat("0", 32)
		}
		return digest + "  " + fields[1] + "\r\n"
	case fields[0] == "chmod":
		return ""
	case strings.HasPrefix(fields[0], "./"):
		data, ok := ss.files[strings.TrimPrefix(fields[0], "./")]
		if !ok {
			return fmt.Sprintf("-vbash: %s: No such file or directory\r\n", fields[0])
		}
		ss.srv.count(func(s *Stats) { s.Executions++ })
		lines := strings.Count(string(data), "\n")
		return fmt.Sprintf("Applying %d configuration lines\r\nDone\r\n", lines)
	}
	return fmt.Sprintf("-vbash: %s: command not found\r\n", fields[0])
}

// installImage 按 VyOS install image 的提问顺序交互
func (ss *session) installImage() bool {
	if ss.srv.cfg.FailInstall {
		ss.write("Unable to find a suitable installation disk\r\n")
		return true
	}
	user := ss.srv.cfg.Username
	prompts := []string{
		"Welcome to the VyOS install program.  This script\r\nwill walk you through the process of installing the\r\nVyOS image to a local hard drive.\r\nWould you like to continue? (Yes/No) [Yes]: ",
		"Partition (Auto/Parted/Skip) [Auto]: ",
		"I found the following drives on your system:\r\n sda\t2048MB\r\n\r\nInstall the image on? [sda]: ",
		"\r\nThis will destroy all data on /dev/sda.\r\nContinue? (Yes/No) [No]: ",
		"How big of a root partition should I create? (2000MB - 2147MB) [2147]MB: ",
		"Creating filesystem on /dev/sda1: OK\r\nWhat would you like to name this image? [1.3.0]: ",
		"I found the following configuration files:\r\n    /opt/vyatta/etc/config/config.boot\r\nWhich one should I copy to sda? [/opt/vyatta/etc/config/config.boot]: ",
		fmt.Sprintf("Enter password for user '%s': ", user),
		fmt.Sprintf("Retype password for user '%s': ", user),
		"Which drive should GRUB modify the boot partition on? [sda]: ",
	}
	for _, p := range prompts {
		if !ss.write(p) {
			return false
		}
		answer, err := ss.readLine()
		if err != nil {
			return false
		}
		if strings.Contains(p, "password") {
			answer = ""
		}
		ss.write(answer + "\r\n")
	}
	ss.srv.count(func(s *Stats) { s.Installs++ })
	return ss.write("Setting up grub: OK\r\nDone!\r\n")
}
