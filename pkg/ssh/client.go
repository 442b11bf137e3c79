package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Config SSH控制台配置
type Config struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
}

// Dialer 通过 SSH PTY Shell 打开控制台
type Dialer struct {
	config Config
}

// NewDialer 创建 SSH 控制台拨号器
func NewDialer(config Config) *Dialer {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Dialer{config: config}
}

func (d *Dialer) clientConfig() *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User:            d.config.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.config.Timeout,
		Config: ssh.Config{
			// 支持旧版本的密钥交换算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-ed25519",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ssh-rsa",
			"ecdsa-sha2-nistp256",
		},
	}
	if d.config.Password != "" {
		// password 与 keyboard-interactive 同时尝试
		password := d.config.Password
		cfg.Auth = []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		}
	}
	return cfg
}

// Dial 实现 console.Dialer
func (d *Dialer) Dial(ctx context.Context, ep console.Endpoint) (console.Transport, error) {
	address := net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))

	dialer := &net.Dialer{Timeout: d.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	// 握手与 PTY 协商同样受超时和 ctx 约束，Shell 启动后清除截止时间
	deadline := time.Now().Add(d.config.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, d.clientConfig())
	if err != nil {
		conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	// 终端类型回退：vt100 → xterm → ansi → dumb
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}
	if !stop() {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to open console: %w", ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	t := &Transport{
		client:  client,
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go t.readLoop(stdout)
	return t, nil
}

// Transport SSH PTY Shell 上的控制台字节流
type Transport struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	chunks  chan []byte
	readErr error
	done    chan struct{}

	closeOnce sync.Once
	mutex     sync.Mutex
}

func (t *Transport) readLoop(r io.Reader) {
	buf := make([]byte, 2048)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.chunks <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil {
			t.mutex.Lock()
			t.readErr = err
			t.mutex.Unlock()
			close(t.chunks)
			return
		}
	}
}

// Send 实现 console.Transport
func (t *Transport) Send(p []byte) error {
	select {
	case <-t.done:
		return console.ErrClosed
	default:
	}
	_, err := t.stdin.Write(p)
	return err
}

// ReceiveAvailable 实现 console.Transport
func (t *Transport) ReceiveAvailable(maxWait time.Duration) ([]byte, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-t.done:
		return nil, console.ErrClosed
	case chunk, ok := <-t.chunks:
		if !ok {
			t.mutex.Lock()
			err := t.readErr
			t.mutex.Unlock()
			return nil, err
		}
		// 顺带取走已就绪的数据
		for {
			select {
			case more, ok := <-t.chunks:
				if !ok {
					return chunk, nil
				}
				chunk = append(chunk, more...)
			default:
				return chunk, nil
			}
		}
	case <-timer.C:
		return nil, nil
	}
}

// Close 实现 console.Transport，重复调用返回 nil
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.stdin.Close()
		_ = t.session.Close()
		err = t.client.Close()
	})
	return err
}
