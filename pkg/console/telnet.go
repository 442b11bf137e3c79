package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// telnet 命令字节
const (
	telnetSE   = 240
	telnetSB   = 250
	telnetWILL = 251
	telnetWONT = 252
	telnetDO   = 253
	telnetDONT = 254
	telnetIAC  = 255
)

const (
	tsData = iota
	tsIAC
	tsOption
	tsSub
	tsSubIAC
)

// TelnetDialer 通过 TCP 打开 telnet 控制台
type TelnetDialer struct {
	Timeout time.Duration
}

// Dial 实现 Dialer
func (d TelnetDialer) Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", ep.Address(), err)
	}
	return NewTelnetTransport(conn), nil
}

// TelnetTransport telnet 字节流：剥离并拒绝所有选项协商，发送时转义 0xFF
type TelnetTransport struct {
	conn    net.Conn
	readBuf []byte
	state   int
	command byte

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewTelnetTransport 包装已建立的连接
func NewTelnetTransport(conn net.Conn) *TelnetTransport {
	return &TelnetTransport{
		conn:    conn,
		readBuf: make([]byte, 4096),
		closed:  make(chan struct{}),
	}
}

// Send 实现 Transport
func (t *TelnetTransport) Send(p []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	return t.write(bytes.ReplaceAll(p, []byte{telnetIAC}, []byte{telnetIAC, telnetIAC}))
}

// ReceiveAvailable 实现 Transport
func (t *TelnetTransport) ReceiveAvailable(maxWait time.Duration) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	if maxWait <= 0 {
		maxWait = time.Millisecond
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(maxWait)); err != nil {
		return nil, err
	}
	n, err := t.conn.Read(t.readBuf)
	data, replies := t.filter(t.readBuf[:n])
	if len(replies) > 0 {
		if werr := t.write(replies); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return data, nil
		}
		return data, err
	}
	return data, nil
}

// Close 实现 Transport，仅首次调用真正关闭连接，之后返回 nil
func (t *TelnetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *TelnetTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *TelnetTransport) write(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_, err := t.conn.Write(p)
	return err
}

// filter 剥离协商字节，返回净数据与需要回写的拒绝应答
func (t *TelnetTransport) filter(in []byte) ([]byte, []byte) {
	var out, replies []byte
	for _, b := range in {
		switch t.state {
		case tsData:
			switch b {
			case telnetIAC:
				t.state = tsIAC
			case 0:
				// CR NUL
			default:
				out = append(out, b)
			}
		case tsIAC:
			switch b {
			case telnetIAC:
				out = append(out, b)
				t.state = tsData
			case telnetDO, telnetDONT, telnetWILL, telnetWONT:
				t.command = b
				t.state = tsOption
			case telnetSB:
				t.state = tsSub
			default:
				t.state = tsData
			}
		case tsOption:
			switch t.command {
			case telnetDO, telnetDONT:
				replies = append(replies, telnetIAC, telnetWONT, b)
			default:
				replies = append(replies, telnetIAC, telnetDONT, b)
			}
			t.state = tsData
		case tsSub:
			if b == telnetIAC {
				t.state = tsSubIAC
			}
		case tsSubIAC:
			if b == telnetSE {
				t.state = tsData
			} else {
				t.state = tsSub
			}
		}
	}
	return out, replies
}
