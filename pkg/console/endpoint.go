package console

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// 控制台协议
const (
	ProtocolTelnet = "telnet"
	ProtocolSSH    = "ssh"
)

// Endpoint 控制台连接坐标
type Endpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol,omitempty"`
}

// Address host:port
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String 用于日志与诊断
func (e Endpoint) String() string {
	return e.Scheme() + "://" + e.Address()
}

// Scheme 返回协议，未指定时为 telnet
func (e Endpoint) Scheme() string {
	if e.Protocol == "" {
		return ProtocolTelnet
	}
	return strings.ToLower(e.Protocol)
}

// Validate 校验坐标
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("endpoint host is empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	switch e.Scheme() {
	case ProtocolTelnet, ProtocolSSH:
	default:
		return fmt.Errorf("unsupported console protocol %q", e.Protocol)
	}
	return nil
}

// Transport 控制台字节流连接，会话期间由 Runner 独占
type Transport interface {
	// Send 写出全部字节
	Send(p []byte) error
	// ReceiveAvailable 最多等待 maxWait，超时返回零字节且无错误
	ReceiveAvailable(maxWait time.Duration) ([]byte, error)
	// Close 可重复调用
	Close() error
}

// Dialer 打开到 Endpoint 的 Transport
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Transport, error)
}

// DialerFunc 函数适配器
type DialerFunc func(ctx context.Context, ep Endpoint) (Transport, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	return f(ctx, ep)
}

// Dialers 按协议选择 Dialer
type Dialers map[string]Dialer

// Dial 实现 Dialer
func (d Dialers) Dial(ctx context.Context, ep Endpoint) (Transport, error) {
	dialer, ok := d[ep.Scheme()]
	if !ok || dialer == nil {
		return nil, fmt.Errorf("no dialer registered for protocol %q", ep.Scheme())
	}
	return dialer.Dial(ctx, ep)
}
