// Package consoletest 提供按规则应答的内存控制台，用于测试 Runner 与各类对话脚本
package consoletest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Rule 当外发数据中出现 Expect 时，在 Delay 后回复 Reply。
// 规则按顺序逐条生效；Expect 为空的规则在上一条生效后立即生效。
type Rule struct {
	Expect string
	Reply  string
	Delay  time.Duration
}

type scheduled struct {
	at   time.Time
	data []byte
}

// Conn 实现 console.Transport
type Conn struct {
	mu         sync.Mutex
	rules      []Rule
	next       int
	outbound   []byte
	cursor     int
	pending    []scheduled
	sent       [][]byte
	closeCount int
	sendErr    error
	recvErr    error
	hangUp     bool
}

// New 创建内存控制台，Expect 为空的首批规则在创建时即排期（如登录横幅）
func New(rules ...Rule) *Conn {
	c := &Conn{rules: rules}
	c.mu.Lock()
	c.advance(time.Now())
	c.mu.Unlock()
	return c
}

// Script 依次应答每一对 (期望, 回复)，便于描述线性对话
func Script(banner string, pairs ...string) *Conn {
	rules := []Rule{{Reply: banner}}
	for i := 0; i+1 < len(pairs); i += 2 {
		rules = append(rules, Rule{Expect: pairs[i], Reply: pairs[i+1]})
	}
	return New(rules...)
}

// FailSend 之后的 Send 返回 err
func (c *Conn) FailSend(err error) *Conn {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
	return c
}

// FailReceive 待发数据耗尽后 ReceiveAvailable 返回 err
func (c *Conn) FailReceive(err error) *Conn {
	c.mu.Lock()
	c.recvErr = err
	c.mu.Unlock()
	return c
}

// HangUpWhenDone 所有规则应答完毕后模拟远端断开
func (c *Conn) HangUpWhenDone() *Conn {
	c.mu.Lock()
	c.hangUp = true
	c.mu.Unlock()
	return c
}

// Dialer 每次拨号都返回同一个 Conn
func (c *Conn) Dialer() console.Dialer {
	return console.DialerFunc(func(ctx context.Context, ep console.Endpoint) (console.Transport, error) {
		return c, nil
	})
}

// FailingDialer 拨号总是失败
func FailingDialer(err error) console.Dialer {
	return console.DialerFunc(func(ctx context.Context, ep console.Endpoint) (console.Transport, error) {
		return nil, err
	})
}

// Send 实现 console.Transport
func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCount > 0 {
		return console.ErrClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := append([]byte(nil), p...)
	c.sent = append(c.sent, cp)
	c.outbound = append(c.outbound, cp...)
	c.advance(time.Now())
	return nil
}

// ReceiveAvailable 实现 console.Transport
func (c *Conn) ReceiveAvailable(maxWait time.Duration) ([]byte, error) {
	deadline := time.Now().Add(maxWait)
	for {
		c.mu.Lock()
		if c.closeCount > 0 {
			c.mu.Unlock()
			return nil, console.ErrClosed
		}
		now := time.Now()
		var out []byte
		rest := c.pending[:0]
		for _, s := range c.pending {
			if !s.at.After(now) {
				out = append(out, s.data...)
			} else {
				rest = append(rest, s)
			}
		}
		c.pending = rest
		exhausted := len(c.pending) == 0
		var err error
		if exhausted && c.recvErr != nil {
			err = c.recvErr
		} else if exhausted && c.hangUp && c.next >= len(c.rules) {
			err = errors.New("consoletest: remote hung up")
		}
		c.mu.Unlock()

		if len(out) > 0 || err != nil {
			return out, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if remaining > 2*time.Millisecond {
			remaining = 2 * time.Millisecond
		}
		time.Sleep(remaining)
	}
}

// Close 实现 console.Transport，可重复调用
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	return nil
}

// CloseCount Close 被调用的次数
func (c *Conn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

// Sent 每次 Send 的数据
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentText 拼接后的全部外发数据
func (c *Conn) SentText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.outbound)
}

// RulesFired 已生效的规则数
func (c *Conn) RulesFired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func (c *Conn) advance(now time.Time) {
	for c.next < len(c.rules) {
		r := c.rules[c.next]
		if r.Expect != "" {
			idx := bytes.Index(c.outbound[c.cursor:], []byte(r.Expect))
			if idx < 0 {
				return
			}
			c.cursor += idx + len(r.Expect)
		}
		if r.Reply != "" {
			c.pending = append(c.pending, scheduled{at: now.Add(r.Delay), data: []byte(r.Reply)})
		}
		c.next++
	}
}
