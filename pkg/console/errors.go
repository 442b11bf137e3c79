package console

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout 截止时间内未匹配到任何模式
	ErrTimeout = errors.New("timed out waiting for pattern")
	// ErrBufferOverflow 接收缓冲超过上限，按超时处理
	ErrBufferOverflow = errors.New("receive buffer limit exceeded")
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("transport closed")
)

// TransportError 连接、发送或接收失败
type TransportError struct {
	Op   string
	Step int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("console %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("console %s failed at step %d: %v", e.Op, e.Step, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StepTimeoutError 期望的模式未在截止时间内出现
type StepTimeoutError struct {
	Step     int
	Name     string
	Awaiting []string
	Cause    error
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s) timed out awaiting [%s]: %v",
		e.Step, e.Name, strings.Join(e.Awaiting, " | "), e.Cause)
}

func (e *StepTimeoutError) Unwrap() error { return e.Cause }

// AbortError 匹配到了中止策略的模式
type AbortError struct {
	Step    int
	Name    string
	Pattern string
	Matched string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("step %d (%s) aborted on %q: %s", e.Step, e.Name, e.Pattern, tail(e.Matched, 200))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
