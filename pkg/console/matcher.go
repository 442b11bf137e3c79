package console

import (
	"time"
)

// 默认轮询间隔与缓冲上限
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxBuffer    = 1 << 20
)

// Match 一次成功匹配
type Match struct {
	// Index 命中模式在候选列表中的序号
	Index int
	Label string
	// Text 被消费的字节（缓冲起点到匹配结束）
	Text []byte
	// Groups 捕获组，0 为整体匹配
	Groups []string
}

// Group 返回第 i 个捕获组，不存在时为空串
func (m *Match) Group(i int) string {
	if m == nil || i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// Matcher 在累积缓冲上按声明顺序扫描候选模式
type Matcher struct {
	transport Transport
	buf       []byte
	// arrived 上次 Arrived 之后收到的字节，与是否已被匹配消费无关
	arrived   []byte
	poll      time.Duration
	maxBuffer int
}

// NewMatcher 创建匹配器，非正值使用默认参数
func NewMatcher(t Transport, poll time.Duration, maxBuffer int) *Matcher {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Matcher{transport: t, poll: poll, maxBuffer: maxBuffer}
}

// WaitFor 等待任一模式出现；先声明的模式优先
func (m *Matcher) WaitFor(patterns []Pattern, timeout time.Duration) (*Match, error) {
	deadline := time.Now().Add(timeout)
	for {
		if match := m.scan(patterns); match != nil {
			return match, nil
		}
		if len(m.buf) > m.maxBuffer {
			return nil, ErrBufferOverflow
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		wait := m.poll
		if remaining < wait {
			wait = remaining
		}
		data, err := m.transport.ReceiveAvailable(wait)
		m.receive(data)
		if err != nil {
			// 断开前最后收到的数据仍可能完成匹配
			if match := m.scan(patterns); match != nil {
				return match, nil
			}
			return nil, err
		}
	}
}

// Drain 在 d 内收集输出并全部消费，用于只发送不等待的步骤
func (m *Matcher) Drain(d time.Duration) ([]byte, error) {
	deadline := time.Now().Add(d)
	var err error
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := m.poll
		if remaining < wait {
			wait = remaining
		}
		var data []byte
		data, err = m.transport.ReceiveAvailable(wait)
		m.receive(data)
		if err != nil || len(m.buf) > m.maxBuffer {
			break
		}
	}
	out := m.buf
	m.buf = nil
	return out, err
}

// Arrived 返回并清空上次调用以来收到的字节。
// 每个字节只出现一次，即使它留在缓冲中供后续步骤匹配。
func (m *Matcher) Arrived() []byte {
	out := m.arrived
	m.arrived = nil
	return out
}

func (m *Matcher) receive(data []byte) {
	if len(data) == 0 {
		return
	}
	m.buf = append(m.buf, data...)
	m.arrived = append(m.arrived, data...)
}

// Pending 尚未被消费的输出
func (m *Matcher) Pending() []byte {
	out := make([]byte, len(m.buf))
	copy(out, m.buf)
	return out
}

func (m *Matcher) scan(patterns []Pattern) *Match {
	if len(m.buf) == 0 {
		return nil
	}
	for i, p := range patterns {
		end, groups, ok := p.find(m.buf)
		if !ok {
			continue
		}
		text := make([]byte, end)
		copy(text, m.buf[:end])
		m.buf = append([]byte(nil), m.buf[end:]...)
		return &Match{Index: i, Label: p.Label(), Text: text, Groups: groups}
	}
	return nil
}
