package console

import (
	"fmt"
	"strings"
	"time"
)

// Action 命中模式后的处理策略
type Action int

const (
	// Continue 进入下一步
	Continue Action = iota
	// Abort 远端报告了错误，终止会话
	Abort
)

func (a Action) String() string {
	if a == Abort {
		return "abort"
	}
	return "continue"
}

// Expectation 候选模式及其策略
type Expectation struct {
	Pattern Pattern
	Action  Action
}

// On 命中后继续
func On(p Pattern) Expectation {
	return Expectation{Pattern: p, Action: Continue}
}

// AbortOn 命中后中止
func AbortOn(p Pattern) Expectation {
	return Expectation{Pattern: p, Action: Abort}
}

// Step 一次发送/等待交互
type Step struct {
	Name string
	// Send 为空时为纯等待步骤
	Send []byte
	// Expect 为空时为只发送步骤，发送后在 Timeout 内收集输出
	Expect  []Expectation
	Timeout time.Duration
	// Delay 发送前的停顿
	Delay time.Duration
	// Inspect 检查命中结果，返回的告警不影响会话继续
	Inspect func(*Match) *Warning
}

// Patterns 按声明顺序返回候选模式
func (s Step) Patterns() []Pattern {
	out := make([]Pattern, len(s.Expect))
	for i, e := range s.Expect {
		out[i] = e.Pattern
	}
	return out
}

// Labels 候选模式标签
func (s Step) Labels() []string {
	out := make([]string, len(s.Expect))
	for i, e := range s.Expect {
		out[i] = e.Pattern.Label()
	}
	return out
}

// Script 线性、不可变的步骤序列
type Script struct {
	name  string
	steps []Step
}

// Name 脚本名称
func (s *Script) Name() string { return s.name }

// Len 步骤数
func (s *Script) Len() int { return len(s.steps) }

// Step 第 i 步
func (s *Script) Step(i int) Step { return s.steps[i] }

// Steps 步骤副本
func (s *Script) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// SendCount 带外发字节的步骤数
func (s *Script) SendCount() int {
	n := 0
	for _, st := range s.steps {
		if len(st.Send) > 0 {
			n++
		}
	}
	return n
}

// WithTimeouts 按步骤名覆盖截止时间，返回新脚本
func (s *Script) WithTimeouts(overrides map[string]time.Duration) *Script {
	if len(overrides) == 0 {
		return s
	}
	steps := s.Steps()
	for i := range steps {
		if d, ok := overrides[steps[i].Name]; ok && d > 0 {
			steps[i].Timeout = d
		}
	}
	return &Script{name: s.name, steps: steps}
}

// Builder 步骤列表构建器
type Builder struct {
	name       string
	lineEnding string
	steps      []Step
	err        error
}

// NewScript 开始构建脚本，默认行尾为 "\n"
func NewScript(name string) *Builder {
	return &Builder{name: name, lineEnding: "\n"}
}

// LineEnding 设置 SendLine 使用的行尾
func (b *Builder) LineEnding(le string) *Builder {
	b.lineEnding = le
	return b
}

// Expect 纯等待步骤
func (b *Builder) Expect(name string, timeout time.Duration, exps ...Expectation) *Builder {
	return b.Step(Step{Name: name, Expect: exps, Timeout: timeout})
}

// Send 发送原始字节后等待
func (b *Builder) Send(name string, data []byte, timeout time.Duration, exps ...Expectation) *Builder {
	return b.Step(Step{Name: name, Send: data, Expect: exps, Timeout: timeout})
}

// SendLine 发送一行（自动附加行尾）后等待
func (b *Builder) SendLine(name, line string, timeout time.Duration, exps ...Expectation) *Builder {
	return b.Send(name, []byte(line+b.lineEnding), timeout, exps...)
}

// Step 追加完整步骤
func (b *Builder) Step(s Step) *Builder {
	if s.Name == "" {
		s.Name = fmt.Sprintf("step-%d", len(b.steps))
	}
	b.steps = append(b.steps, s)
	return b
}

// Delay 为最后一步设置发送前停顿
func (b *Builder) Delay(d time.Duration) *Builder {
	return b.last(func(s *Step) { s.Delay = d })
}

// Inspect 为最后一步设置命中检查
func (b *Builder) Inspect(fn func(*Match) *Warning) *Builder {
	return b.last(func(s *Step) { s.Inspect = fn })
}

func (b *Builder) last(fn func(*Step)) *Builder {
	if len(b.steps) == 0 {
		b.err = fmt.Errorf("script %s: modifier used before any step", b.name)
		return b
	}
	fn(&b.steps[len(b.steps)-1])
	return b
}

// Build 校验并生成脚本
func (b *Builder) Build() (*Script, error) {
	if b.err != nil {
		return nil, b.err
	}
	if strings.TrimSpace(b.name) == "" {
		return nil, fmt.Errorf("script name is empty")
	}
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("script %s has no steps", b.name)
	}
	for i, s := range b.steps {
		if len(s.Send) == 0 && len(s.Expect) == 0 {
			return nil, fmt.Errorf("script %s step %d (%s): nothing to send or expect", b.name, i, s.Name)
		}
		if len(s.Expect) > 0 && s.Timeout <= 0 {
			return nil, fmt.Errorf("script %s step %d (%s): timeout must be positive", b.name, i, s.Name)
		}
		if s.Timeout < 0 || s.Delay < 0 {
			return nil, fmt.Errorf("script %s step %d (%s): negative duration", b.name, i, s.Name)
		}
		for j, e := range s.Expect {
			if e.Pattern.IsZero() {
				return nil, fmt.Errorf("script %s step %d (%s): pattern %d is empty", b.name, i, s.Name, j)
			}
		}
	}
	steps := make([]Step, len(b.steps))
	copy(steps, b.steps)
	return &Script{name: b.name, steps: steps}, nil
}

// MustBuild Build 失败时 panic
func (b *Builder) MustBuild() *Script {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
