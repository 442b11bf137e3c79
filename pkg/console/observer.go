package console

import "time"

// State 会话状态
type State string

const (
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateClosed     State = "closed"
)

// StateEvent 状态迁移事件
type StateEvent struct {
	SessionID string
	Script    string
	State     State
	// Step 仅 Running 有意义，其余为 -1
	Step int
	Time time.Time
}

// StepEvent 步骤完成事件（成功或失败）
type StepEvent struct {
	SessionID string
	Script    string
	Step      int
	Name      string
	Duration  time.Duration
	Matched   string
	Err       error
}

// Observer 会话事件订阅者，回调在会话所在 goroutine 中同步执行
type Observer interface {
	StateChanged(ev StateEvent)
	StepDone(ev StepEvent)
	SessionClosed(res *Result)
}

// NopObserver 空实现
type NopObserver struct{}

func (NopObserver) StateChanged(StateEvent) {}
func (NopObserver) StepDone(StepEvent)      {}
func (NopObserver) SessionClosed(*Result)   {}

// Observers 依次分发给多个订阅者
type Observers []Observer

func (obs Observers) StateChanged(ev StateEvent) {
	for _, o := range obs {
		o.StateChanged(ev)
	}
}

func (obs Observers) StepDone(ev StepEvent) {
	for _, o := range obs {
		o.StepDone(ev)
	}
}

func (obs Observers) SessionClosed(res *Result) {
	for _, o := range obs {
		o.SessionClosed(res)
	}
}
