package consoletest

import (
	"sync"

	"github.com/consoleprov/consoleprov/pkg/console"
)

// Recorder 记录会话事件的 console.Observer
type Recorder struct {
	mu     sync.Mutex
	states []console.State
	steps  []console.StepEvent
	closed []*console.Result
}

func (r *Recorder) StateChanged(ev console.StateEvent) {
	r.mu.Lock()
	r.states = append(r.states, ev.State)
	r.mu.Unlock()
}

func (r *Recorder) StepDone(ev console.StepEvent) {
	r.mu.Lock()
	r.steps = append(r.steps, ev)
	r.mu.Unlock()
}

func (r *Recorder) SessionClosed(res *console.Result) {
	r.mu.Lock()
	r.closed = append(r.closed, res)
	r.mu.Unlock()
}

// States 状态序列（相邻重复的 Running 合并）
func (r *Recorder) States() []console.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []console.State
	for _, s := range r.states {
		if len(out) > 0 && out[len(out)-1] == s && s == console.StateRunning {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Steps 步骤事件
func (r *Recorder) Steps() []console.StepEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]console.StepEvent(nil), r.steps...)
}

// Closed SessionClosed 收到的结果
func (r *Recorder) Closed() []*console.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*console.Result(nil), r.closed...)
}
