package console

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/consoleprov/consoleprov/pkg/logger"
)

// Runner 在 Transport 上执行 Script
type Runner struct {
	dialer    Dialer
	viewer    Viewer
	observer  Observer
	poll      time.Duration
	maxBuffer int
}

// Option Runner 选项
type Option func(*Runner)

// WithViewer 会话期间启动本地查看器
func WithViewer(v Viewer) Option {
	return func(r *Runner) {
		if v != nil {
			r.viewer = v
		}
	}
}

// WithObserver 订阅会话事件
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithPollInterval 接收轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.poll = d }
}

// WithMaxBuffer 接收缓冲上限
func WithMaxBuffer(n int) Option {
	return func(r *Runner) { r.maxBuffer = n }
}

// NewRunner 创建 Runner
func NewRunner(dialer Dialer, opts ...Option) *Runner {
	r := &Runner{
		dialer:    dialer,
		viewer:    NopViewer{},
		observer:  NopObserver{},
		poll:      DefaultPollInterval,
		maxBuffer: DefaultMaxBuffer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 以新的会话 ID 执行脚本
func (r *Runner) Run(ctx context.Context, ep Endpoint, script *Script) *Result {
	return r.RunWithID(ctx, uuid.NewString(), ep, script)
}

// RunWithID 执行脚本直至成功或失败，返回前保证 Transport 已关闭。
// ctx 只约束连接阶段，步骤一旦开始只会因匹配或截止时间结束。
func (r *Runner) RunWithID(ctx context.Context, id string, ep Endpoint, script *Script) (res *Result) {
	s := &session{
		runner: r,
		res: &Result{
			ID:         id,
			Script:     script.Name(),
			Endpoint:   ep,
			Transcript: &Transcript{},
			StartedAt:  time.Now(),
		},
		log: logger.Session(id, ep.String(), script.Name()),
	}
	s.release = func() {}
	defer func() {
		// Inspect 等回调 panic 时仍关闭会话并返回结果
		if p := recover(); p != nil {
			s.fail(Outcome{Kind: KindTransportFailure, Step: -1, Cause: &TransportError{Op: "run", Step: -1,
				Err: fmt.Errorf("session panicked: %v", p)}})
		}
		s.close()
		res = s.res
	}()

	s.setState(StateConnecting, -1)
	if err := ep.Validate(); err != nil {
		s.fail(Outcome{Kind: KindTransportFailure, Step: -1, Cause: &TransportError{Op: "dial", Step: -1, Err: err}})
		return s.res
	}

	release, err := r.viewer.Start(ctx, ep)
	if err != nil {
		s.log.WithError(err).Warn("Console viewer failed to start")
	} else if release != nil {
		s.release = release
	}

	t, err := r.dialer.Dial(ctx, ep)
	if err != nil {
		s.fail(Outcome{Kind: KindTransportFailure, Step: -1, Cause: &TransportError{Op: "dial", Step: -1, Err: err}})
		return s.res
	}
	s.transport = t
	s.log.Info("Console connected")

	m := NewMatcher(t, r.poll, r.maxBuffer)
	for i := 0; i < script.Len(); i++ {
		s.setState(StateRunning, i)
		if !s.runStep(m, i, script.Step(i)) {
			return s.res
		}
	}

	s.res.Outcome = Outcome{Kind: KindSucceeded, Step: -1, Warnings: s.warnings}
	s.setState(StateSucceeded, -1)
	return s.res
}

type session struct {
	runner    *Runner
	res       *Result
	log       *logrus.Entry
	transport Transport
	release   func()
	warnings  []Warning
}

func (s *session) runStep(m *Matcher, i int, step Step) bool {
	start := time.Now()
	log := s.log.WithField(logger.FieldStep, step.Name)

	if step.Delay > 0 {
		time.Sleep(step.Delay)
	}

	if len(step.Send) > 0 {
		if err := s.transport.Send(step.Send); err != nil {
			s.stepDone(i, step, start, "", err)
			s.fail(Outcome{Kind: KindTransportFailure, Step: i, StepName: step.Name,
				Cause: &TransportError{Op: "send", Step: i, Err: err}})
			return false
		}
		s.res.Transcript.add(Sent, i, step.Send)
	}

	if len(step.Expect) == 0 {
		_, err := m.Drain(step.Timeout)
		s.received(m, i, step)
		if err != nil {
			// 关机后远端断开属于正常现象
			log.WithError(err).Debug("Console closed while draining output")
		}
		s.stepDone(i, step, start, "", nil)
		return true
	}

	match, err := m.WaitFor(step.Patterns(), step.Timeout)
	s.received(m, i, step)
	if err != nil {
		s.stepDone(i, step, start, "", err)
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrBufferOverflow) {
			s.fail(Outcome{Kind: KindStepTimeout, Step: i, StepName: step.Name, Awaiting: step.Labels(),
				Cause: &StepTimeoutError{Step: i, Name: step.Name, Awaiting: step.Labels(), Cause: err}})
			return false
		}
		s.fail(Outcome{Kind: KindTransportFailure, Step: i, StepName: step.Name, Awaiting: step.Labels(),
			Cause: &TransportError{Op: "receive", Step: i, Err: err}})
		return false
	}

	exp := step.Expect[match.Index]
	if exp.Action == Abort {
		abort := &AbortError{Step: i, Name: step.Name, Pattern: match.Label, Matched: string(match.Text)}
		s.stepDone(i, step, start, match.Label, abort)
		s.fail(Outcome{Kind: KindNoPatternMatch, Step: i, StepName: step.Name, Awaiting: step.Labels(),
			Matched: string(match.Text), Cause: abort})
		return false
	}

	if step.Inspect != nil {
		if w := step.Inspect(match); w != nil {
			w.Step = i
			s.warnings = append(s.warnings, *w)
			log.WithFields(logrus.Fields{"local": w.Local, "remote": w.Remote}).Warn(w.Message)
		}
	}

	s.stepDone(i, step, start, match.Label, nil)
	return true
}

// received 把本步骤期间到达的字节记为一条 Received，上一步残留在缓冲中的字节不重复记录
func (s *session) received(m *Matcher, i int, step Step) {
	data := m.Arrived()
	if len(data) == 0 {
		return
	}
	s.res.Transcript.add(Received, i, data)
	logger.DebugConsoleOutput(s.log, step.Name, string(data), 5)
}

func (s *session) stepDone(i int, step Step, start time.Time, matched string, err error) {
	s.runner.observer.StepDone(StepEvent{
		SessionID: s.res.ID,
		Script:    s.res.Script,
		Step:      i,
		Name:      step.Name,
		Duration:  time.Since(start),
		Matched:   matched,
		Err:       err,
	})
}

func (s *session) fail(o Outcome) {
	o.Warnings = s.warnings
	s.res.Outcome = o
	s.log.WithField(logger.FieldStep, o.StepName).Errorf("Console session failed: %v", o.Err())
	s.setState(StateFailed, -1)
}

func (s *session) setState(st State, step int) {
	if st == StateRunning {
		s.log.WithField(logger.FieldStep, step).Debug("Console step started")
	}
	s.runner.observer.StateChanged(StateEvent{
		SessionID: s.res.ID,
		Script:    s.res.Script,
		State:     st,
		Step:      step,
		Time:      time.Now(),
	})
}

// close 在所有路径上释放 Transport 与查看器，顺序固定：传输、Closed、查看器、通知
func (s *session) close() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.WithError(err).Debug("Console close returned error")
		}
	}
	s.res.EndedAt = time.Now()
	s.setState(StateClosed, -1)
	s.release()
	s.log.WithField("duration", s.res.Duration().String()).Infof("Console session closed: %s", s.res.Outcome)
	s.runner.observer.SessionClosed(s.res)
}
