package console

import (
	"fmt"
	"time"
)

// Kind 会话结果类别
type Kind string

const (
	KindSucceeded        Kind = "succeeded"
	KindStepTimeout      Kind = "step_timeout"
	KindNoPatternMatch   Kind = "no_pattern_match"
	KindTransportFailure Kind = "transport_failure"
)

// WarningKind 告警类别
type WarningKind string

// WarnChecksumMismatch 远端摘要与本地不一致
const WarnChecksumMismatch WarningKind = "checksum_mismatch"

// Warning 不终止会话的告警
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Step    int         `json:"step"`
	Message string      `json:"message"`
	Local   string      `json:"local,omitempty"`
	Remote  string      `json:"remote,omitempty"`
}

// Outcome 会话最终结果
type Outcome struct {
	Kind Kind `json:"kind"`
	// Step 失败步骤序号，与步骤无关时为 -1
	Step     int      `json:"step"`
	StepName string   `json:"step_name,omitempty"`
	Awaiting []string `json:"awaiting,omitempty"`
	Matched  string   `json:"matched,omitempty"`
	// Cause 为 *TransportError、*StepTimeoutError 或 *AbortError
	Cause    error     `json:"-"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Succeeded 是否成功
func (o Outcome) Succeeded() bool {
	return o.Kind == KindSucceeded
}

// HasWarning 是否带有指定告警
func (o Outcome) HasWarning(kind WarningKind) bool {
	for _, w := range o.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Err 成功时为 nil，否则为类型化错误
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	if o.Cause != nil {
		return o.Cause
	}
	return fmt.Errorf("session ended with %s at step %d", o.Kind, o.Step)
}

func (o Outcome) String() string {
	if o.Succeeded() {
		if len(o.Warnings) > 0 {
			return fmt.Sprintf("succeeded with %d warning(s)", len(o.Warnings))
		}
		return "succeeded"
	}
	return fmt.Sprintf("%s: %v", o.Kind, o.Err())
}

// Result 一次会话的结果与记录
type Result struct {
	ID         string      `json:"id"`
	Script     string      `json:"script"`
	Endpoint   Endpoint    `json:"endpoint"`
	Outcome    Outcome     `json:"outcome"`
	Transcript *Transcript `json:"-"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
}

// Duration 会话耗时
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
