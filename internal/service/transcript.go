package service

import (
	"fmt"
	"strings"

	"github.com/consoleprov/consoleprov/internal/model"
	"github.com/consoleprov/consoleprov/internal/util"
	"github.com/consoleprov/consoleprov/pkg/console"
)

// TranscriptEntries 转为持久化条目，数据按 UTF-8 保存
func TranscriptEntries(res *console.Result) []model.TranscriptEntry {
	if res == nil || res.Transcript == nil {
		return nil
	}
	entries := res.Transcript.Entries()
	out := make([]model.TranscriptEntry, len(entries))
	for i, e := range entries {
		out[i] = model.TranscriptEntry{
			Seq:       i,
			Step:      e.Step,
			Direction: string(e.Direction),
			Data:      util.EnsureUTF8Bytes(e.Data),
			Time:      e.Time,
		}
	}
	return out
}

// RenderTranscript 归档用的可读文本
func RenderTranscript(res *console.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# session %s script %s endpoint %s\n", res.ID, res.Script, res.Endpoint)
	fmt.Fprintf(&b, "# started %s ended %s outcome %s\n", res.StartedAt.Format("2006-01-02 15:04:05"),
		res.EndedAt.Format("2006-01-02 15:04:05"), res.Outcome)
	for _, w := range res.Outcome.Warnings {
		fmt.Fprintf(&b, "# warning step %d: %s\n", w.Step, w.Message)
	}
	if res.Transcript == nil {
		return b.String()
	}
	for _, e := range res.Transcript.Entries() {
		marker := "<<<"
		if e.Direction == console.Sent {
			marker = ">>>"
		}
		text := util.ConsoleText(e.Data)
		fmt.Fprintf(&b, "%s [%s] step %d\n%s", marker, e.Time.Format("15:04:05.000"), e.Step, text)
		if !strings.HasSuffix(text, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
