package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 控制台输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
	Total     int      `json:"total"`
}

// ParseOutputLines 提取控制台输出的头尾行，maxLines 为头尾各自的最大行数
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}

	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputLines{}
	}

	lines := strings.Split(output, "\n")
	total := len(lines)
	if total <= maxLines {
		return OutputLines{HeadLines: lines, Total: total}
	}
	head := make([]string, maxLines)
	copy(head, lines[:maxLines])
	tail := make([]string, maxLines)
	copy(tail, lines[total-maxLines:])
	return OutputLines{HeadLines: head, TailLines: tail, Total: total}
}

// FormatOutputLines 格式化为单行，用于日志
func FormatOutputLines(lines OutputLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

// DebugConsoleOutput 在 debug 级别记录某一步收到的控制台输出
func DebugConsoleOutput(entry *logrus.Entry, step string, output string, maxLines int) {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	lines := ParseOutputLines(output, maxLines)
	if lines.Total == 0 {
		return
	}
	entry.WithField(FieldStep, step).Debugf("Console output (%d lines): %s", lines.Total, FormatOutputLines(lines))
}
