package console

import (
	"bytes"
	"fmt"
	"regexp"
)

// Pattern 字面量或正则匹配，附带诊断用标签
type Pattern struct {
	label   string
	literal []byte
	re      *regexp.Regexp
}

// Literal 字面量匹配
func Literal(s string) Pattern {
	return Pattern{label: s, literal: []byte(s)}
}

// Regexp 编译正则匹配
func Regexp(expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{label: expr, re: re}, nil
}

// MustRegexp 编译失败时 panic，仅用于常量表达式
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// WithLabel 返回更换标签后的副本
func (p Pattern) WithLabel(label string) Pattern {
	p.label = label
	return p
}

// Label 诊断标签
func (p Pattern) Label() string {
	return p.label
}

// IsRegexp 是否为正则
func (p Pattern) IsRegexp() bool {
	return p.re != nil
}

// IsZero 未初始化
func (p Pattern) IsZero() bool {
	return p.re == nil && len(p.literal) == 0
}

// find 在 buf 中查找，返回匹配结束位置与捕获组（组 0 为整体匹配）
func (p Pattern) find(buf []byte) (int, []string, bool) {
	if p.re != nil {
		loc := p.re.FindSubmatchIndex(buf)
		if loc == nil {
			return 0, nil, false
		}
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = string(buf[loc[2*i]:loc[2*i+1]])
			}
		}
		return loc[1], groups, true
	}
	if len(p.literal) == 0 {
		return 0, nil, false
	}
	idx := bytes.Index(buf, p.literal)
	if idx < 0 {
		return 0, nil, false
	}
	return idx + len(p.literal), []string{string(p.literal)}, true
}
