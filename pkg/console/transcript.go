package console

import (
	"bytes"
	"time"
)

// Direction 数据方向
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Entry 一条收发记录
type Entry struct {
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
	Time      time.Time `json:"time"`
	Step      int       `json:"step"`
}

// Transcript 只追加的会话记录，由产生它的 Runner 独占写入
type Transcript struct {
	entries []Entry
}

func (t *Transcript) add(dir Direction, step int, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	t.entries = append(t.entries, Entry{Direction: dir, Data: cp, Time: time.Now(), Step: step})
}

// Len 条目数
func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries 条目副本
func (t *Transcript) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Bytes 按顺序拼接某一方向的全部数据
func (t *Transcript) Bytes(dir Direction) []byte {
	var buf bytes.Buffer
	if t == nil {
		return nil
	}
	for _, e := range t.entries {
		if e.Direction == dir {
			buf.Write(e.Data)
		}
	}
	return buf.Bytes()
}
