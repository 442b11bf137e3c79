// Package lease 保证同一控制台端点同时只有一个会话
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld 租约被其他会话持有且等待超时
var ErrHeld = errors.New("console lease is held by another session")

// ReleaseFunc 释放租约
type ReleaseFunc func(ctx context.Context) error

// Leaser 端点租约
type Leaser interface {
	// Acquire 轮询直到获得租约或 ctx 结束
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
}

const pollInterval = 100 * time.Millisecond

type holder struct {
	token   string
	expires time.Time
}

// Memory 进程内租约
type Memory struct {
	mutex   sync.Mutex
	holders map[string]holder
}

// NewMemory 创建进程内租约
func NewMemory() *Memory {
	return &Memory{holders: make(map[string]holder)}
}

// Acquire 实现 Leaser
func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	token := uuid.NewString()
	for {
		if m.tryAcquire(key, token, ttl) {
			return func(context.Context) error {
				m.mutex.Lock()
				defer m.mutex.Unlock()
				if h, ok := m.holders[key]; ok && h.token == token {
					delete(m.holders, key)
				}
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrHeld, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (m *Memory) tryAcquire(key, token string, ttl time.Duration) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	if h, ok := m.holders[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return false
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	m.holders[key] = holder{token: token, expires: expires}
	return true
}

// Held 当前持有的租约数（过期的不计）
func (m *Memory) Held() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	now := time.Now()
	for _, h := range m.holders {
		if h.expires.IsZero() || now.Before(h.expires) {
			n++
		}
	}
	return n
}
