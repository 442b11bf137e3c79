package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, l Leaser) {
	ctx := context.Background()

	release, err := l.Acquire(ctx, "10.0.0.1:5000", 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = l.Acquire(ctxTimeout, "10.0.0.1:5000", 5*time.Second)
	assert.ErrorIs(t, err, ErrHeld)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	other, err := l.Acquire(ctx, "10.0.0.1:5001", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	again, err := l.Acquire(ctx, "10.0.0.1:5000", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestMemoryLease(t *testing.T) {
	m := NewMemory()
	exercise(t, m)
	assert.Equal(t, 0, m.Held())
}

func TestMemoryLeaseExpires(t *testing.T) {
	m := NewMemory()
	stale, err := m.Acquire(context.Background(), "k", 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	fresh, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// 过期持有者的释放不影响新持有者
	require.NoError(t, stale(ctx))
	assert.Equal(t, 1, m.Held())
	require.NoError(t, fresh(ctx))
}

func TestRedisLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, "consoleprov:")
	exercise(t, l)

	release, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("consoleprov:lease:k"))
	require.NoError(t, release(context.Background()))
	assert.False(t, mr.Exists("consoleprov:lease:k"))
}

func TestRedisLeaseTokenCheckedRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	l := NewRedis(client, "")

	release, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	mr.Set("lease:k", "someone-else")

	require.NoError(t, release(context.Background()))
	assert.True(t, mr.Exists("lease:k"), "foreign holder untouched")
}
