package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consoleprov/consoleprov/internal/config"
)

type endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func TestStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := New(client, "p:")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "node-1", endpoint{Host: "10.0.0.1", Port: 5000}, time.Minute))
	assert.True(t, mr.Exists("p:cache:node-1"))

	var got endpoint
	require.NoError(t, s.Get(ctx, "node-1", &got))
	assert.Equal(t, endpoint{Host: "10.0.0.1", Port: 5000}, got)

	require.NoError(t, s.Del(ctx, "node-1"))
	err := s.Get(ctx, "node-1", &got)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := New(client, "")
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", 1, time.Second))
	mr.FastForward(2 * time.Second)

	var v int
	assert.ErrorIs(t, s.Get(ctx, "k", &v), ErrMiss)
}

func TestInitRedis(t *testing.T) {
	require.NoError(t, InitRedis(config.RedisConfig{}))
	assert.Nil(t, GetRedis())
	assert.Error(t, Health(context.Background()))

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	require.NoError(t, InitRedis(config.RedisConfig{Host: mr.Host(), Port: port, Prefix: "x:"}))
	defer Close()
	assert.NotNil(t, Default())
	assert.NoError(t, Health(context.Background()))
	assert.NotNil(t, GetStats())
}
