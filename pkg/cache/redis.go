package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consoleprov/consoleprov/internal/config"
	"github.com/consoleprov/consoleprov/pkg/logger"
)

// ErrMiss 键不存在
var ErrMiss = errors.New("cache miss")

var (
	rdb   *redis.Client
	store *Store
)

// InitRedis 初始化Redis连接，Host 为空表示不使用Redis
func InitRedis(cfg config.RedisConfig) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	rdb = client
	store = New(client, cfg.Prefix)
	logger.Info("Redis cache initialized successfully")
	return nil
}

// GetRedis 获取Redis客户端，未启用时返回 nil
func GetRedis() *redis.Client {
	return rdb
}

// Default 全局缓存，未启用时返回 nil
func Default() *Store {
	return store
}

// Close 关闭Redis连接
func Close() error {
	if rdb != nil {
		err := rdb.Close()
		rdb, store = nil, nil
		return err
	}
	return nil
}

// Health 检查Redis健康状态
func Health(ctx context.Context) error {
	if rdb == nil {
		return fmt.Errorf("redis not initialized")
	}
	return rdb.Ping(ctx).Err()
}

// GetStats 获取连接池统计信息
func GetStats() map[string]interface{} {
	if rdb == nil {
		return nil
	}
	ps := rdb.PoolStats()
	return map[string]interface{}{
		"hits":        ps.Hits,
		"misses":      ps.Misses,
		"timeouts":    ps.Timeouts,
		"total_conns": ps.TotalConns,
		"idle_conns":  ps.IdleConns,
		"stale_conns": ps.StaleConns,
	}
}

// Store 带键前缀的 JSON 缓存
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New 基于已有客户端创建缓存
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string {
	return s.prefix + "cache:" + k
}

// Set 设置缓存
func (s *Store) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.client.Set(ctx, s.key(key), data, expiration).Err()
}

// Get 获取缓存，不存在时返回 ErrMiss
func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrMiss, key)
		}
		return fmt.Errorf("failed to get value: %w", err)
	}
	return json.Unmarshal(data, dest)
}

// Del 删除缓存
func (s *Store) Del(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// TTL 获取剩余过期时间
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, s.key(key)).Result()
}
