package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// RedisEngine stores values as Redis strings
type RedisEngine struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisEngine connects to Redis and verifies the connection
func NewRedisEngine(cfg *RedisConfig, logger *zap.Logger) (*RedisEngine, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisEngineFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisEngineFromClient wraps an existing client
func NewRedisEngineFromClient(client *redis.Client, prefix string, logger *zap.Logger) *RedisEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisEngine{client: client, prefix: prefix, logger: logger}
}

func (e *RedisEngine) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := e.client.Get(ctx, e.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (e *RedisEngine) Put(ctx context.Context, key string, value []byte) error {
	if err := e.client.Set(ctx, e.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (e *RedisEngine) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (e *RedisEngine) Close() error {
	return e.client.Close()
}
