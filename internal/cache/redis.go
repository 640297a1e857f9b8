package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis shares the seen-set across restarts and between bot instances.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis не отвечает: %w", err)
	}
	return &Redis{rdb: rdb, ttl: cfg.TTL}, nil
}

func seenKey(mint string) string {
	return "snipebot:seen:" + mint
}

func (r *Redis) MarkSeen(ctx context.Context, mint string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, seenKey(mint), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("Не удалось отметить токен %s в redis: %w", mint, err)
	}
	return ok, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
