package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"
)

// Redis stores values as plain redis strings.
type Redis struct {
	pool *redis.Pool
}

// NewRedisPool builds a connection pool for a redis:// URL.
func NewRedisPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle: 3,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(rawURL)
		},
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, rawURL)
		},
	}
}

func NewRedis(pool *redis.Pool) *Redis {
	return &Redis{pool: pool}
}

// Ping verifies the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("kv: redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("kv: redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv: redis connect: %w", err)
	}
	defer conn.Close()

	v, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", key))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv: redis GET %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("kv: redis connect: %w", err)
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "SET", key, value); err != nil {
		return fmt.Errorf("kv: redis SET %s: %w", key, err)
	}
	return nil
}
