package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// New returns a Redis-backed store when an address is configured, otherwise
// an in-process one.
func New(ctx context.Context, opts Options) (KVStore, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return NewMemoryKVStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisKVStore(client), nil
}
