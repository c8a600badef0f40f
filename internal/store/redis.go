package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/screenpilot/internal/domain"
)

// RedisMemories is a MemoryStore backed by Redis. Each memory is a hash
// and a sorted set orders keys by update time.
type RedisMemories struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisMemories connects to addr and verifies the connection.
func NewRedisMemories(ctx context.Context, addr, password, prefix string) (*RedisMemories, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DialTimeout: 20 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisMemoriesWithClient(client, prefix), nil
}

// NewRedisMemoriesWithClient wraps an existing client.
func NewRedisMemoriesWithClient(client redis.UniversalClient, prefix string) *RedisMemories {
	if prefix == "" {
		prefix = "screenpilot:"
	}
	return &RedisMemories{client: client, prefix: prefix}
}

func (r *RedisMemories) indexKey() string { return r.prefix + "memories" }

func (r *RedisMemories) itemKey(key string) string { return r.prefix + "memory:" + key }

// Remember creates or replaces the memory stored under item.Key.
func (r *RedisMemories) Remember(ctx context.Context, item domain.MemoryItem) error {
	if item.Key == "" {
		return errors.New("remember: key is required")
	}
	if item.Category == "" {
		item.Category = domain.DefaultMemoryCategory
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}
	ms := item.Timestamp.UnixMilli()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.itemKey(item.Key),
			"value", item.Value,
			"category", item.Category,
			"updated_at", ms,
		)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(ms), Member: item.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("remember %q: %w", item.Key, err)
	}
	return nil
}

// ContextMemories returns up to limit memories, most recently updated first.
func (r *RedisMemories) ContextMemories(ctx context.Context, limit int) ([]domain.MemoryItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	keys, err := r.client.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list memory keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, r.itemKey(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	items := make([]domain.MemoryItem, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		ms, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
		items = append(items, domain.MemoryItem{
			Key:       keys[i],
			Value:     fields["value"],
			Category:  fields["category"],
			Timestamp: time.UnixMilli(ms).UTC(),
		})
	}
	return items, nil
}

// Close closes the Redis client.
func (r *RedisMemories) Close() error {
	return r.client.Close()
}
