package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lox/cityweather/internal/models"
)

const (
	DefaultRedisPrefix = "cityweather:"
	redisTimeout       = 5 * time.Second
)

// Redis keeps preferences as plain string keys under a prefix and the lookup
// log as a capped list.
type Redis struct {
	client *redis.Client
	prefix string
}

// ConnectRedis parses url, pings the server and returns a backend.
func ConnectRedis(url, prefix string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedis(client, prefix), nil
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + "prefs:" + k
}

func (r *Redis) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) RecordLookup(l models.Lookup) error {
	if l.LookedUpAt.IsZero() {
		l.LookedUpAt = time.Now().UTC()
	}
	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lookup: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	listKey := r.prefix + "lookups"
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, listKey, b)
	pipe.LTrim(ctx, listKey, 0, DefaultLookupLimit-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *Redis) RecentLookups(limit int) ([]models.Lookup, error) {
	if limit = lookupLimit(limit); limit > DefaultLookupLimit {
		limit = DefaultLookupLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	items, err := r.client.LRange(ctx, r.prefix+"lookups", 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	lookups := make([]models.Lookup, 0, len(items))
	for _, item := range items {
		var l models.Lookup
		if err := json.Unmarshal([]byte(item), &l); err != nil {
			continue
		}
		lookups = append(lookups, l)
	}
	return lookups, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
