// Package cache keeps the distinct values of catalog fields served by the
// introspection endpoint. Values live in process (an expiring LRU) or, when
// several API instances share them, in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Loader computes the values of a key on a miss.
type Loader func(ctx context.Context) ([]string, error)

// Options configures a Cache.
type Options struct {
	TTL      time.Duration
	Size     int
	RedisURL string
}

type backend interface {
	get(ctx context.Context, key string) ([]string, bool, error)
	set(ctx context.Context, key string, values []string) error
	close() error
}

// Cache is a read-through cache of string lists.
type Cache struct {
	b     backend
	loads singleflight.Group
}

// New returns a cache backed by Redis when opts.RedisURL is set, and by an
// in-process LRU otherwise.
func New(ctx context.Context, opts Options) (*Cache, error) {
	if opts.RedisURL == "" {
		return NewLocal(opts.Size, opts.TTL), nil
	}
	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, opts.TTL), nil
}

// NewLocal returns an in-process cache holding at most size keys.
func NewLocal(size int, ttl time.Duration) *Cache {
	return &Cache{b: &local{lru: expirable.NewLRU[string, []string](size, nil, ttl)}}
}

// NewRedis returns a cache stored in Redis. The client is closed by Close.
func NewRedis(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{b: &remote{client: client, ttl: ttl}}
}

// Values returns the cached values of key, calling load on a miss.
// Concurrent misses of one key share a single load. A failing Redis
// degrades to loading on every call.
func (c *Cache) Values(ctx context.Context, key string, load Loader) ([]string, error) {
	values, ok, err := c.b.get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
	}
	if ok {
		return values, nil
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		values, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.b.set(ctx, key, values); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.b.close()
}

// Key builds the cache key of a field's distinct values.
func Key(index, field string) string {
	return "chimera:distinct:" + index + ":" + field
}

type local struct {
	lru *expirable.LRU[string, []string]
}

func (l *local) get(_ context.Context, key string) ([]string, bool, error) {
	v, ok := l.lru.Get(key)
	return v, ok, nil
}

func (l *local) set(_ context.Context, key string, values []string) error {
	l.lru.Add(key, values)
	return nil
}

func (l *local) close() error {
	l.lru.Purge()
	return nil
}

type remote struct {
	client *redis.Client
	ttl    time.Duration
}

func (r *remote) get(ctx context.Context, key string) ([]string, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return values, true, nil
}

func (r *remote) set(ctx context.Context, key string, values []string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, r.ttl).Err()
}

func (r *remote) close() error {
	return r.client.Close()
}
