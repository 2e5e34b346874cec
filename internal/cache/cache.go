// Package cache stores inference responses so reruns over the same pages
// do not pay for the remote call again.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryClient is an in-process cache. Entries are dropped lazily on read.
type MemoryClient struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Close() error {
	return nil
}

// Options selects and configures a cache backend.
type Options struct {
	Backend string // none, memory, sqlite, redis
	Path    string
	Redis   RedisConfig
}

// New opens the configured backend. Backend "none" returns a nil Client.
func New(opts Options) (Client, error) {
	switch opts.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryClient(), nil
	case "sqlite":
		c, err := NewSQLiteClient(opts.Path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		c, err := NewRedisClient(opts.Redis)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.New("unknown cache backend: " + opts.Backend)
	}
}
