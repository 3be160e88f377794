// Package storage persists the per-user task snapshot and pending-action
// queue. It is a best-effort mirror of the sync store, never a source of
// truth.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
	Redis       *RedisConfig
	SQL         *SQLConfig
}

// Open builds the KV backend named by opts.Driver.
func Open(opts Options) (KV, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverMemory:
		return NewMemoryKV(), nil
	case DriverRedis:
		kv := NewRedisKV(opts.Redis)
		return kv, nil
	case DriverSQLite:
		return OpenSQLite(opts.SQLitePath, opts.SQL)
	case DriverPostgres:
		return OpenPostgres(opts.PostgresDSN, opts.SQL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// MemoryKV keeps values in process memory. Nothing survives a restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Health(ctx context.Context) error { return nil }

func (m *MemoryKV) Close() error { return nil }
