// Package credentials stores OAuth token sets per server/session key so an
// mcpclient session can be re-authenticated without repeating the
// authorization-code dance (spec §4.3, §4.5). Store implementations are
// interchangeable: Memory for tests and single-process runs, Redis for
// anything that needs the store to outlive a process.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists and retrieves opaque credential documents (access_token,
// refresh_token, expires_at, scope, ...) by key. Keys are caller-chosen,
// for example a server ID or a client_id.
type Store interface {
	Store(ctx context.Context, key string, data map[string]any) error
	Load(ctx context.Context, key string) (map[string]any, bool, error)
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store, the default used when no external store
// is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]any{}}
}

func (m *Memory) Store(_ context.Context, key string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]map[string]any{}
	}
	clone := make(map[string]any, len(data))
	for k, v := range data {
		clone[k] = v
	}
	m.data[key] = clone
	return nil
}

func (m *Memory) Load(_ context.Context, key string) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	clone := make(map[string]any, len(v))
	for k, vv := range v {
		clone[k] = vv
	}
	return clone, true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Redis is a Store backed by redis.UniversalClient, for deployments that
// run more than one engine process against the same set of servers.
type Redis struct {
	client     redis.UniversalClient
	keyPrefix  string
	expiration time.Duration
}

func NewRedis(client redis.UniversalClient, keyPrefix string, expiration time.Duration) *Redis {
	if keyPrefix == "" {
		keyPrefix = "jotsu:credentials:"
	}
	return &Redis{client: client, keyPrefix: keyPrefix, expiration: expiration}
}

func (r *Redis) redisKey(key string) string {
	return r.keyPrefix + key
}

func (r *Redis) Store(ctx context.Context, key string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("credentials: marshal %q: %w", key, err)
	}
	if err := r.client.Set(ctx, r.redisKey(key), payload, r.expiration).Err(); err != nil {
		return fmt.Errorf("credentials: store %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string) (map[string]any, bool, error) {
	payload, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("credentials: load %q: %w", key, err)
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, fmt.Errorf("credentials: decode %q: %w", key, err)
	}
	return out, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("credentials: delete %q: %w", key, err)
	}
	return nil
}
