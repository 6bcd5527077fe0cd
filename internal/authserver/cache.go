package authserver

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// stateCache is a short-lived, size-bounded store keyed by an opaque
// state/code string: the authorization-params cache between Authorize and
// the callback, and the authorization-code cache between the callback and
// the token exchange. Both round trips are seconds-to-minutes long, so a
// small expirable LRU (rather than anything durable) matches the teacher's
// in-memory AsyncMemoryCache fixture.
type stateCache[V any] struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, V]
}

func newStateCache[V any](ttl time.Duration) *stateCache[V] {
	return &stateCache[V]{lru: expirable.NewLRU[string, V](1024, nil, ttl)}
}

func (c *stateCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

func (c *stateCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *stateCache[V]) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}
