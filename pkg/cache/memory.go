package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a thread-safe in-process cache. A janitor goroutine evicts
// expired entries until Close is called.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewMemory creates a cache that sweeps expired entries every interval.
func NewMemory(interval time.Duration) *Memory {
	m := &Memory{data: make(map[string]entry), now: time.Now, stop: make(chan struct{})}
	if interval > 0 {
		go m.janitor(interval)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value. ttl <= 0 keeps the entry until Close.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	for k, e := range m.data {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.data, k)
		}
	}
	m.mu.Unlock()
}

func (m *Memory) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.sweep()
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}
