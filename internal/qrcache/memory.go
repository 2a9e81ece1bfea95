package qrcache

import (
	"context"
	"sync"
	"time"

	EventBus "github.com/asaskevich/EventBus"
)

type entry struct {
	payload string
	expires time.Time
}

// Memory is the in-process Cache. Expired entries are invisible to Get and
// reclaimed by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	bus     EventBus.Bus
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		bus:     EventBus.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Set(_ context.Context, instanceID, payload string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[instanceID] = entry{payload: payload, expires: m.now().Add(ttl)}
	m.mu.Unlock()
	m.bus.Publish(key(instanceID), payload)
	return nil
}

func (m *Memory) Get(_ context.Context, instanceID string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[instanceID]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.payload, true, nil
}

func (m *Memory) Delete(_ context.Context, instanceID string) error {
	m.mu.Lock()
	_, ok := m.entries[instanceID]
	delete(m.entries, instanceID)
	m.mu.Unlock()
	if ok {
		m.bus.Publish(key(instanceID), "")
	}
	return nil
}

func (m *Memory) Subscribe(instanceID string, fn func(payload string)) func() {
	topic := key(instanceID)
	_ = m.bus.Subscribe(topic, fn)
	return func() {
		_ = m.bus.Unsubscribe(topic, fn)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
