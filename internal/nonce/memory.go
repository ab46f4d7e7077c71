package nonce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"easybox-network/internal/clock"
)

// MemoryStore holds nonces in a map protected by a RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // value = expiry timestamp
	clock   clock.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		clock:   clk,
		stop:    make(chan struct{}),
	}
}

func (m *MemoryStore) Remember(ctx context.Context, nonce string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.entries[nonce]; ok && exp.After(m.clock.Now()) {
		return &ReplayError{Nonce: nonce}
	}
	m.entries[nonce] = until
	return nil
}

func (m *MemoryStore) Seen(ctx context.Context, nonce string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.entries[nonce]
	return ok && exp.After(m.clock.Now())
}

func (m *MemoryStore) ExpireNonces(ctx context.Context) error {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, exp := range m.entries {
		if !exp.After(now) {
			slog.Debug("Pruning expired nonce", "nonce", k)
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the janitor
func (m *MemoryStore) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *MemoryStore) stopped() <-chan struct{} { return m.stop }
