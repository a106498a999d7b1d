package store

import (
	"context"
	"sync"
	"time"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
)

// MemoryLockManager is an in-process domain.LockManager for tests and
// single-node development. The TTL is ignored: locks live until released.
type MemoryLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{held: make(map[string]bool)}
}

func (m *MemoryLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	release := func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}
	return release, nil
}
