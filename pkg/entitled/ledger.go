package entitled

import (
	"context"
	"sync"
	"time"
)

// MemoryEventLedger is an in-memory EventLedger with TTL-bounded entries.
// Suitable for single-process deployments and tests; multi-instance
// deployments should use the redis-backed ledger instead.
type MemoryEventLedger struct {
	mu           sync.Mutex
	seen         map[string]time.Time
	requestCount int
	now          func() time.Time
}

// NewMemoryEventLedger creates an empty in-memory event ledger.
func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// MarkSeen implements EventLedger.
func (l *MemoryEventLedger) MarkSeen(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// Deterministic cleanup every N calls to keep the map bounded.
	l.requestCount++
	if l.requestCount%100 == 0 || len(l.seen) > 10000 {
		for id, expiresAt := range l.seen {
			if now.After(expiresAt) {
				delete(l.seen, id)
			}
		}
	}

	if expiresAt, ok := l.seen[eventID]; ok && now.Before(expiresAt) {
		return true, nil
	}
	l.seen[eventID] = now.Add(ttl)
	return false, nil
}
