package infra

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// MemoryLedgerStore keeps the ledger in process memory. Used for replays
// and as the `memory` storage type.
type MemoryLedgerStore struct {
	mu     sync.Mutex
	ledger domain.UsageLedger
	closed bool
}

// NewMemoryLedgerStore creates a store seeded with initial.
func NewMemoryLedgerStore(initial domain.UsageLedger) *MemoryLedgerStore {
	return &MemoryLedgerStore{ledger: initial}
}

func (s *MemoryLedgerStore) Load(ctx context.Context) (domain.UsageLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.UsageLedger{}, errClosed
	}
	return s.ledger, nil
}

func (s *MemoryLedgerStore) SaveUsed(ctx context.Context, used time.Duration) error {
	return s.update(func(l *domain.UsageLedger) { l.Used = used })
}

func (s *MemoryLedgerStore) MarkIntroSeen(ctx context.Context) error {
	return s.update(func(l *domain.UsageLedger) { l.SeenIntro = true })
}

func (s *MemoryLedgerStore) SetOverrideUntil(ctx context.Context, until time.Time) error {
	return s.update(func(l *domain.UsageLedger) { l.OverrideUntil = until })
}

func (s *MemoryLedgerStore) update(fn func(*domain.UsageLedger)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	fn(&s.ledger)
	return nil
}

func (s *MemoryLedgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ domain.LedgerStore = (*MemoryLedgerStore)(nil)
