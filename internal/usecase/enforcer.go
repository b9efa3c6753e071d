// Package usecase contains application business logic.
package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
)

// DefaultRedirectDelay lets the eviction settle before the control surface is raised.
const DefaultRedirectDelay = 300 * time.Millisecond

// Enforcement is what the session tracker calls on a budget breach.
type Enforcement interface {
	Enforce(ctx context.Context, total time.Duration)
}

// Companion is what the session tracker calls for the first-use interstitial.
type Companion interface {
	Launch(ctx context.Context, route domain.RouteHint)
}

// BudgetEnforcer evicts the restricted app and redirects to the control surface.
type BudgetEnforcer struct {
	control   domain.PlatformControl
	companion Companion
	scheduler domain.Scheduler
	delay     time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]func() bool // redirects not yet fired
	closed  atomic.Bool
}

// NewBudgetEnforcer creates a new budget enforcer.
func NewBudgetEnforcer(
	control domain.PlatformControl,
	companion Companion,
	scheduler domain.Scheduler,
	delay time.Duration,
	logger *zap.Logger,
) *BudgetEnforcer {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	return &BudgetEnforcer{
		control:   control,
		companion: companion,
		scheduler: scheduler,
		delay:     delay,
		logger:    logger,
		pending:   make(map[uint64]func() bool),
	}
}

// Enforce runs the block action. The caller must have committed total to the
// ledger already. The redirect is deferred and never blocks the caller.
func (e *BudgetEnforcer) Enforce(ctx context.Context, total time.Duration) {
	metrics.EnforcementsTotal.Inc()

	// Eviction first; launching before it completes lets the eviction steal focus back.
	if err := e.control.GoHome(ctx); err != nil {
		e.logger.Warn("failed to evict restricted app",
			zap.Duration("total", total),
			zap.Error(err))
	} else {
		e.logger.Info("evicted restricted app",
			zap.Duration("total", total))
	}

	if e.closed.Load() {
		return
	}

	e.mu.Lock()
	e.seq++
	id := e.seq
	e.pending[id] = nil
	e.mu.Unlock()

	cancel := e.scheduler.AfterFunc(e.delay, func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		if e.closed.Load() {
			return
		}
		e.companion.Launch(context.Background(), domain.RouteReason)
	})

	// A scheduler may run the redirect inline; only unfired ones are kept.
	e.mu.Lock()
	if _, ok := e.pending[id]; ok {
		e.pending[id] = cancel
	}
	e.mu.Unlock()
}

// Close cancels every pending redirect. Enforce calls after Close only evict.
func (e *BudgetEnforcer) Close() {
	e.closed.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.pending {
		if cancel != nil {
			cancel()
		}
		delete(e.pending, id)
	}
}

// Pending returns the number of scheduled redirects that have not fired.
func (e *BudgetEnforcer) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Ensure BudgetEnforcer satisfies the tracker's dependency.
var _ Enforcement = (*BudgetEnforcer)(nil)
var _ Companion = (*CompanionBridge)(nil)
