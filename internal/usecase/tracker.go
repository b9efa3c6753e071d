package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
)

// DefaultRearmAfter is how long residual restricted-app signals are ignored
// after an enforcement when no other app has come to the foreground.
const DefaultRearmAfter = 5 * time.Second

// Outcome is what the tracker did with one signal.
type Outcome string

const (
	OutcomeFiltered Outcome = "filtered" // dropped before reaching the tracker
	OutcomeIgnored  Outcome = "ignored"  // other app while idle
	OutcomeOpened   Outcome = "opened"
	OutcomeExtended Outcome = "extended"
	OutcomeClosed   Outcome = "closed"
	OutcomeOverride Outcome = "override"
	OutcomeEnforced Outcome = "enforced"
	OutcomeBlocked  Outcome = "blocked" // residual signal of an enforced breach
	OutcomeSkipped  Outcome = "skipped" // ledger unreadable, no information this tick
)

// TrackerState names the tracker's current state.
type TrackerState string

const (
	StateIdle     TrackerState = "idle"
	StateTracking TrackerState = "tracking"
	StateBlocked  TrackerState = "blocked"
)

// TrackerConfig holds session tracker configuration.
type TrackerConfig struct {
	AppIDs     []string      // identifiers of the restricted app
	Budget     time.Duration // usage budget
	RearmAfter time.Duration // residual-signal window after enforcement
}

// SessionTracker accounts foreground time of the restricted app and triggers
// enforcement when the budget is reached. It is not safe for concurrent use:
// the host delivers events serially.
type SessionTracker struct {
	store     domain.LedgerStore
	enforcer  Enforcement
	companion Companion
	appIDs    map[string]struct{}
	budget    time.Duration
	rearm     time.Duration
	logger    *zap.Logger

	session    domain.Session
	blockedAt  time.Time // zero unless an enforced breach is settling
	introShown bool      // covers a ledger that failed to record SeenIntro
}

// NewSessionTracker creates a tracker in the idle state.
func NewSessionTracker(
	config TrackerConfig,
	store domain.LedgerStore,
	enforcer Enforcement,
	companion Companion,
	logger *zap.Logger,
) *SessionTracker {
	ids := make(map[string]struct{}, len(config.AppIDs))
	for _, id := range config.AppIDs {
		ids[id] = struct{}{}
	}
	rearm := config.RearmAfter
	if rearm <= 0 {
		rearm = DefaultRearmAfter
	}
	return &SessionTracker{
		store:     store,
		enforcer:  enforcer,
		companion: companion,
		appIDs:    ids,
		budget:    config.Budget,
		rearm:     rearm,
		logger:    logger,
	}
}

// IsRestricted reports whether app identifies the restricted app.
func (t *SessionTracker) IsRestricted(app string) bool {
	_, ok := t.appIDs[app]
	return ok
}

// State returns the current state.
func (t *SessionTracker) State() TrackerState {
	switch {
	case t.session.Active:
		return StateTracking
	case !t.blockedAt.IsZero():
		return StateBlocked
	default:
		return StateIdle
	}
}

// Session returns a copy of the transient session.
func (t *SessionTracker) Session() domain.Session {
	return t.session
}

// Handle applies one signal. The signal's ObservedAt is the tracker's "now".
func (t *SessionTracker) Handle(ctx context.Context, sig domain.ForegroundSignal) Outcome {
	var outcome Outcome
	if t.IsRestricted(sig.SourceApp) {
		outcome = t.enter(ctx, sig.ObservedAt)
	} else {
		outcome = t.leave(ctx, sig.ObservedAt)
	}
	metrics.SessionsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// enter handles a signal from the restricted app.
func (t *SessionTracker) enter(ctx context.Context, now time.Time) Outcome {
	ledger, err := t.load(ctx)
	if err != nil {
		return OutcomeSkipped
	}

	if !ledger.SeenIntro && !t.introShown {
		t.introShown = true
		_ = t.retry("mark_intro", func() error { return t.store.MarkIntroSeen(ctx) })
		t.logger.Info("first restricted-app open, launching companion")
		t.companion.Launch(ctx, domain.RouteNone)
	}

	if ledger.OverrideActive(now) {
		if t.session.Active {
			t.logger.Info("override active, discarding session",
				zap.Time("started_at", t.session.StartedAt),
				zap.Time("override_until", ledger.OverrideUntil))
		}
		t.session = domain.Session{}
		t.blockedAt = time.Time{}
		return OutcomeOverride
	}

	if t.blocked(now) {
		return OutcomeBlocked
	}

	outcome := OutcomeExtended
	if !t.session.Active {
		t.session = domain.Session{Active: true, StartedAt: now}
		outcome = OutcomeOpened
		t.logger.Debug("session opened", zap.Time("started_at", now))
	}

	// Re-derived from StartedAt so duplicate notifications never double count.
	total := ledger.Used + t.session.Elapsed(now)
	if total < t.budget {
		return outcome
	}

	// Commit happens before eviction so a crash mid-enforcement keeps the time.
	t.commit(ctx, total)
	t.session = domain.Session{}
	t.blockedAt = now

	t.logger.Info("budget reached, enforcing",
		zap.Duration("total", total),
		zap.Duration("budget", t.budget))
	t.enforcer.Enforce(ctx, total)
	return OutcomeEnforced
}

// leave handles a signal from any other app.
func (t *SessionTracker) leave(ctx context.Context, now time.Time) Outcome {
	t.blockedAt = time.Time{}

	if !t.session.Active {
		return OutcomeIgnored
	}

	delta := t.session.Elapsed(now)
	t.session = domain.Session{}

	ledger, err := t.load(ctx)
	if err != nil {
		t.logger.Warn("session time dropped, ledger unreadable", zap.Duration("delta", delta))
		return OutcomeSkipped
	}

	total := ledger.Used + delta
	t.commit(ctx, total)
	t.logger.Info("left restricted app",
		zap.Duration("delta", delta),
		zap.Duration("total", total))
	return OutcomeClosed
}

// blocked reports whether an enforced breach is still settling, re-arming
// once RearmAfter has passed.
func (t *SessionTracker) blocked(now time.Time) bool {
	if t.blockedAt.IsZero() {
		return false
	}
	if now.Sub(t.blockedAt) >= t.rearm {
		t.blockedAt = time.Time{}
		return false
	}
	return true
}

func (t *SessionTracker) load(ctx context.Context) (domain.UsageLedger, error) {
	var ledger domain.UsageLedger
	err := t.retry("load", func() error {
		var err error
		ledger, err = t.store.Load(ctx)
		return err
	})
	return ledger, err
}

func (t *SessionTracker) commit(ctx context.Context, total time.Duration) {
	if err := t.retry("save_used", func() error { return t.store.SaveUsed(ctx, total) }); err != nil {
		return
	}
	metrics.UsedSeconds.Set(total.Seconds())
}

// retry runs op once more on failure. Failures are logged, never raised.
func (t *SessionTracker) retry(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	metrics.LedgerErrorsTotal.WithLabelValues(op).Inc()
	t.logger.Warn("ledger operation failed, retrying", zap.String("op", op), zap.Error(err))

	if err = fn(); err != nil {
		metrics.LedgerErrorsTotal.WithLabelValues(op).Inc()
		t.logger.Error("ledger operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}
