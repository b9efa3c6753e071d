package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
)

// Monitor routes platform notifications through the filter, the browser
// detector and the session tracker. Events must be handled one at a time.
type Monitor struct {
	detector *BrowserDetector
	tracker  *SessionTracker
	logger   *zap.Logger
}

// NewMonitor creates a monitor. detector may be nil to disable browser scanning.
func NewMonitor(detector *BrowserDetector, tracker *SessionTracker, logger *zap.Logger) *Monitor {
	return &Monitor{
		detector: detector,
		tracker:  tracker,
		logger:   logger,
	}
}

// Tracker returns the session tracker.
func (m *Monitor) Tracker() *SessionTracker {
	return m.tracker
}

// HandleEvent processes a single notification to completion. It never fails:
// every error on the way is logged and the monitor keeps going.
func (m *Monitor) HandleEvent(ctx context.Context, ev domain.ForegroundEvent) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked",
				zap.String("app", ev.SourceApp),
				zap.Any("panic", r))
			outcome = OutcomeSkipped
		}
	}()

	sig, ok := FilterEvent(ev)
	if !ok {
		metrics.EventsTotal.WithLabelValues(string(ev.Kind), string(OutcomeFiltered)).Inc()
		m.logger.Debug("event filtered",
			zap.String("app", ev.SourceApp),
			zap.String("kind", string(ev.Kind)))
		return OutcomeFiltered
	}

	if m.detector != nil && m.detector.IsBrowser(sig.SourceApp) {
		if synthesized, found := m.detector.Detect(ctx, sig); found {
			sig = synthesized
		}
	}

	outcome = m.tracker.Handle(ctx, sig)
	metrics.EventsTotal.WithLabelValues(string(ev.Kind), string(outcome)).Inc()
	m.logger.Debug("event handled",
		zap.String("app", sig.SourceApp),
		zap.String("kind", string(sig.Kind)),
		zap.Bool("synthesized", sig.Synthesized),
		zap.String("outcome", string(outcome)))
	return outcome
}

// Run consumes events serially until the channel closes or ctx is done.
func (m *Monitor) Run(ctx context.Context, events <-chan domain.ForegroundEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.HandleEvent(ctx, ev)
		}
	}
}

// Replay handles a finite, recorded sequence and returns one outcome per event.
func (m *Monitor) Replay(ctx context.Context, events []domain.ForegroundEvent) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, ev := range events {
		outcomes = append(outcomes, m.HandleEvent(ctx, ev))
	}
	return outcomes
}
