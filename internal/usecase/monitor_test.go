package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

func event(app string, kind domain.ChangeKind, ms int64) domain.ForegroundEvent {
	return domain.ForegroundEvent{SourceApp: app, Kind: kind, ObservedAt: at(ms)}
}

func TestMonitor_Replay(t *testing.T) {
	f := newTrackerFixture(time.Minute, domain.UsageLedger{})
	monitor := NewMonitor(nil, f.tracker, zap.NewNop())

	outcomes := monitor.Replay(context.Background(), []domain.ForegroundEvent{
		event(restrictedApp, domain.KindWindowAppeared, 0),
		event(restrictedApp, domain.KindViewScrolled, 20_000),
		event(restrictedApp, domain.KindContentChanged, 30_000),
		event(restrictedApp, domain.KindContentChanged, 61_000),
		event(otherApp, domain.KindWindowAppeared, 61_500),
	})

	assert.Equal(t, []Outcome{
		OutcomeOpened,
		OutcomeFiltered,
		OutcomeExtended,
		OutcomeEnforced,
		OutcomeIgnored,
	}, outcomes)
	assert.Equal(t, 61*time.Second, f.store.ledger.Used)
	assert.Len(t, f.enforcer.totals, 1)
}

func TestMonitor_BrowserCircumvention(t *testing.T) {
	counter := &releaseCounter{}
	root := tree(counter, nil, "", leaf("https://instagram.com/explore"))
	detector, control := newTestDetector(root, counter, 0)
	f := newTrackerFixture(time.Hour, domain.UsageLedger{SeenIntro: true})
	monitor := NewMonitor(detector, f.tracker, zap.NewNop())

	assert.Equal(t, OutcomeOpened, monitor.HandleEvent(context.Background(),
		event(testBrowser, domain.KindWindowAppeared, 0)))
	assert.Equal(t, 1, control.backCalls)

	// The page is gone once back navigation lands.
	delete(detector.trees.(*fakeTrees).roots, testBrowser)
	assert.Equal(t, OutcomeClosed, monitor.HandleEvent(context.Background(),
		event(testBrowser, domain.KindWindowAppeared, 4000)))
	assert.Equal(t, 4*time.Second, f.store.ledger.Used)
}

func TestMonitor_BrowserWithoutServiceIsOtherApp(t *testing.T) {
	counter := &releaseCounter{}
	root := tree(counter, nil, "", leaf("https://example.com"))
	detector, control := newTestDetector(root, counter, 0)
	f := newTrackerFixture(time.Hour, domain.UsageLedger{SeenIntro: true})
	monitor := NewMonitor(detector, f.tracker, zap.NewNop())

	monitor.HandleEvent(context.Background(), event(restrictedApp, domain.KindWindowAppeared, 0))
	outcome := monitor.HandleEvent(context.Background(), event(testBrowser, domain.KindWindowAppeared, 9000))

	assert.Equal(t, OutcomeClosed, outcome)
	assert.Zero(t, control.backCalls)
	assert.Equal(t, 9*time.Second, f.store.ledger.Used)
}

// panickingStore blows up on Load to exercise the monitor's recovery.
type panickingStore struct {
	mockLedgerStore
}

func (p *panickingStore) Load(ctx context.Context) (domain.UsageLedger, error) {
	panic("boom")
}

func TestMonitor_RecoversFromPanics(t *testing.T) {
	tracker := NewSessionTracker(TrackerConfig{AppIDs: []string{restrictedApp}, Budget: time.Minute},
		&panickingStore{}, &mockEnforcement{}, &mockCompanion{}, zap.NewNop())
	monitor := NewMonitor(nil, tracker, zap.NewNop())

	var outcome Outcome
	assert.NotPanics(t, func() {
		outcome = monitor.HandleEvent(context.Background(), event(restrictedApp, domain.KindWindowAppeared, 0))
	})
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestMonitor_RunStopsWhenChannelCloses(t *testing.T) {
	f := newTrackerFixture(time.Hour, domain.UsageLedger{SeenIntro: true})
	monitor := NewMonitor(nil, f.tracker, zap.NewNop())

	events := make(chan domain.ForegroundEvent, 3)
	events <- event(restrictedApp, domain.KindWindowAppeared, 0)
	events <- event(otherApp, domain.KindWindowAppeared, 2000)
	close(events)

	err := monitor.Run(context.Background(), events)

	assert.NoError(t, err)
	assert.Equal(t, 2*time.Second, f.store.ledger.Used)
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	f := newTrackerFixture(time.Hour, domain.UsageLedger{SeenIntro: true})
	monitor := NewMonitor(nil, f.tracker, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := monitor.Run(ctx, make(chan domain.ForegroundEvent))

	assert.ErrorIs(t, err, context.Canceled)
}
