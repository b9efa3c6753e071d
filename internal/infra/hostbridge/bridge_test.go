package hostbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// syncBuffer is a bytes.Buffer safe for concurrent writes and reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) lines(t *testing.T) []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outbound
	scanner := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	for scanner.Scan() {
		var cmd Outbound
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &cmd))
		out = append(out, cmd)
	}
	return out
}

func newTestBridge(input string) (*Bridge, *syncBuffer) {
	out := &syncBuffer{}
	clock := fixedClock{now: time.UnixMilli(1_000_000)}
	return New(io.NopCloser(strings.NewReader(input)), out, clock, zap.NewNop()), out
}

func collect(t *testing.T, b *Bridge) []domain.ForegroundEvent {
	t.Helper()
	events, err := b.Events(context.Background())
	require.NoError(t, err)

	var got []domain.ForegroundEvent
	for ev := range events {
		got = append(got, ev)
	}
	return got
}

func TestBridge_Events(t *testing.T) {
	input := strings.Join([]string{
		`{"app":"com.instagram.android","kind":"window_appeared","ts":5000}`,
		`not json`,
		``,
		`{"kind":"window_appeared","ts":6000}`,
		`{"app":"com.whatsapp","kind":"view_clicked","ts":7000}`,
		`{"app":"com.whatsapp","kind":"content_changed"}`,
	}, "\n")
	b, _ := newTestBridge(input)

	got := collect(t, b)
	for i := range got {
		require.NotNil(t, got[i].Tree)
		got[i].Tree = nil
	}

	assert.Equal(t, []domain.ForegroundEvent{
		{SourceApp: "com.instagram.android", Kind: domain.KindWindowAppeared, ObservedAt: time.UnixMilli(5000)},
		{SourceApp: "com.whatsapp", Kind: domain.KindViewClicked, ObservedAt: time.UnixMilli(7000)},
		{SourceApp: "com.whatsapp", Kind: domain.KindContentChanged, ObservedAt: time.UnixMilli(1_000_000)},
	}, got)
}

func TestBridge_TreeSnapshots(t *testing.T) {
	input := strings.Join([]string{
		`{"app":"com.android.chrome","kind":"window_appeared","ts":1,"tree":{"children":[{"text":"Back"},{"children":[{"text":"https://instagram.com/explore"}]}]}}`,
		`{"app":"org.mozilla.firefox","kind":"window_appeared","ts":2,"tree":{"text":"x"}}`,
		`{"app":"org.mozilla.firefox","kind":"window_appeared","ts":3}`,
	}, "\n")
	b, _ := newTestBridge(input)
	collect(t, b)

	root, err := b.Root(context.Background(), "com.android.chrome")
	require.NoError(t, err)
	assert.Equal(t, 2, root.ChildCount())
	_, hasText := root.Text()
	assert.False(t, hasText)

	child, err := root.Child(1)
	require.NoError(t, err)
	leaf, err := child.Child(0)
	require.NoError(t, err)
	text, ok := leaf.Text()
	assert.True(t, ok)
	assert.Equal(t, "https://instagram.com/explore", text)

	_, err = root.Child(5)
	assert.Error(t, err)

	assert.Equal(t, int64(3), b.Outstanding())
	leaf.Release()
	leaf.Release()
	child.Release()
	root.Release()
	assert.Equal(t, int64(0), b.Outstanding())

	_, err = b.Root(context.Background(), "org.mozilla.firefox")
	assert.ErrorIs(t, err, domain.ErrTreeUnavailable, "a new window without a tree drops the stale snapshot")
}

func TestBridge_EventKeepsItsOwnSnapshot(t *testing.T) {
	b, _ := newTestBridge("")
	ctx := context.Background()

	first, err := b.Feed([]byte(`{"app":"com.android.chrome","kind":"content_changed","ts":1,"tree":{"text":"https://instagram.com/explore"}}`))
	require.NoError(t, err)
	repeat, err := b.Feed([]byte(`{"app":"com.android.chrome","kind":"content_changed","ts":2}`))
	require.NoError(t, err)
	next, err := b.Feed([]byte(`{"app":"com.android.chrome","kind":"window_appeared","ts":3,"tree":{"text":"https://example.com"}}`))
	require.NoError(t, err)
	bare, err := b.Feed([]byte(`{"app":"com.android.chrome","kind":"window_appeared","ts":4}`))
	require.NoError(t, err)

	textOf := func(ev domain.ForegroundEvent) string {
		root, err := ev.Tree.Root(ctx, ev.SourceApp)
		require.NoError(t, err)
		defer root.Release()
		text, _ := root.Text()
		return text
	}
	assert.Equal(t, "https://instagram.com/explore", textOf(first))
	assert.Equal(t, "https://instagram.com/explore", textOf(repeat), "content change without a tree keeps the last one")
	assert.Equal(t, "https://example.com", textOf(next))

	_, err = bare.Tree.Root(ctx, bare.SourceApp)
	assert.ErrorIs(t, err, domain.ErrTreeUnavailable)
	_, err = first.Tree.Root(ctx, "org.mozilla.firefox")
	assert.ErrorIs(t, err, domain.ErrTreeUnavailable)
	assert.Equal(t, int64(0), b.Outstanding())
}

func TestBridge_LiveMonitorSeesEachLinesTree(t *testing.T) {
	input := strings.Join([]string{
		`{"app":"com.android.chrome","kind":"content_changed","ts":1000,"tree":{"children":[{"text":"https://instagram.com/explore"}]}}`,
		`{"app":"com.android.chrome","kind":"window_appeared","ts":2000,"tree":{"children":[{"text":"https://example.com"}]}}`,
	}, "\n")

	for i := 0; i < 50; i++ {
		b, out := newTestBridge(input)
		store := infra.NewMemoryLedgerStore(domain.UsageLedger{SeenIntro: true})
		companion := usecase.NewCompanionBridge(b, zap.NewNop())
		enforcer := usecase.NewBudgetEnforcer(b, companion, domain.TimerScheduler{}, time.Millisecond, zap.NewNop())
		tracker := usecase.NewSessionTracker(
			usecase.TrackerConfig{AppIDs: []string{"com.instagram.android"}, Budget: time.Hour},
			store, enforcer, companion, zap.NewNop(),
		)
		detector := usecase.NewBrowserDetector(usecase.DetectorConfig{
			Browsers:        []string{"com.android.chrome"},
			ServiceDomain:   "instagram",
			RestrictedAppID: "com.instagram.android",
		}, b, b, zap.NewNop())
		monitor := usecase.NewMonitor(detector, tracker, zap.NewNop())

		events, err := b.Events(context.Background())
		require.NoError(t, err)
		require.NoError(t, monitor.Run(context.Background(), events))
		enforcer.Close()

		require.Equal(t, []Outbound{{Cmd: CmdBack}}, out.lines(t), "run %d", i)
		ledger, err := store.Load(context.Background())
		require.NoError(t, err)
		require.Equal(t, time.Second, ledger.Used, "run %d", i)
		require.Equal(t, int64(0), b.Outstanding())
	}
}

func TestBridge_Commands(t *testing.T) {
	b, out := newTestBridge("")
	ctx := context.Background()

	require.NoError(t, b.GoHome(ctx))
	require.NoError(t, b.GoBack(ctx))
	require.NoError(t, b.Launch(ctx, domain.RouteReason))
	require.NoError(t, b.Launch(ctx, domain.RouteNone))

	assert.Equal(t, []Outbound{
		{Cmd: CmdHome},
		{Cmd: CmdBack},
		{Cmd: CmdLaunch, Route: "/reason"},
		{Cmd: CmdLaunch},
	}, out.lines(t))
}

func TestBridge_DetectorReleasesEveryNode(t *testing.T) {
	input := `{"app":"com.android.chrome","kind":"content_changed","ts":1,"tree":{"children":[{"text":"Menu"},{"children":[{"text":"Home"},{"text":"instagram.com"}]},{"text":"after"}]}}`
	b, out := newTestBridge(input)
	collect(t, b)

	detector := usecase.NewBrowserDetector(usecase.DetectorConfig{
		Browsers:        []string{"com.android.chrome"},
		ServiceDomain:   "instagram",
		RestrictedAppID: "com.instagram.android",
	}, b, b, zap.NewNop())

	sig, found := detector.Detect(context.Background(), domain.ForegroundSignal{
		SourceApp: "com.android.chrome", Kind: domain.KindContentChanged, ObservedAt: time.UnixMilli(1),
	})

	assert.True(t, found)
	assert.True(t, sig.Synthesized)
	assert.Equal(t, int64(0), b.Outstanding())
	assert.Equal(t, []Outbound{{Cmd: CmdBack}}, out.lines(t))
}

func TestBridge_CloseStopsEvents(t *testing.T) {
	pr, pw := io.Pipe()
	b := New(pr, io.Discard, fixedClock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.Events(ctx)
	require.NoError(t, err)

	go func() {
		_, _ = pw.Write([]byte(`{"app":"a","kind":"window_appeared","ts":1}` + "\n"))
	}()
	ev := <-events
	assert.Equal(t, "a", ev.SourceApp)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
