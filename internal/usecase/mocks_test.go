package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

var errInjected = errors.New("injected failure")

// callLog records side effects across mocks so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// mockLedgerStore implements domain.LedgerStore for testing
type mockLedgerStore struct {
	ledger    domain.UsageLedger
	log       *callLog
	loadErrs  int // number of Load calls that fail before succeeding
	saveErrs  int
	saveCalls int
	markCalls int
	markErr   error
}

func (m *mockLedgerStore) Load(ctx context.Context) (domain.UsageLedger, error) {
	if m.loadErrs > 0 {
		m.loadErrs--
		return domain.UsageLedger{}, errInjected
	}
	return m.ledger, nil
}

func (m *mockLedgerStore) SaveUsed(ctx context.Context, used time.Duration) error {
	m.saveCalls++
	if m.saveErrs > 0 {
		m.saveErrs--
		return errInjected
	}
	m.ledger.Used = used
	if m.log != nil {
		m.log.add("save:" + used.String())
	}
	return nil
}

func (m *mockLedgerStore) MarkIntroSeen(ctx context.Context) error {
	m.markCalls++
	if m.markErr != nil {
		return m.markErr
	}
	m.ledger.SeenIntro = true
	return nil
}

func (m *mockLedgerStore) SetOverrideUntil(ctx context.Context, until time.Time) error {
	m.ledger.OverrideUntil = until
	return nil
}

func (m *mockLedgerStore) Close() error {
	return nil
}

// mockControl implements domain.PlatformControl for testing
type mockControl struct {
	log       *callLog
	homeCalls int
	backCalls int
	homeErr   error
	backErr   error
}

func (m *mockControl) GoHome(ctx context.Context) error {
	m.homeCalls++
	if m.log != nil {
		m.log.add("home")
	}
	return m.homeErr
}

func (m *mockControl) GoBack(ctx context.Context) error {
	m.backCalls++
	if m.log != nil {
		m.log.add("back")
	}
	return m.backErr
}

// mockLauncher implements domain.Launcher for testing
type mockLauncher struct {
	routes []domain.RouteHint
	err    error
}

func (m *mockLauncher) Launch(ctx context.Context, route domain.RouteHint) error {
	m.routes = append(m.routes, route)
	return m.err
}

// mockCompanion implements Companion for testing
type mockCompanion struct {
	log    *callLog
	routes []domain.RouteHint
}

func (m *mockCompanion) Launch(ctx context.Context, route domain.RouteHint) {
	m.routes = append(m.routes, route)
	if m.log != nil {
		m.log.add("launch:" + string(route))
	}
}

// mockEnforcement implements Enforcement for testing
type mockEnforcement struct {
	log    *callLog
	totals []time.Duration
}

func (m *mockEnforcement) Enforce(ctx context.Context, total time.Duration) {
	m.totals = append(m.totals, total)
	if m.log != nil {
		m.log.add("enforce:" + total.String())
	}
}

// fakeScheduler records deferred actions; tests run them with fire.
type fakeScheduler struct {
	mu       sync.Mutex
	delays   []time.Duration
	funcs    []func()
	canceled int
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.funcs)
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.funcs[idx] == nil {
			return false
		}
		s.funcs[idx] = nil
		s.canceled++
		return true
	}
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	funcs := s.funcs
	s.funcs = make([]func(), len(funcs))
	s.mu.Unlock()
	for _, f := range funcs {
		if f != nil {
			f()
		}
	}
}

// inlineScheduler runs deferred actions immediately.
type inlineScheduler struct{}

func (inlineScheduler) AfterFunc(_ time.Duration, f func()) func() bool {
	f()
	return func() bool { return false }
}

// fakeNode is a content tree node that counts acquisitions and releases.
type fakeNode struct {
	text     string
	hasText  bool
	children []*fakeNode
	childErr map[int]error
	counter  *releaseCounter
	visited  *[]string
}

type releaseCounter struct {
	acquired int
	released int
}

func (n *fakeNode) Text() (string, bool) {
	if n.visited != nil {
		*n.visited = append(*n.visited, n.text)
	}
	return n.text, n.hasText
}

func (n *fakeNode) ChildCount() int {
	return len(n.children)
}

func (n *fakeNode) Child(i int) (domain.ContentNode, error) {
	if err, ok := n.childErr[i]; ok {
		return nil, err
	}
	n.counter.acquired++
	return n.children[i], nil
}

func (n *fakeNode) Release() {
	n.counter.released++
}

// tree builds a fakeNode tree sharing one counter.
func tree(counter *releaseCounter, visited *[]string, text string, children ...*fakeNode) *fakeNode {
	n := &fakeNode{text: text, hasText: text != "", children: children, counter: counter, visited: visited}
	var wire func(*fakeNode)
	wire = func(node *fakeNode) {
		node.counter = counter
		node.visited = visited
		for _, c := range node.children {
			wire(c)
		}
	}
	wire(n)
	return n
}

func leaf(text string) *fakeNode {
	return &fakeNode{text: text, hasText: text != ""}
}

// fakeTrees implements domain.ContentTreeReader for testing
type fakeTrees struct {
	roots   map[string]*fakeNode
	err     error
	counter *releaseCounter
}

func (f *fakeTrees) Root(ctx context.Context, app string) (domain.ContentNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	root, ok := f.roots[app]
	if !ok {
		return nil, domain.ErrTreeUnavailable
	}
	f.counter.acquired++
	return root, nil
}

// fixedClock implements domain.Clock for testing
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func at(ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}
