// Package hostbridge drives the monitor from a host process over JSON lines.
// The host (an on-device accessibility helper, or a test harness) writes one
// notification per line and reads navigation commands back.
package hostbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const maxLineSize = 4 << 20

// Commands written to the host.
const (
	CmdHome   = "home"
	CmdBack   = "back"
	CmdLaunch = "launch"
)

// Node is one node of a content tree snapshot.
type Node struct {
	Text     *string `json:"text,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Inbound is one notification line from the host.
type Inbound struct {
	App  string `json:"app"`
	Kind string `json:"kind"`
	TS   int64  `json:"ts"` // unix milliseconds
	Tree *Node  `json:"tree,omitempty"`
}

// Outbound is one command line to the host.
type Outbound struct {
	Cmd   string `json:"cmd"`
	Route string `json:"route,omitempty"`
}

// Bridge implements the platform interfaces over a line-oriented stream.
type Bridge struct {
	r      io.ReadCloser
	clock  domain.Clock
	logger *zap.Logger

	wmu sync.Mutex
	w   io.Writer

	mu    sync.Mutex
	trees map[string]*Node // latest snapshot per app

	outstanding atomic.Int64
	closeOnce   sync.Once
}

// New creates a bridge reading notifications from r and writing commands to w.
func New(r io.ReadCloser, w io.Writer, clock domain.Clock, logger *zap.Logger) *Bridge {
	return &Bridge{
		r:      r,
		w:      w,
		clock:  clock,
		logger: logger,
		trees:  make(map[string]*Node),
	}
}

// Events starts reading notifications. Malformed lines are logged and skipped.
func (b *Bridge) Events(ctx context.Context) (<-chan domain.ForegroundEvent, error) {
	out := make(chan domain.ForegroundEvent)
	go func() {
		<-ctx.Done()
		b.Close()
	}()
	go b.read(ctx, out)
	return out, nil
}

func (b *Bridge) read(ctx context.Context, out chan<- domain.ForegroundEvent) {
	defer close(out)

	scanner := bufio.NewScanner(b.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := b.Feed(line)
		if err != nil {
			b.logger.Warn("skipping malformed host line", zap.Error(err))
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		b.logger.Warn("host stream failed", zap.Error(err))
	}
}

// Feed parses one notification line. The event carries the tree snapshot in
// effect for its app at that line, so later lines never change what the
// monitor sees for it. Events uses Feed for the live stream; replays call it
// directly.
func (b *Bridge) Feed(line []byte) (domain.ForegroundEvent, error) {
	var msg Inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		return domain.ForegroundEvent{}, fmt.Errorf("invalid json: %w", err)
	}
	if msg.App == "" {
		return domain.ForegroundEvent{}, errors.New("missing app")
	}
	kind := domain.ChangeKind(msg.Kind)

	b.mu.Lock()
	tree := msg.Tree
	switch {
	case tree != nil:
		b.trees[msg.App] = tree
	case kind == domain.KindWindowAppeared:
		delete(b.trees, msg.App)
	default:
		tree = b.trees[msg.App]
	}
	b.mu.Unlock()

	observed := b.clock.Now()
	if msg.TS > 0 {
		observed = time.UnixMilli(msg.TS)
	}
	return domain.ForegroundEvent{
		SourceApp:  msg.App,
		Kind:       kind,
		ObservedAt: observed,
		Tree:       &snapshot{b: b, app: msg.App, root: tree},
	}, nil
}

// Root returns the latest snapshot for app.
func (b *Bridge) Root(ctx context.Context, app string) (domain.ContentNode, error) {
	b.mu.Lock()
	tree, ok := b.trees[app]
	b.mu.Unlock()
	if !ok {
		return nil, domain.ErrTreeUnavailable
	}
	return b.acquire(tree), nil
}

// snapshot is the tree one notification was sent with.
type snapshot struct {
	b    *Bridge
	app  string
	root *Node
}

func (s *snapshot) Root(ctx context.Context, app string) (domain.ContentNode, error) {
	if app != s.app || s.root == nil {
		return nil, domain.ErrTreeUnavailable
	}
	return s.b.acquire(s.root), nil
}

// Outstanding returns the number of acquired nodes not yet released.
func (b *Bridge) Outstanding() int64 {
	return b.outstanding.Load()
}

func (b *Bridge) acquire(n *Node) *snapshotNode {
	b.outstanding.Add(1)
	return &snapshotNode{b: b, n: n}
}

// GoHome asks the host to show the launcher.
func (b *Bridge) GoHome(ctx context.Context) error {
	return b.send(Outbound{Cmd: CmdHome})
}

// GoBack asks the host to navigate back.
func (b *Bridge) GoBack(ctx context.Context) error {
	return b.send(Outbound{Cmd: CmdBack})
}

// Launch asks the host to bring the companion up at route.
func (b *Bridge) Launch(ctx context.Context, route domain.RouteHint) error {
	return b.send(Outbound{Cmd: CmdLaunch, Route: string(route)})
}

func (b *Bridge) send(cmd Outbound) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := b.w.Write(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd.Cmd, err)
	}
	return nil
}

// Close closes the inbound stream. Safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.r.Close() })
	return err
}

// snapshotNode is a handle on one snapshot node.
type snapshotNode struct {
	b        *Bridge
	n        *Node
	released atomic.Bool
}

func (s *snapshotNode) Text() (string, bool) {
	if s.n.Text == nil {
		return "", false
	}
	return *s.n.Text, true
}

func (s *snapshotNode) ChildCount() int {
	return len(s.n.Children)
}

func (s *snapshotNode) Child(i int) (domain.ContentNode, error) {
	if i < 0 || i >= len(s.n.Children) || s.n.Children[i] == nil {
		return nil, fmt.Errorf("no child %d", i)
	}
	return s.b.acquire(s.n.Children[i]), nil
}

func (s *snapshotNode) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.b.outstanding.Add(-1)
	}
}

// Ensure Bridge implements the platform interfaces.
var (
	_ domain.EventSource       = (*Bridge)(nil)
	_ domain.ContentTreeReader = (*Bridge)(nil)
	_ domain.PlatformControl   = (*Bridge)(nil)
	_ domain.Launcher          = (*Bridge)(nil)
	_ domain.ContentTreeReader = (*snapshot)(nil)
)
