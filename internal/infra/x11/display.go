// Package x11 adapts an X11 desktop session to the monitor: foreground
// notifications from _NET_ACTIVE_WINDOW, window content trees, and back
// navigation through XTEST.
package x11

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const (
	classCacheSize = 512
	eventBuffer    = 64
	nameMaxLen     = 256 // in 32-bit units
)

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// Display is one connection to the X server.
type Display struct {
	conn    *xgb.Conn
	root    xproto.Window
	atoms   map[string]xproto.Atom
	classes *lru.Cache[xproto.Window, string]
	clock   domain.Clock
	logger  *zap.Logger

	xtestOnce sync.Once
	xtestErr  error
	closeOnce sync.Once

	active xproto.Window // owned by the event loop
}

// Connect opens the display named by $DISPLAY.
func Connect(clock domain.Clock, logger *zap.Logger) (*Display, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	classes, err := lru.New[xproto.Window, string](classCacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}

	d := &Display{
		conn:    conn,
		root:    xproto.Setup(conn).DefaultScreen(conn).Root,
		atoms:   make(map[string]xproto.Atom, len(atomNames)),
		classes: classes,
		clock:   clock,
		logger:  logger,
	}

	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to intern %s: %w", name, err)
		}
		d.atoms[name] = reply.Atom
	}
	return d, nil
}

// Events starts delivering foreground notifications. The channel closes when
// ctx is done or the connection drops.
func (d *Display) Events(ctx context.Context) (<-chan domain.ForegroundEvent, error) {
	if err := d.watch(d.root); err != nil {
		return nil, fmt.Errorf("failed to select root events: %w", err)
	}
	d.active = d.activeWindow()
	if d.active != 0 {
		_ = d.watch(d.active)
	}

	out := make(chan domain.ForegroundEvent, eventBuffer)
	go func() {
		<-ctx.Done()
		d.Close()
	}()
	go d.loop(ctx, out)
	return out, nil
}

func (d *Display) loop(ctx context.Context, out chan<- domain.ForegroundEvent) {
	defer close(out)
	for {
		ev, xerr := d.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			d.logger.Info("X connection closed")
			return
		}
		if xerr != nil {
			d.logger.Debug("X error", zap.String("error", xerr.Error()))
			continue
		}

		pn, ok := ev.(xproto.PropertyNotifyEvent)
		if !ok {
			continue
		}
		fe, ok := d.translate(pn)
		if !ok {
			continue
		}

		select {
		case out <- fe:
		case <-ctx.Done():
			return
		}
	}
}

// translate maps a property change to a foreground event.
func (d *Display) translate(pn xproto.PropertyNotifyEvent) (domain.ForegroundEvent, bool) {
	now := d.clock.Now()

	switch {
	case pn.Window == d.root && pn.Atom == d.atoms["_NET_ACTIVE_WINDOW"]:
		win := d.activeWindow()
		if win == 0 {
			return domain.ForegroundEvent{}, false
		}
		if win != d.active {
			if err := d.watch(win); err != nil {
				d.logger.Debug("failed to watch window", zap.Uint32("window", uint32(win)), zap.Error(err))
			}
			d.active = win
		}
		return domain.ForegroundEvent{SourceApp: d.class(win), Kind: domain.KindWindowAppeared, ObservedAt: now}, true

	case pn.Window == d.root:
		return domain.ForegroundEvent{}, false

	case pn.Window == d.active && (pn.Atom == d.atoms["_NET_WM_NAME"] || pn.Atom == d.atoms["WM_NAME"]):
		return domain.ForegroundEvent{SourceApp: d.class(pn.Window), Kind: domain.KindContentChanged, ObservedAt: now}, true

	default:
		return domain.ForegroundEvent{SourceApp: d.class(pn.Window), Kind: domain.KindUnknown, ObservedAt: now}, true
	}
}

// Root returns the active window's tree when it belongs to app.
func (d *Display) Root(ctx context.Context, app string) (domain.ContentNode, error) {
	win := d.activeWindow()
	if win == 0 || d.class(win) != app {
		return nil, domain.ErrTreeUnavailable
	}
	return &windowNode{d: d, win: win}, nil
}

// GoBack sends Alt+Left to the focused window.
func (d *Display) GoBack(ctx context.Context) error {
	d.xtestOnce.Do(func() { d.xtestErr = xtest.Init(d.conn) })
	if d.xtestErr != nil {
		return fmt.Errorf("XTEST unavailable: %w", d.xtestErr)
	}

	alt, err := d.keycode(keysymAltL)
	if err != nil {
		return err
	}
	left, err := d.keycode(keysymLeft)
	if err != nil {
		return err
	}

	steps := []struct {
		typ  byte
		code xproto.Keycode
	}{
		{xproto.KeyPress, alt},
		{xproto.KeyPress, left},
		{xproto.KeyRelease, left},
		{xproto.KeyRelease, alt},
	}
	for _, s := range steps {
		if err := xtest.FakeInputChecked(d.conn, s.typ, byte(s.code), 0, d.root, 0, 0, 0).Check(); err != nil {
			return fmt.Errorf("failed to send key: %w", err)
		}
	}
	return nil
}

// Close closes the connection. Safe to call more than once.
func (d *Display) Close() error {
	d.closeOnce.Do(d.conn.Close)
	return nil
}

func (d *Display) watch(win xproto.Window) error {
	return xproto.ChangeWindowAttributesChecked(d.conn, win, xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange}).Check()
}

func (d *Display) property(win xproto.Window, atom, typ xproto.Atom, length uint32) []byte {
	reply, err := xproto.GetProperty(d.conn, false, win, atom, typ, 0, length).Reply()
	if err != nil || reply == nil {
		return nil
	}
	return reply.Value
}

func (d *Display) activeWindow() xproto.Window {
	return parseWindow(d.property(d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1))
}

func (d *Display) class(win xproto.Window) string {
	if id, ok := d.classes.Get(win); ok {
		return id
	}
	id := appID(d.property(win, d.atoms["WM_CLASS"], xproto.AtomString, nameMaxLen))
	// WM_CLASS may be set after the window maps; look again next time.
	if id != UnknownApp {
		d.classes.Add(win, id)
	}
	return id
}

func (d *Display) name(win xproto.Window) string {
	if data := d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], nameMaxLen); len(data) > 0 {
		return parseName(data)
	}
	return parseName(d.property(win, d.atoms["WM_NAME"], xproto.AtomString, nameMaxLen))
}

func (d *Display) keycode(sym xproto.Keysym) (xproto.Keycode, error) {
	setup := xproto.Setup(d.conn)
	count := byte(setup.MaxKeycode - setup.MinKeycode + 1)
	reply, err := xproto.GetKeyboardMapping(d.conn, setup.MinKeycode, count).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to read keyboard mapping: %w", err)
	}
	code, ok := findKeycode(reply.Keysyms, int(reply.KeysymsPerKeycode), setup.MinKeycode, sym)
	if !ok {
		return 0, fmt.Errorf("no keycode for keysym %#x", uint32(sym))
	}
	return code, nil
}

// windowNode exposes an X window and its children as a content tree.
type windowNode struct {
	d        *Display
	win      xproto.Window
	children []xproto.Window
	queried  bool
}

func (n *windowNode) Text() (string, bool) {
	name := n.d.name(n.win)
	return name, name != ""
}

func (n *windowNode) ChildCount() int {
	if !n.queried {
		n.queried = true
		if reply, err := xproto.QueryTree(n.d.conn, n.win).Reply(); err == nil && reply != nil {
			n.children = reply.Children
		}
	}
	return len(n.children)
}

func (n *windowNode) Child(i int) (domain.ContentNode, error) {
	if i < 0 || i >= n.ChildCount() {
		return nil, errors.New("child index out of range")
	}
	return &windowNode{d: n.d, win: n.children[i]}, nil
}

// Release is a no-op: X windows are not reference counted.
func (n *windowNode) Release() {}

// Ensure Display implements the platform interfaces.
var (
	_ domain.EventSource       = (*Display)(nil)
	_ domain.ContentTreeReader = (*Display)(nil)
	_ domain.ContentNode       = (*windowNode)(nil)
)
