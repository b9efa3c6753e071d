// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

// ChangeKind is the kind of foreground-change notification the platform reports.
type ChangeKind string

const (
	KindWindowAppeared ChangeKind = "window_appeared"
	KindContentChanged ChangeKind = "content_changed"

	// Kinds below never qualify for accounting and are dropped by the filter.
	KindViewFocused  ChangeKind = "view_focused"
	KindViewClicked  ChangeKind = "view_clicked"
	KindViewScrolled ChangeKind = "view_scrolled"
	KindNotification ChangeKind = "notification"
	KindUnknown      ChangeKind = "unknown"
)

// Qualifies reports whether the kind is one the session tracker cares about.
func (k ChangeKind) Qualifies() bool {
	return k == KindWindowAppeared || k == KindContentChanged
}

// RouteHint tells the control surface which screen to open.
type RouteHint string

const (
	RouteNone   RouteHint = ""
	RouteReason RouteHint = "/reason" // explain the block
)

// ForegroundEvent is a raw notification from the platform. Tree, when set,
// reads the content captured with this notification instead of live state.
type ForegroundEvent struct {
	SourceApp  string
	Kind       ChangeKind
	ObservedAt time.Time
	Tree       ContentTreeReader
}

// ForegroundSignal is a filtered (or synthesized) event that reaches the session tracker.
type ForegroundSignal struct {
	SourceApp   string
	Kind        ChangeKind
	ObservedAt  time.Time
	Synthesized bool // produced by browser circumvention detection
	Tree        ContentTreeReader
}

// UsageLedger is the persisted usage state for the restricted app.
// A zero OverrideUntil means no override has been granted.
type UsageLedger struct {
	Used          time.Duration
	SeenIntro     bool
	OverrideUntil time.Time
}

// OverrideActive reports whether now falls inside the override window.
func (l UsageLedger) OverrideActive(now time.Time) bool {
	return !l.OverrideUntil.IsZero() && now.Before(l.OverrideUntil)
}

// Session is the transient view of one open foreground interval. Never persisted.
type Session struct {
	Active    bool
	StartedAt time.Time
}

// Elapsed returns the time since the session started. Out-of-order
// timestamps yield zero rather than a negative duration.
func (s Session) Elapsed(now time.Time) time.Duration {
	if !s.Active {
		return 0
	}
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// DaemonState is what the running daemon publishes about itself.
// Stored as a small JSON file in the data dir.
type DaemonState struct {
	PID           int    `json:"pid"`
	Mode          string `json:"mode"` // "user" or "system"
	ControlAddr   string `json:"control_addr,omitempty"`
	StartedAt     int64  `json:"started_at"`     // unix seconds
	LastHeartbeat int64  `json:"last_heartbeat"` // unix seconds
}

// UsageReport is what the control surface may see. Session state is never exposed.
type UsageReport struct {
	AppID           string        `json:"app_id"`
	Used            time.Duration `json:"-"`
	UsedMillis      int64         `json:"used_millis"`
	Budget          time.Duration `json:"-"`
	BudgetMillis    int64         `json:"budget_millis"`
	Remaining       time.Duration `json:"-"`
	RemainingMillis int64         `json:"remaining_millis"`
	SeenIntro       bool          `json:"seen_intro"`
	OverrideUntil   *time.Time    `json:"override_until,omitempty"`
	OverrideActive  bool          `json:"override_active"`
}

// ErrTreeUnavailable is returned when no window is foregrounded for the requested app.
var ErrTreeUnavailable = errors.New("content tree unavailable")
