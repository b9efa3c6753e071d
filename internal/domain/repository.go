package domain

import (
	"context"
	"time"
)

// LedgerStore persists the usage ledger under fixed keys.
// Implementations: SQLCipher (default), Redis, in-memory.
type LedgerStore interface {
	// Load returns the current ledger. Missing keys read as zero values.
	Load(ctx context.Context) (UsageLedger, error)

	// SaveUsed overwrites the committed usage total.
	SaveUsed(ctx context.Context, used time.Duration) error

	// MarkIntroSeen sets the first-use flag.
	MarkIntroSeen(ctx context.Context) error

	// SetOverrideUntil overwrites the override field. Zero clears it.
	SetOverrideUntil(ctx context.Context, until time.Time) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// ContentNode is one node of an application's rendered content tree.
// Nodes are owned by the platform; every node obtained from Root or Child
// must be released exactly once.
type ContentNode interface {
	// Text returns the node's text, if it carries any.
	Text() (string, bool)

	// ChildCount returns the number of children.
	ChildCount() int

	// Child acquires the i-th child.
	Child(i int) (ContentNode, error)

	// Release returns the node's handle to the platform.
	Release()
}

// ContentTreeReader gives read access to an app's currently rendered tree.
type ContentTreeReader interface {
	// Root returns ErrTreeUnavailable if no window is foregrounded for app.
	Root(ctx context.Context, app string) (ContentNode, error)
}

// PlatformControl exposes the fire-and-forget navigation primitives.
type PlatformControl interface {
	// GoHome evicts the current foreground app.
	GoHome(ctx context.Context) error

	// GoBack performs a back navigation in the foreground app.
	GoBack(ctx context.Context) error
}

// Launcher brings the companion control surface to the front.
type Launcher interface {
	Launch(ctx context.Context, route RouteHint) error
}

// EventSource delivers platform notifications in order.
type EventSource interface {
	// Events starts delivery. The channel is closed when ctx is done or the source fails.
	Events(ctx context.Context) (<-chan ForegroundEvent, error)

	// Close releases the underlying platform connection.
	Close() error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a process with given PID exists.
	IsRunning(pid int) bool
}

// DaemonRegistry tracks the running daemon for the CLI.
type DaemonRegistry interface {
	// Register records the daemon's state, replacing any previous entry.
	Register(state DaemonState) error

	// UpdateHeartbeat refreshes the liveness timestamp.
	UpdateHeartbeat() error

	// Get returns the recorded state, or nil if no daemon registered.
	Get() (*DaemonState, error)

	// IsAlive reports whether the registered daemon's process still exists.
	IsAlive() (bool, error)

	// Clear removes the registry entry.
	Clear() error
}

// KeyProvider abstracts the source of the ledger encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// Clock provides the current time. Mocked in tests.
type Clock interface {
	Now() time.Time
}

// Scheduler runs deferred actions without blocking the caller.
type Scheduler interface {
	// AfterFunc runs f after d. The returned cancel func reports whether
	// the call stopped f from running.
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TimerScheduler schedules on time.AfterFunc.
type TimerScheduler struct{}

// AfterFunc implements Scheduler.
func (TimerScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}
