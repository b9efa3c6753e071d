// Package policy implements the Strategy pattern for restricted-app rules.
// Each restricted app (Instagram, YouTube) has its own policy defining how it
// is recognized natively, in a browser, and on the desktop.
package policy

import "time"

// DefaultBudget is the usage budget when neither config nor policy overrides it.
const DefaultBudget = 30 * time.Minute

// AppPolicy defines the strategy interface for a restricted application.
type AppPolicy interface {
	// ID returns unique identifier (e.g., "instagram").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// AppIDs returns every identifier the app reports as foreground source.
	// The first entry is canonical and is used for synthesized signals.
	AppIDs() []string

	// ServiceDomain is the substring that marks a browser URL as the same service.
	// Matched case-insensitively.
	ServiceDomain() string

	// ProcessPatterns returns desktop process names to terminate on eviction.
	ProcessPatterns() []string

	// DefaultBudget returns the budget used when config does not set one.
	DefaultBudget() time.Duration
}

// CanonicalAppID returns the first identifier of the policy.
func CanonicalAppID(p AppPolicy) string {
	ids := p.AppIDs()
	if len(ids) == 0 {
		return p.ID()
	}
	return ids[0]
}
