package usecase

import "github.com/eliteGoblin/focusd/app_limit/internal/domain"

// FilterEvent passes window-appeared and content-changed notifications through
// unchanged and drops everything else. Events without a source app are dropped too.
func FilterEvent(ev domain.ForegroundEvent) (domain.ForegroundSignal, bool) {
	if ev.SourceApp == "" || !ev.Kind.Qualifies() {
		return domain.ForegroundSignal{}, false
	}
	return domain.ForegroundSignal{
		SourceApp:  ev.SourceApp,
		Kind:       ev.Kind,
		ObservedAt: ev.ObservedAt,
		Tree:       ev.Tree,
	}, true
}
