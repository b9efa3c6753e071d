package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
)

// CompanionBridge brings the control surface to the front.
// Launch failures are logged and swallowed: the monitor has no recovery action.
type CompanionBridge struct {
	launcher domain.Launcher
	logger   *zap.Logger
}

// NewCompanionBridge creates a bridge over a platform launcher.
func NewCompanionBridge(launcher domain.Launcher, logger *zap.Logger) *CompanionBridge {
	return &CompanionBridge{
		launcher: launcher,
		logger:   logger,
	}
}

// Launch requests the control surface, optionally with a route hint.
// Safe to call concurrently; duplicate launches are harmless.
func (b *CompanionBridge) Launch(ctx context.Context, route domain.RouteHint) {
	if err := b.launcher.Launch(ctx, route); err != nil {
		metrics.LaunchFailuresTotal.Inc()
		b.logger.Warn("failed to launch companion",
			zap.String("route", string(route)),
			zap.Error(err))
		return
	}
	b.logger.Info("companion launched", zap.String("route", string(route)))
}
