package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// UsageService is the control surface's view of the ledger: a read-only
// usage query and the override setter. Session state is never exposed.
type UsageService struct {
	store  domain.LedgerStore
	clock  domain.Clock
	appID  string
	budget time.Duration
	logger *zap.Logger
}

// NewUsageService creates a usage service for the restricted app.
func NewUsageService(
	store domain.LedgerStore,
	clock domain.Clock,
	appID string,
	budget time.Duration,
	logger *zap.Logger,
) *UsageService {
	return &UsageService{
		store:  store,
		clock:  clock,
		appID:  appID,
		budget: budget,
		logger: logger,
	}
}

// Usage returns the committed usage and flags.
func (s *UsageService) Usage(ctx context.Context) (*domain.UsageReport, error) {
	ledger, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	remaining := s.budget - ledger.Used
	if remaining < 0 {
		remaining = 0
	}

	report := &domain.UsageReport{
		AppID:           s.appID,
		Used:            ledger.Used,
		UsedMillis:      ledger.Used.Milliseconds(),
		Budget:          s.budget,
		BudgetMillis:    s.budget.Milliseconds(),
		Remaining:       remaining,
		RemainingMillis: remaining.Milliseconds(),
		SeenIntro:       ledger.SeenIntro,
		OverrideActive:  ledger.OverrideActive(s.clock.Now()),
	}
	if !ledger.OverrideUntil.IsZero() {
		until := ledger.OverrideUntil
		report.OverrideUntil = &until
	}
	return report, nil
}

// SetOverrideUntil overwrites the override window unconditionally.
func (s *UsageService) SetOverrideUntil(ctx context.Context, until time.Time) error {
	if err := s.store.SetOverrideUntil(ctx, until); err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	s.logger.Info("override set", zap.Time("until", until))
	return nil
}

// GrantOverride exempts the restricted app for d starting now.
func (s *UsageService) GrantOverride(ctx context.Context, d time.Duration) (time.Time, error) {
	if d <= 0 {
		return time.Time{}, fmt.Errorf("override duration must be positive, got %s", d)
	}
	until := s.clock.Now().Add(d)
	if err := s.SetOverrideUntil(ctx, until); err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// ClearOverride removes any override window.
func (s *UsageService) ClearOverride(ctx context.Context) error {
	return s.SetOverrideUntil(ctx, time.Time{})
}
