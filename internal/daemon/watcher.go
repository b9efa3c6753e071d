// Package daemon implements the long-running monitor daemon.
package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/metrics"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

// ErrSourceClosed is returned when the platform stops delivering events
// while the daemon is still meant to run.
var ErrSourceClosed = errors.New("event source closed")

// WatcherConfig holds watcher daemon configuration.
type WatcherConfig struct {
	StatsInterval time.Duration // How often to refresh the used-time gauge
}

// DefaultWatcherConfig returns default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		StatsInterval: 30 * time.Second,
	}
}

// ControlServer is the control API lifecycle the watcher drives.
type ControlServer interface {
	Start() error
	Addr() string
	Stop(ctx context.Context) error
}

// Watcher is the main daemon loop.
// It feeds platform notifications to the monitor one at a time, keeps the
// usage gauge fresh and serves the control API for as long as it runs.
type Watcher struct {
	config   WatcherConfig
	source   domain.EventSource
	monitor  *usecase.Monitor
	store    domain.LedgerStore
	control  ControlServer
	registry domain.DaemonRegistry
	logger   *zap.Logger
}

// NewWatcher creates a new watcher daemon. control and registry may be nil.
func NewWatcher(
	config WatcherConfig,
	source domain.EventSource,
	monitor *usecase.Monitor,
	store domain.LedgerStore,
	control ControlServer,
	registry domain.DaemonRegistry,
	logger *zap.Logger,
) *Watcher {
	if config.StatsInterval <= 0 {
		config.StatsInterval = DefaultWatcherConfig().StatsInterval
	}
	return &Watcher{
		config:   config,
		source:   source,
		monitor:  monitor,
		store:    store,
		control:  control,
		registry: registry,
		logger:   logger,
	}
}

// Run starts the watcher daemon loop.
// This blocks until context is canceled or the event source ends.
func (w *Watcher) Run(ctx context.Context) error {
	if w.control != nil {
		if err := w.control.Start(); err != nil {
			return err
		}
		defer w.stopControl()
	}

	events, err := w.source.Events(ctx)
	if err != nil {
		return err
	}

	w.register()
	defer w.unregister()
	w.refreshStats(ctx)

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- w.monitor.Run(ctx, events)
	}()

	w.logger.Info("watcher daemon started",
		zap.Duration("stats_interval", w.config.StatsInterval))

	statsTicker := time.NewTicker(w.config.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher daemon stopping")
			<-monitorDone
			return ctx.Err()

		case err := <-monitorDone:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = ErrSourceClosed
			}
			w.logger.Error("monitor stopped", zap.Error(err))
			return err

		case <-statsTicker.C:
			w.refreshStats(ctx)
			w.heartbeat()
		}
	}
}

// refreshStats publishes the committed usage. Best effort.
func (w *Watcher) refreshStats(ctx context.Context) {
	ledger, err := w.store.Load(ctx)
	if err != nil {
		w.logger.Warn("failed to refresh usage stats", zap.Error(err))
		return
	}
	metrics.UsedSeconds.Set(ledger.Used.Seconds())
	w.logger.Debug("usage stats refreshed",
		zap.Duration("used", ledger.Used),
		zap.Bool("override_active", ledger.OverrideActive(time.Now())))
}

// register publishes this process so the CLI can find it. Best effort.
func (w *Watcher) register() {
	if w.registry == nil {
		return
	}
	now := time.Now().Unix()
	state := domain.DaemonState{
		PID:           os.Getpid(),
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if w.control != nil {
		state.ControlAddr = w.control.Addr()
	}
	if err := w.registry.Register(state); err != nil {
		w.logger.Warn("failed to register daemon", zap.Error(err))
	}
}

func (w *Watcher) heartbeat() {
	if w.registry == nil {
		return
	}
	if err := w.registry.UpdateHeartbeat(); err != nil {
		w.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
}

func (w *Watcher) unregister() {
	if w.registry == nil {
		return
	}
	if err := w.registry.Clear(); err != nil {
		w.logger.Warn("failed to clear registry", zap.Error(err))
	}
}

func (w *Watcher) stopControl() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.control.Stop(ctx); err != nil {
		w.logger.Warn("failed to stop control server", zap.Error(err))
	}
}
