package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra/hostbridge"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra/x11"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
)

// Platform bundles the four platform roles. On the host bridge one value
// plays all of them; on X11 eviction and launching are separate pieces.
type Platform struct {
	Source   domain.EventSource
	Trees    domain.ContentTreeReader
	Control  domain.PlatformControl
	Launcher domain.Launcher
}

// Close releases the platform connection.
func (p *Platform) Close() error {
	if p.Source == nil {
		return nil
	}
	return p.Source.Close()
}

// OpenStore opens the configured ledger backend.
func OpenStore(cfg *config.Config) (domain.LedgerStore, error) {
	switch cfg.Storage.Type {
	case config.StorageSQLCipher:
		var provider domain.KeyProvider = infra.NewFileKeyProvider(cfg.Storage.DataDir)
		if cfg.Storage.Key != "" {
			provider = infra.NewStaticKeyProvider(cfg.Storage.Key)
		}
		key, err := infra.EnsureKey(provider)
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger key: %w", err)
		}
		return infra.NewEncryptedLedgerStore(cfg.Storage.DataDir, key)
	case config.StorageRedis:
		return infra.NewRedisLedgerStore(infra.RedisConfig{
			Addr:      cfg.Storage.Redis.Addr,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
	case config.StorageMemory:
		return infra.NewMemoryLedgerStore(domain.UsageLedger{}), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// OpenPlatform connects to the configured platform.
func OpenPlatform(cfg *config.Config, pol policy.AppPolicy, logger *zap.Logger) (*Platform, error) {
	switch cfg.Platform {
	case config.PlatformX11:
		display, err := x11.Connect(domain.RealClock{}, logger)
		if err != nil {
			return nil, err
		}
		return &Platform{
			Source:   display,
			Trees:    display,
			Control:  infra.NewProcessEvictor(infra.NewProcessManager(), pol.ProcessPatterns(), display, logger),
			Launcher: infra.NewExecLauncher(cfg.Launcher.Command),
		}, nil
	case config.PlatformHost:
		bridge := hostbridge.New(os.Stdin, os.Stdout, domain.RealClock{}, logger)
		return &Platform{
			Source:   bridge,
			Trees:    bridge,
			Control:  bridge,
			Launcher: bridge,
		}, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

// BuildMonitor wires the companion bridge, enforcer, tracker and detector
// over a platform and ledger. The returned enforcer must be closed on shutdown.
func BuildMonitor(
	cfg *config.Config,
	pol policy.AppPolicy,
	platform *Platform,
	store domain.LedgerStore,
	scheduler domain.Scheduler,
	logger *zap.Logger,
) (*usecase.Monitor, *usecase.BudgetEnforcer) {
	companion := usecase.NewCompanionBridge(platform.Launcher, logger.Named("companion"))
	enforcer := usecase.NewBudgetEnforcer(
		platform.Control,
		companion,
		scheduler,
		cfg.Enforcement.RedirectDelay,
		logger.Named("enforcer"),
	)

	tracker := usecase.NewSessionTracker(
		usecase.TrackerConfig{
			AppIDs:     pol.AppIDs(),
			Budget:     cfg.Budget,
			RearmAfter: cfg.Enforcement.RearmAfter,
		},
		store,
		enforcer,
		companion,
		logger.Named("tracker"),
	)

	var detector *usecase.BrowserDetector
	if len(cfg.Browser.Apps) > 0 {
		detector = usecase.NewBrowserDetector(
			usecase.DetectorConfig{
				Browsers:        cfg.Browser.Apps,
				ServiceDomain:   pol.ServiceDomain(),
				RestrictedAppID: policy.CanonicalAppID(pol),
				MaxNodes:        cfg.Browser.MaxNodes,
			},
			platform.Trees,
			platform.Control,
			logger.Named("detector"),
		)
	}

	return usecase.NewMonitor(detector, tracker, logger.Named("monitor")), enforcer
}

// Runtime is the fully wired daemon.
type Runtime struct {
	Config   *config.Config
	Policy   policy.AppPolicy
	Store    domain.LedgerStore
	Platform *Platform
	Monitor  *usecase.Monitor
	Usage    *usecase.UsageService
	Control  *control.Server // nil when the control API is disabled

	enforcer *usecase.BudgetEnforcer
	logger   *zap.Logger
}

// Bootstrap opens the ledger and the platform and wires the monitor.
func Bootstrap(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	pol, err := policy.NewRegistry().Lookup(cfg.Policy)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	platform, err := OpenPlatform(cfg, pol, logger.Named("platform"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open platform: %w", err)
	}

	monitor, enforcer := BuildMonitor(cfg, pol, platform, store, domain.TimerScheduler{}, logger)
	usage := usecase.NewUsageService(store, domain.RealClock{}, policy.CanonicalAppID(pol), cfg.Budget, logger.Named("usage"))

	rt := &Runtime{
		Config:   cfg,
		Policy:   pol,
		Store:    store,
		Platform: platform,
		Monitor:  monitor,
		Usage:    usage,
		enforcer: enforcer,
		logger:   logger,
	}
	if cfg.Control.Enabled {
		rt.Control = control.NewServer(control.Config{ListenAddr: cfg.Control.Listen}, usage, logger.Named("control"))
	}

	logger.Info("runtime ready",
		zap.String("policy", pol.ID()),
		zap.String("platform", cfg.Platform),
		zap.String("storage", cfg.Storage.Type),
		zap.Duration("budget", cfg.Budget))
	return rt, nil
}

// Watcher returns the daemon loop over this runtime.
func (rt *Runtime) Watcher() *Watcher {
	var ctrl ControlServer
	if rt.Control != nil {
		ctrl = rt.Control
	}
	return NewWatcher(
		WatcherConfig{StatsInterval: rt.Config.Daemon.StatsInterval},
		rt.Platform.Source,
		rt.Monitor,
		rt.Store,
		ctrl,
		infra.NewFileRegistry(rt.Config.Storage.DataDir, infra.NewProcessManager()),
		rt.logger.Named("watcher"),
	)
}

// Close cancels pending redirects and releases the platform and the ledger.
func (rt *Runtime) Close() error {
	rt.enforcer.Close()
	return errors.Join(rt.Platform.Close(), rt.Store.Close())
}

// ImmediateScheduler runs deferred actions synchronously. Replays use it so
// the redirect is observed in order with the eviction.
type ImmediateScheduler struct{}

// AfterFunc implements domain.Scheduler.
func (ImmediateScheduler) AfterFunc(_ time.Duration, f func()) func() bool {
	f()
	return func() bool { return false }
}

// Replayer feeds a recorded host-bridge transcript through a monitor.
type Replayer struct {
	bridge   *hostbridge.Bridge
	monitor  *usecase.Monitor
	enforcer *usecase.BudgetEnforcer
}

// NewReplayer wires a monitor over a host bridge that never reads its own
// input. Commands the monitor issues are written to commands.
func NewReplayer(cfg *config.Config, store domain.LedgerStore, commands io.Writer, logger *zap.Logger) (*Replayer, error) {
	pol, err := policy.NewRegistry().Lookup(cfg.Policy)
	if err != nil {
		return nil, err
	}
	bridge := hostbridge.New(io.NopCloser(strings.NewReader("")), commands, domain.RealClock{}, logger.Named("platform"))
	platform := &Platform{Source: bridge, Trees: bridge, Control: bridge, Launcher: bridge}
	monitor, enforcer := BuildMonitor(cfg, pol, platform, store, ImmediateScheduler{}, logger)
	return &Replayer{bridge: bridge, monitor: monitor, enforcer: enforcer}, nil
}

// Step handles one transcript line and returns the resulting event and outcome.
func (r *Replayer) Step(ctx context.Context, line []byte) (domain.ForegroundEvent, usecase.Outcome, error) {
	ev, err := r.bridge.Feed(line)
	if err != nil {
		return domain.ForegroundEvent{}, "", err
	}
	return ev, r.monitor.HandleEvent(ctx, ev), nil
}

// Monitor returns the replay monitor.
func (r *Replayer) Monitor() *usecase.Monitor {
	return r.monitor
}

// Close stops the replay enforcer.
func (r *Replayer) Close() error {
	r.enforcer.Close()
	return r.bridge.Close()
}
