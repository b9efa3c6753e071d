package daemon

import (
	"context"
	"os"
	"sync"

	"github.com/kardianos/service"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
)

// Program implements service.Interface around the watcher loop.
type Program struct {
	cfg    *config.Config
	logger *zap.Logger
	build  func(*config.Config, *zap.Logger) (*Runtime, error)
	exit   func(code int)

	mu     sync.Mutex
	rt     *Runtime
	cancel context.CancelFunc
	done   chan error
}

// NewProgram creates the service program. The runtime is built on Start.
func NewProgram(cfg *config.Config, logger *zap.Logger) *Program {
	return &Program{
		cfg:    cfg,
		logger: logger,
		build:  Bootstrap,
		exit:   os.Exit,
	}
}

// Start builds the runtime and runs the watcher in the background.
func (p *Program) Start(s service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rt, err := p.build(p.cfg, p.logger)
	if err != nil {
		p.logger.Error("failed to start daemon", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.rt = rt
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		err := rt.Watcher().Run(ctx)
		p.done <- err
		if ctx.Err() != nil {
			return
		}
		// Without a source nothing is enforced. Exit so the service manager
		// starts a fresh process with a new connection.
		p.logger.Error("watcher exited, leaving for a restart", zap.Error(err))
		if err := p.Stop(nil); err != nil {
			p.logger.Warn("failed to release runtime", zap.Error(err))
		}
		p.exit(1)
	}()
	return nil
}

// Stop cancels the watcher, waits for it and releases the runtime.
func (p *Program) Stop(s service.Service) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rt == nil {
		return nil
	}
	p.cancel()
	<-p.done

	err := p.rt.Close()
	p.rt = nil
	p.logger.Info("daemon stopped")
	return err
}

// ServiceConfig describes the installed service. User mode installs a
// per-user unit; system mode installs a root unit.
func ServiceConfig(mode *infra.ExecModeConfig, configPath string) *service.Config {
	cfg := &service.Config{
		Name:        infra.ServiceName,
		DisplayName: "applimit",
		Description: "Limits foreground time spent in a restricted app",
		Arguments:   []string{"daemon"},
		// The daemon exits when its event source is lost; both managers bring it back.
		Option: service.KeyValue{"Restart": "always", "KeepAlive": true},
	}
	if configPath != "" {
		cfg.Arguments = append(cfg.Arguments, "--config", configPath)
	}
	if mode.Mode == infra.ExecModeUser {
		cfg.Option["UserService"] = true
	}
	return cfg
}

// NewService wraps the program in a platform service manager.
func NewService(p *Program, mode *infra.ExecModeConfig, configPath string) (service.Service, error) {
	return service.New(p, ServiceConfig(mode, configPath))
}

var _ service.Interface = (*Program)(nil)
