// Package infra implements infrastructure concerns (ledger stores, processes, launching).
package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByName returns PIDs of processes matching the pattern (case-insensitive).
// The calling process is never matched.
func (pm *ProcessManagerImpl) FindByName(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	patternLower := strings.ToLower(pattern)

	var found []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(strings.ToLower(name), patternLower) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a process with given PID exists.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Navigator performs back navigation in the foreground window.
type Navigator interface {
	GoBack(ctx context.Context) error
}

// ProcessEvictor is the desktop PlatformControl: there is no home screen, so
// eviction terminates the restricted app's processes.
type ProcessEvictor struct {
	pm        domain.ProcessManager
	patterns  []string
	navigator Navigator
	logger    *zap.Logger
}

// NewProcessEvictor creates an evictor for the given process name patterns.
// navigator may be nil when back navigation is unsupported.
func NewProcessEvictor(pm domain.ProcessManager, patterns []string, navigator Navigator, logger *zap.Logger) *ProcessEvictor {
	return &ProcessEvictor{
		pm:        pm,
		patterns:  patterns,
		navigator: navigator,
		logger:    logger,
	}
}

// GoHome kills every process matching one of the patterns.
func (e *ProcessEvictor) GoHome(ctx context.Context) error {
	var errs []error
	killed := 0
	for _, pattern := range e.patterns {
		pids, err := e.pm.FindByName(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("find %s: %w", pattern, err))
			continue
		}
		for _, pid := range pids {
			if err := e.pm.Kill(pid); err != nil {
				e.logger.Warn("failed to kill process",
					zap.String("pattern", pattern),
					zap.Int("pid", pid),
					zap.Error(err))
				errs = append(errs, err)
				continue
			}
			killed++
		}
	}
	e.logger.Info("eviction done", zap.Int("killed", killed))
	return errors.Join(errs...)
}

// GoBack delegates to the navigator.
func (e *ProcessEvictor) GoBack(ctx context.Context) error {
	if e.navigator == nil {
		return errors.New("back navigation not supported")
	}
	return e.navigator.GoBack(ctx)
}

// Ensure implementations satisfy the domain interfaces.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
var _ domain.PlatformControl = (*ProcessEvictor)(nil)
