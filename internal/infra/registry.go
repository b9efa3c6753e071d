package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

const registryFileName = "daemon.json"

// FileRegistry implements domain.DaemonRegistry as a JSON file in the data dir.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register saves the daemon state. Mode is detected from the effective UID.
func (r *FileRegistry) Register(state domain.DaemonState) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	// Lock against a second daemon racing on the same data dir
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	if state.Mode == "" {
		state.Mode = string(ExecModeUser)
		if os.Geteuid() == 0 {
			state.Mode = string(ExecModeSystem)
		}
	}
	if state.LastHeartbeat == 0 {
		state.LastHeartbeat = time.Now().Unix()
	}
	return r.atomicWrite(&state)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	state, err := r.Get()
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("no daemon registered at %s", r.path)
	}

	state.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(state)
}

// Get returns the registered state, or nil if none.
func (r *FileRegistry) Get() (*domain.DaemonState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return &state, nil
}

// IsAlive checks the registered PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	state, err := r.Get()
	if err != nil || state == nil || state.PID == 0 {
		return false, err
	}
	return r.processManager.IsRunning(state.PID), nil
}

// Clear removes the registry file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(state *domain.DaemonState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
