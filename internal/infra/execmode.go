package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as a per-user service (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as a system service (sudo required)
	ExecModeSystem ExecMode = "system"
)

// ServiceName is the OS service name used by install/uninstall/start.
const ServiceName = "applimit"

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Where the ledger, its key, config and logs live
	ConfigPath string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return newExecModeConfig(ExecModeSystem, "/var/lib/applimit", true)
	}
	return GetUserModeConfig()
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Under sudo the invoking user's home directory is used.
func GetUserModeConfig() *ExecModeConfig {
	return newExecModeConfig(ExecModeUser, filepath.Join(GetRealUserHome(), ".applimit"), os.Geteuid() == 0)
}

func newExecModeConfig(mode ExecMode, dataDir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root service)"
	case ExecModeUser:
		return "user (per-user service)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the real user's home directory.
func ExpandHome(path string) string {
	return expandHomeWith(path, GetRealUserHome())
}

func expandHomeWith(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
