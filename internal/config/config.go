// Package config loads applimit configuration from a YAML file and
// APPLIMIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// Platform names.
const (
	PlatformX11  = "x11"
	PlatformHost = "host"
)

// Storage types.
const (
	StorageSQLCipher = "sqlcipher"
	StorageRedis     = "redis"
	StorageMemory    = "memory"
)

// Config holds the complete application configuration
type Config struct {
	Policy      string            `mapstructure:"policy"`
	Budget      time.Duration     `mapstructure:"budget"`
	Platform    string            `mapstructure:"platform"`
	Enforcement EnforcementConfig `mapstructure:"enforcement"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Launcher    LauncherConfig    `mapstructure:"launcher"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Control     ControlConfig     `mapstructure:"control"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Daemon      DaemonConfig      `mapstructure:"daemon"`
}

// EnforcementConfig tunes the block action
type EnforcementConfig struct {
	RedirectDelay time.Duration `mapstructure:"redirect_delay"`
	RearmAfter    time.Duration `mapstructure:"rearm_after"`
}

// BrowserConfig lists browsers scanned for circumvention
type BrowserConfig struct {
	Apps     []string `mapstructure:"apps"`
	MaxNodes int      `mapstructure:"max_nodes"`
}

// LauncherConfig is the command that brings up the companion
type LauncherConfig struct {
	Command []string `mapstructure:"command"`
}

// StorageConfig selects the ledger backend
type StorageConfig struct {
	Type    string      `mapstructure:"type"`
	DataDir string      `mapstructure:"data_dir"`
	Key     string      `mapstructure:"key"` // hex SQLCipher key; empty uses <data_dir>/.key
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis ledger connection
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ControlConfig defines the local control API
type ControlConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DaemonConfig tunes the long-running loop
type DaemonConfig struct {
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return infra.DetectExecMode().ConfigPath
}

// Load loads configuration from file and environment variables. A missing
// file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APPLIMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.Storage.DataDir = infra.ExpandHome(config.Storage.DataDir)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("policy", "instagram")
	v.SetDefault("budget", "0s") // zero means the policy's default budget
	v.SetDefault("platform", PlatformX11)

	v.SetDefault("enforcement.redirect_delay", "300ms")
	v.SetDefault("enforcement.rearm_after", "5s")

	v.SetDefault("browser.apps", policy.DefaultBrowsers())
	v.SetDefault("browser.max_nodes", 2000)

	v.SetDefault("launcher.command", []string{"xdg-open", "applimit://open{route}"})

	v.SetDefault("storage.type", StorageSQLCipher)
	v.SetDefault("storage.data_dir", infra.DetectExecMode().DataDir)
	v.SetDefault("storage.key", "")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "applimit")

	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", "127.0.0.1:7788")

	v.SetDefault("logging.level", "info")

	v.SetDefault("daemon.stats_interval", "30s")
}

// validate checks values and resolves the policy default budget.
func validate(c *Config) error {
	p, err := policy.NewRegistry().Lookup(c.Policy)
	if err != nil {
		return err
	}
	if c.Budget < 0 {
		return fmt.Errorf("budget must not be negative, got %s", c.Budget)
	}
	if c.Budget == 0 {
		c.Budget = p.DefaultBudget()
	}

	switch c.Platform {
	case PlatformX11, PlatformHost:
	default:
		return fmt.Errorf("unknown platform %q", c.Platform)
	}

	switch c.Storage.Type {
	case StorageSQLCipher, StorageMemory:
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Enforcement.RedirectDelay < 0 || c.Enforcement.RearmAfter < 0 {
		return errors.New("enforcement delays must not be negative")
	}
	if c.Control.Enabled && c.Control.Listen == "" {
		return errors.New("control.listen is required when the control API is enabled")
	}
	if c.Daemon.StatsInterval <= 0 {
		return fmt.Errorf("daemon.stats_interval must be positive, got %s", c.Daemon.StatsInterval)
	}
	return nil
}
