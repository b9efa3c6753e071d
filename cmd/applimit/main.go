// Package main is the CLI entry point for applimit.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "applimit",
	Short: "Time limit for one distracting app",
	Long: `applimit watches which application is in the foreground and accounts the
time spent in one restricted app (Instagram by default). Once the budget
is used up the app is sent away and the companion explains why.
Opening the same service in a browser counts too.`,
	Version:      Version,
	SilenceUsage: true,
}

// Hidden daemon command - the installed service runs this
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the monitor in the foreground",
	Hidden: true,
	RunE:   runDaemon,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the monitor service",
	Long: `Installs applimit as an OS service and starts it.
As root it installs a system service; otherwise a per-user service.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the monitor service",
	RunE:  runUninstall,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed monitor service",
	RunE:  runStart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <data_dir>/config.yaml)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	// Under a service manager, kardianos drives Start/Stop.
	if !service.Interactive() {
		s, err := daemon.NewService(daemon.NewProgram(cfg, logger), infra.DetectExecMode(), configPath)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		return s.Run()
	}

	rt, err := daemon.Bootstrap(cfg, logger)
	if err != nil {
		logger.Error("failed to start daemon", zap.Error(err))
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("failed to close runtime", zap.Error(err))
		}
	}()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	err = rt.Watcher().Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newService() (service.Service, *infra.ExecModeConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	execMode := infra.DetectExecMode()
	s, err := daemon.NewService(daemon.NewProgram(cfg, zap.NewNop()), execMode, configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, execMode, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	s, execMode, err := newService()
	if err != nil {
		return err
	}

	fmt.Printf("Execution mode: %s\n", execMode.Mode)
	if err := s.Install(); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("service installed but failed to start: %w", err)
	}
	fmt.Println("Service installed and started.")
	fmt.Printf("Data dir: %s\n", execMode.DataDir)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	s, _, err := newService()
	if err != nil {
		return err
	}

	_ = s.Stop() // may not be running
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall service: %w", err)
	}
	fmt.Println("Service uninstalled. The usage ledger is kept.")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	s, _, err := newService()
	if err != nil {
		return err
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	fmt.Println("Service started.")
	return nil
}

// createLogger builds the daemon's file logger in the data dir.
func createLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{filepath.Join(cfg.Storage.DataDir, "applimit.log")}
	zc.ErrorOutputPaths = []string{filepath.Join(cfg.Storage.DataDir, "applimit.error.log")}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err == nil {
		if logger, err := zc.Build(); err == nil {
			return logger
		}
	}
	// Fallback to stderr if file logging fails
	logger, _ := zap.NewProduction()
	return logger
}

// cliLogger is used by one-shot commands.
func cliLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("applimit %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
