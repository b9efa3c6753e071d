package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show committed usage and the service state",
	RunE:  runStatus,
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Exempt the restricted app for a while",
	Long: `Sets or clears the override window. While it is active the restricted app
is neither accounted nor blocked.

  applimit override --minutes 15
  applimit override --until 2026-10-18T21:00:00+02:00
  applimit override --clear`,
	RunE: runOverride,
}

var replayCmd = &cobra.Command{
	Use:   "replay <events.jsonl>",
	Short: "Run the monitor over a recorded host-bridge stream",
	Long: `Feeds a recorded stream of host-bridge notifications through the monitor
with an in-memory ledger, printing each outcome and the commands issued.
Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List restricted-app policies and scanned browsers",
	RunE:  runList,
}

var (
	overrideMinutes int
	overrideUntil   string
	overrideClear   bool

	replayUsed      time.Duration
	replaySeenIntro bool
)

func init() {
	overrideCmd.Flags().IntVar(&overrideMinutes, "minutes", 0, "Allow the app for N minutes from now")
	overrideCmd.Flags().StringVar(&overrideUntil, "until", "", "Allow the app until an RFC3339 time")
	overrideCmd.Flags().BoolVar(&overrideClear, "clear", false, "Clear the override")
	overrideCmd.MarkFlagsMutuallyExclusive("minutes", "until", "clear")
	overrideCmd.MarkFlagsOneRequired("minutes", "until", "clear")

	replayCmd.Flags().DurationVar(&replayUsed, "used", 0, "Usage already committed before the replay")
	replayCmd.Flags().BoolVar(&replaySeenIntro, "seen-intro", false, "Start with the first-use intro already shown")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(listCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Println("\n=== applimit Status ===")

	if s, err := daemon.NewService(daemon.NewProgram(cfg, cliLogger()), infra.DetectExecMode(), configPath); err == nil {
		fmt.Printf("Service:   %s\n", serviceStatus(s))
	}

	addr := cfg.Control.Listen
	registry := infra.NewFileRegistry(cfg.Storage.DataDir, infra.NewProcessManager())
	state, err := registry.Get()
	switch {
	case err != nil:
		fmt.Printf("Daemon:    unknown (%v)\n", err)
	case state == nil:
		fmt.Println("Daemon:    not running")
	default:
		alive, _ := registry.IsAlive()
		age := time.Since(time.Unix(state.LastHeartbeat, 0)).Round(time.Second)
		fmt.Printf("Daemon:    PID %d (%s mode), %s, last heartbeat %s ago\n",
			state.PID, state.Mode, yesNo(alive, "alive", "dead"), age)
		if state.ControlAddr != "" {
			addr = state.ControlAddr
		}
	}

	if !cfg.Control.Enabled {
		fmt.Println("Control API disabled; usage not available")
		fmt.Println("=======================")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	report, err := control.NewClient(addr).Usage(ctx)
	if err != nil {
		fmt.Printf("Usage:     unavailable (%v)\n", err)
		fmt.Println("=======================")
		return nil
	}
	printReport(os.Stdout, report)
	fmt.Println("=======================")
	return nil
}

func serviceStatus(s service.Service) string {
	status, err := s.Status()
	if err != nil {
		return fmt.Sprintf("not installed (%v)", err)
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func printReport(w io.Writer, r *domain.UsageReport) {
	used := time.Duration(r.UsedMillis) * time.Millisecond
	budget := time.Duration(r.BudgetMillis) * time.Millisecond
	remaining := time.Duration(r.RemainingMillis) * time.Millisecond

	fmt.Fprintf(w, "App:       %s\n", r.AppID)
	fmt.Fprintf(w, "Used:      %s of %s\n", used.Round(time.Second), budget)
	fmt.Fprintf(w, "Remaining: %s\n", remaining.Round(time.Second))
	fmt.Fprintf(w, "Intro:     %s\n", yesNo(r.SeenIntro, "seen", "not seen"))
	switch {
	case r.OverrideActive:
		fmt.Fprintf(w, "Override:  active until %s\n", r.OverrideUntil.Local().Format(time.RFC3339))
	case r.OverrideUntil != nil:
		fmt.Fprintf(w, "Override:  expired at %s\n", r.OverrideUntil.Local().Format(time.RFC3339))
	default:
		fmt.Fprintln(w, "Override:  none")
	}
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func runOverride(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Control.Enabled {
		return errors.New("control API is disabled in config")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	client := control.NewClient(controlAddr(cfg))

	switch {
	case overrideClear:
		if err := client.ClearOverride(ctx); err != nil {
			return err
		}
		fmt.Println("Override cleared.")
		return nil

	case overrideUntil != "":
		until, err := time.Parse(time.RFC3339, overrideUntil)
		if err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
		if _, err := client.SetOverrideUntil(ctx, until); err != nil {
			return err
		}
		fmt.Printf("Override active until %s\n", until.Local().Format(time.RFC3339))
		return nil

	default:
		if overrideMinutes <= 0 {
			return fmt.Errorf("--minutes must be positive, got %d", overrideMinutes)
		}
		resp, err := client.GrantOverride(ctx, overrideMinutes)
		if err != nil {
			return err
		}
		if resp.Until != nil {
			fmt.Printf("Override active until %s\n", resp.Until.Local().Format(time.RFC3339))
		}
		return nil
	}
}

// controlAddr prefers the address the running daemon registered.
func controlAddr(cfg *config.Config) string {
	state, err := infra.NewFileRegistry(cfg.Storage.DataDir, infra.NewProcessManager()).Get()
	if err == nil && state != nil && state.ControlAddr != "" {
		return state.ControlAddr
	}
	return cfg.Control.Listen
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	store := infra.NewMemoryLedgerStore(domain.UsageLedger{Used: replayUsed, SeenIntro: replaySeenIntro})
	defer store.Close()

	return replay(cmd.Context(), cfg, store, in, os.Stdout)
}

// replay prints the commands each notification caused, then its outcome line.
func replay(ctx context.Context, cfg *config.Config, store domain.LedgerStore, in io.Reader, out io.Writer) error {
	commands := &prefixWriter{w: out, prefix: "    -> "}
	r, err := daemon.NewReplayer(cfg, store, commands, cliLogger())
	if err != nil {
		return err
	}
	defer r.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++
		ev, outcome, err := r.Step(ctx, []byte(line))
		if err != nil {
			fmt.Fprintf(out, "%4d  skipped: %v\n", n, err)
			continue
		}
		fmt.Fprintf(out, "%4d  %s  %-32s %-16s %s\n",
			n, ev.ObservedAt.UTC().Format("15:04:05.000"), ev.SourceApp, ev.Kind, outcome)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	ledger, err := store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nused=%s seen_intro=%t budget=%s\n", ledger.Used, ledger.SeenIntro, cfg.Budget)
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events: %w", err)
	}
	return f, nil
}

// prefixWriter indents each command line the replay monitor writes.
type prefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return 0, err
	}
	if _, err := p.w.Write(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func runList(cmd *cobra.Command, args []string) error {
	registry := policy.NewRegistry()

	fmt.Println("\n=== Restricted Applications ===")

	for _, p := range registry.GetAll() {
		fmt.Printf("\n[%s] %s\n", p.ID(), p.Name())
		fmt.Println("  App IDs:")
		for _, id := range p.AppIDs() {
			fmt.Printf("    - %s\n", id)
		}
		fmt.Printf("  Service domain: %s\n", p.ServiceDomain())
		fmt.Println("  Desktop processes:")
		for _, proc := range p.ProcessPatterns() {
			fmt.Printf("    - %s\n", proc)
		}
		fmt.Printf("  Default budget: %s\n", p.DefaultBudget())
	}

	fmt.Println("\n=== Scanned Browsers ===")
	for _, b := range policy.DefaultBrowsers() {
		fmt.Printf("  - %s\n", b)
	}
	fmt.Println("\n===============================")
	return nil
}
