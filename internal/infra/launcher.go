package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// RoutePlaceholder is replaced by the route hint in launcher arguments.
const RoutePlaceholder = "{route}"

// ExecLauncher starts the companion by running a configured command, e.g.
// xdg-open on an applimit:// URL.
type ExecLauncher struct {
	command []string
	run     func(ctx context.Context, name string, args ...string) error
}

// NewExecLauncher creates a launcher for command. Any argument containing
// {route} has it replaced by the route hint.
func NewExecLauncher(command []string) *ExecLauncher {
	return &ExecLauncher{
		command: command,
		run:     startDetached,
	}
}

// Launch runs the command. It does not wait for the companion to exit.
func (l *ExecLauncher) Launch(ctx context.Context, route domain.RouteHint) error {
	if len(l.command) == 0 {
		return errors.New("launcher command not configured")
	}
	args := make([]string, 0, len(l.command)-1)
	for _, arg := range l.command[1:] {
		args = append(args, strings.ReplaceAll(arg, RoutePlaceholder, string(route)))
	}
	if err := l.run(ctx, l.command[0], args...); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.command[0], err)
	}
	return nil
}

func startDetached(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

var _ domain.Launcher = (*ExecLauncher)(nil)
