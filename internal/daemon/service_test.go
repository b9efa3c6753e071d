package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

func TestServiceConfig(t *testing.T) {
	tests := []struct {
		name       string
		mode       infra.ExecMode
		configPath string
		wantArgs   []string
		wantUser   bool
	}{
		{"user mode", infra.ExecModeUser, "", []string{"daemon"}, true},
		{"system mode", infra.ExecModeSystem, "", []string{"daemon"}, false},
		{"explicit config", infra.ExecModeUser, "/etc/applimit.yaml", []string{"daemon", "--config", "/etc/applimit.yaml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ServiceConfig(&infra.ExecModeConfig{Mode: tt.mode}, tt.configPath)

			assert.Equal(t, infra.ServiceName, cfg.Name)
			assert.Equal(t, tt.wantArgs, cfg.Arguments)
			_, userService := cfg.Option["UserService"]
			assert.Equal(t, tt.wantUser, userService)
			assert.Equal(t, "always", cfg.Option["Restart"])
			assert.Equal(t, true, cfg.Option["KeepAlive"])
		})
	}
}

func newTestProgram(t *testing.T, fp *fakePlatform, buildErr error) *Program {
	t.Helper()
	cfg := testConfig(time.Minute)
	cfg.Storage.DataDir = t.TempDir()
	p := NewProgram(cfg, zap.NewNop())
	p.exit = func(code int) { t.Errorf("unexpected exit %d", code) }
	p.build = func(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		store := infra.NewMemoryLedgerStore(domain.UsageLedger{})
		platform := fp.platform()
		monitor, enforcer := BuildMonitor(cfg, policy.NewInstagramPolicy(), platform, store, ImmediateScheduler{}, logger)
		return &Runtime{
			Config:   cfg,
			Store:    store,
			Platform: platform,
			Monitor:  monitor,
			enforcer: enforcer,
			logger:   logger,
		}, nil
	}
	return p
}

func TestProgram_StartStop(t *testing.T) {
	fp := &fakePlatform{events: make(chan domain.ForegroundEvent)}
	p := newTestProgram(t, fp, nil)

	require.NoError(t, p.Start(nil))
	require.NoError(t, p.Stop(nil))

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.True(t, fp.closed, "platform released on stop")
}

func TestProgram_StopWithoutStart(t *testing.T) {
	p := newTestProgram(t, newFakePlatform(), nil)
	assert.NoError(t, p.Stop(nil))
}

func TestProgram_StartFailure(t *testing.T) {
	p := newTestProgram(t, newFakePlatform(), errors.New("no display"))

	assert.EqualError(t, p.Start(nil), "no display")
	assert.NoError(t, p.Stop(nil))
}

func TestProgram_SourceLossExitsForRestart(t *testing.T) {
	fp := newFakePlatform(event("com.instagram.android", 0))
	p := newTestProgram(t, fp, nil)
	exited := make(chan int, 1)
	p.exit = func(code int) { exited <- code }

	require.NoError(t, p.Start(nil))

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(5 * time.Second):
		t.Fatal("program kept running without an event source")
	}

	fp.mu.Lock()
	assert.True(t, fp.closed, "platform released before exit")
	fp.mu.Unlock()

	assert.NoError(t, p.Stop(nil), "a later stop from the manager is a no-op")
}

func TestProgram_StopDoesNotExit(t *testing.T) {
	fp := &fakePlatform{events: make(chan domain.ForegroundEvent)}
	p := newTestProgram(t, fp, nil)
	exited := make(chan int, 1)
	p.exit = func(code int) { exited <- code }

	require.NoError(t, p.Start(nil))
	require.NoError(t, p.Stop(nil))

	select {
	case code := <-exited:
		t.Fatalf("exit %d on a requested stop", code)
	case <-time.After(50 * time.Millisecond):
	}
}
