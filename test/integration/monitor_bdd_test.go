//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/control"
	"github.com/eliteGoblin/focusd/app_limit/internal/daemon"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra"
	"github.com/eliteGoblin/focusd/app_limit/internal/infra/hostbridge"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
	"github.com/eliteGoblin/focusd/app_limit/internal/usecase"
	"github.com/eliteGoblin/focusd/app_limit/test/fixtures"
)

const (
	instagram = "com.instagram.android"
	whatsapp  = "com.whatsapp"
	chrome    = "com.android.chrome"
)

var _ = Describe("Monitor with an encrypted ledger", func() {
	var (
		tmpDir string
		cfg    *config.Config
		store  domain.LedgerStore
		base   int64
		ctx    context.Context
	)

	openStore := func() domain.LedgerStore {
		s, err := daemon.OpenStore(cfg)
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	replay := func(s domain.LedgerStore, t *fixtures.Transcript) ([]usecase.Outcome, []string) {
		log := &fixtures.CommandLog{}
		r, err := daemon.NewReplayer(cfg, s, log, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		var outcomes []usecase.Outcome
		for _, line := range t.Lines() {
			_, outcome, err := r.Step(ctx, line)
			Expect(err).NotTo(HaveOccurred())
			outcomes = append(outcomes, outcome)
		}
		return outcomes, log.Commands()
	}

	used := func(s domain.LedgerStore) time.Duration {
		ledger, err := s.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		return ledger.Used
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "applimit-integration-*")
		Expect(err).NotTo(HaveOccurred())

		cfg = &config.Config{
			Policy:   "instagram",
			Budget:   time.Minute,
			Platform: config.PlatformHost,
			Enforcement: config.EnforcementConfig{
				RedirectDelay: 10 * time.Millisecond,
				RearmAfter:    5 * time.Second,
			},
			Browser: config.BrowserConfig{Apps: policy.DefaultBrowsers(), MaxNodes: 2000},
			Storage: config.StorageConfig{Type: config.StorageSQLCipher, DataDir: tmpDir},
			Control: config.ControlConfig{Enabled: true, Listen: "127.0.0.1:0"},
			Daemon:  config.DaemonConfig{StatsInterval: time.Hour},
		}
		ctx = context.Background()
		base = time.Now().UnixMilli()
		store = openStore()
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
		os.RemoveAll(tmpDir)
	})

	Describe("replaying a recorded stream", func() {
		Context("when usage spans a restart", func() {
			It("should carry the committed total and enforce once the budget is reached", func() {
				outcomes, commands := replay(store, fixtures.NewTranscript().
					Open(instagram, base).
					Change(instagram, base+30_000).
					Open(whatsapp, base+40_000))
				Expect(outcomes).To(Equal([]usecase.Outcome{
					usecase.OutcomeOpened, usecase.OutcomeExtended, usecase.OutcomeClosed,
				}))
				Expect(commands).To(Equal([]string{"launch"}))
				Expect(used(store)).To(Equal(40 * time.Second))

				// Restart: the session is gone, the ledger is not.
				Expect(store.Close()).To(Succeed())
				store = openStore()

				outcomes, commands = replay(store, fixtures.NewTranscript().
					Open(instagram, base+100_000).
					Change(instagram, base+121_000).
					Change(instagram, base+122_000))
				Expect(outcomes).To(Equal([]usecase.Outcome{
					usecase.OutcomeOpened, usecase.OutcomeEnforced, usecase.OutcomeBlocked,
				}))
				Expect(commands).To(Equal([]string{"home", "launch:/reason"}))
				Expect(used(store)).To(Equal(61 * time.Second))
			})
		})

		Context("when the service is opened in a browser", func() {
			It("should navigate back and account it as the restricted app", func() {
				outcomes, commands := replay(store, fixtures.NewTranscript().
					Browse(chrome, "https://www.instagram.com/reels/", base).
					Browse(chrome, "https://www.instagram.com/explore/", base+61_000))

				Expect(outcomes).To(Equal([]usecase.Outcome{usecase.OutcomeOpened, usecase.OutcomeEnforced}))
				Expect(commands).To(Equal([]string{"back", "launch", "back", "home", "launch:/reason"}))
				Expect(used(store)).To(Equal(61 * time.Second))
			})

			It("should ignore other sites", func() {
				outcomes, commands := replay(store, fixtures.NewTranscript().
					Browse(chrome, "https://news.ycombinator.com", base).
					Browse(chrome, "https://example.org", base+120_000))

				Expect(outcomes).To(Equal([]usecase.Outcome{usecase.OutcomeIgnored, usecase.OutcomeIgnored}))
				Expect(commands).To(BeEmpty())
				Expect(used(store)).To(BeZero())
			})
		})

		Context("when an override is active", func() {
			It("should neither account nor enforce", func() {
				usage := usecase.NewUsageService(store, domain.RealClock{}, instagram, cfg.Budget, zap.NewNop())
				_, err := usage.GrantOverride(ctx, 15*time.Minute)
				Expect(err).NotTo(HaveOccurred())

				outcomes, commands := replay(store, fixtures.NewTranscript().
					Open(instagram, base).
					Scroll(instagram, base+10_000).
					Change(instagram, base+120_000))

				Expect(outcomes).To(Equal([]usecase.Outcome{
					usecase.OutcomeOverride, usecase.OutcomeFiltered, usecase.OutcomeOverride,
				}))
				Expect(commands).To(Equal([]string{"launch"}), "first use is introduced even under override")
				Expect(used(store)).To(BeZero())
			})
		})
	})

	Describe("running as a daemon", func() {
		It("should enforce from a live stream and report usage over the control API", func() {
			pol, err := policy.NewRegistry().Lookup(cfg.Policy)
			Expect(err).NotTo(HaveOccurred())

			pr, pw := io.Pipe()
			commands := &fixtures.CommandLog{}
			bridge := hostbridge.New(pr, commands, domain.RealClock{}, zap.NewNop())
			platform := &daemon.Platform{Source: bridge, Trees: bridge, Control: bridge, Launcher: bridge}

			monitor, enforcer := daemon.BuildMonitor(cfg, pol, platform, store, domain.TimerScheduler{}, zap.NewNop())
			defer enforcer.Close()

			usage := usecase.NewUsageService(store, domain.RealClock{}, policy.CanonicalAppID(pol), cfg.Budget, zap.NewNop())
			server := control.NewServer(control.Config{ListenAddr: cfg.Control.Listen}, usage, zap.NewNop())
			registry := infra.NewFileRegistry(tmpDir, infra.NewProcessManager())
			watcher := daemon.NewWatcher(daemon.WatcherConfig{StatsInterval: time.Hour}, bridge, monitor, store, server, registry, zap.NewNop())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- watcher.Run(runCtx) }()

			go func() {
				_, _ = pw.Write(fixtures.NewTranscript().
					Open(instagram, base).
					Change(instagram, base+61_000).
					Bytes())
			}()

			Eventually(commands.Commands, 2*time.Second, 10*time.Millisecond).
				Should(Equal([]string{"launch", "home", "launch:/reason"}))

			Eventually(server.Addr, time.Second).ShouldNot(Equal(cfg.Control.Listen))
			state, err := registry.Get()
			Expect(err).NotTo(HaveOccurred())
			Expect(state.ControlAddr).To(Equal(server.Addr()))

			report, err := control.NewClient(state.ControlAddr).Usage(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.UsedMillis).To(Equal(int64(61_000)))
			Expect(report.RemainingMillis).To(BeZero())
			Expect(report.SeenIntro).To(BeTrue())

			cancel()
			Eventually(done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))
			Expect(registry.Path()).NotTo(BeAnExistingFile())
		})
	})
})
