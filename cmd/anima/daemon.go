package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"anima/internal/bootstrap"
	"anima/internal/config"
	"anima/internal/conversation"
	"anima/internal/logging"
	"anima/internal/loop"
	"anima/internal/mind"
	"anima/internal/ratelimit"
	"anima/internal/reports"
	"anima/internal/server"
	"anima/internal/session"
	"anima/internal/substrate"
	"anima/internal/upkeep"
	"anima/internal/usage"
)

// runDaemon wires the whole agent and blocks until shutdown. The
// returned exit code is 75 when the orchestrator asked to be
// restarted by its supervisor.
func runDaemon(parent context.Context) (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return exitError, err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.Boot()

	fs := substrate.OS{}
	clock := substrate.WallClock{}

	created, err := bootstrap.Seed(fs, cfg.SubstratePath)
	if err != nil {
		return exitError, fmt.Errorf("seed substrate: %w", err)
	}
	firstRun := len(created) > 0

	reader := substrate.NewReader(fs, cfg.SubstratePath, 16)
	lock := substrate.NewFileLock()
	writer := substrate.NewWriter(fs, reader, lock)
	appender := substrate.NewAppender(fs, reader, lock, clock)

	reportStore := reports.NewStore(fs, cfg.SubstratePath, clock)

	tracker := session.NewProcessTracker(cfg.StatePath)
	launcher, err := buildLauncher(ctx, cfg, tracker)
	if err != nil {
		return exitError, err
	}

	usageTracker, err := usage.NewTracker(cfg.StatePath, clock)
	if err != nil {
		return exitError, fmt.Errorf("open usage ledger: %w", err)
	}
	launcher = &usage.RecordingLauncher{Inner: launcher, Tracker: usageTracker}
	defer func() {
		if err := usageTracker.Flush(); err != nil {
			log.Warnw("usage flush failed", "error", err)
		}
	}()

	deps := mind.Deps{
		Launcher: launcher,
		Prompts:  mind.NewSubstratePrompts(reader),
		Classify: &mind.Classifier{
			StrategicModel: cfg.StrategicModelName(),
			TacticalModel:  cfg.TacticalModelName(),
		},
		Reader:   reader,
		Writer:   writer,
		Appender: appender,
		Clock:    clock,
		Defaults: session.Options{
			CWD:         cfg.WorkingDirectory,
			Timeout:     cfg.Session.Timeout(),
			IdleTimeout: cfg.Session.IdleTimeout(),
			MaxRetries:  cfg.Session.MaxRetries,
			RetryDelay:  cfg.Session.RetryDelay(),
		},
	}

	ego := mind.NewEgo(deps)
	sub := mind.NewSubconscious(deps)
	superego := mind.NewSuperego(deps, reportStore)
	id := mind.NewId(deps)

	compactor := conversation.NewCompactor(&conversation.LauncherSummarizer{
		Launcher: launcher,
		Model:    cfg.TacticalModelName(),
	})
	conv := conversation.NewManager(fs, reader, appender, lock, clock,
		compactor, conversation.NewArchiver(cfg.ConversationArchive))

	rl := ratelimit.NewStateManager(reader, writer, appender, clock)

	registry := prometheus.NewRegistry()
	emitter := loop.NewEmitter(clock)
	injector := session.NewInjector()

	restart := make(chan int, 1)
	orch := loop.New(loop.Options{
		Ego:          ego,
		Subconscious: sub,
		Superego:     superego,
		Conversation: conv,
		RateLimit:    rl,
		IdleHandler:  loop.NewDriveIdleHandler(id, superego),
		Clock:        clock,
		Timer:        loop.NewWallTimer(),
		Metrics:      loop.NewMetrics(registry),
		Emitter:      emitter,
		Injector:     injector,
		Shutdown: func(code int) {
			select {
			case restart <- code:
			default:
			}
			stop()
		},
		Config: loop.Config{
			CycleDelay:               cfg.CycleDelay(),
			IdleDelay:                cfg.IdleDelay(),
			SuperegoAuditInterval:    cfg.SuperegoAuditInterval,
			AutonomyReminderInterval: cfg.AutonomyReminderInterval,
			MaxConsecutiveIdleCycles: cfg.MaxConsecutiveIdleCycles,
			IdleSleepEnabled:         cfg.IdleSleepEnabled,
			ConversationIdleTimeout:  cfg.Session.ConversationIdleTimeout(),
		},
	})

	resumeSleep, err := decideBootState(orch, rl, clock, firstRun, cfg)
	if err != nil {
		log.Warnw("restart context resume failed", "error", err)
	}

	health := upkeep.NewHealth(reader, orch, cfg.SubstratePath, clock, emitter)
	backup := upkeep.NewBackup(cfg.Backup, cfg.SubstratePath, cfg.BackupPath, cfg.StatePath, clock, emitter)
	email := upkeep.NewEmail(cfg.Email, cfg.StatePath, reader, nil, clock, emitter)

	watcher, err := substrate.NewWatcher(cfg.SubstratePath, func(id substrate.FileID, path string) {
		emitter.Emit(loop.EventFileChanged, map[string]any{"id": string(id), "path": path})
		validateExternalEdit(reader, emitter, id)
	})
	if err != nil {
		log.Warnw("substrate watcher unavailable", "error", err)
	}

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), server.Deps{
		Orchestrator: orch,
		Reader:       reader,
		Reports:      reportStore,
		Health:       health,
		Usage:        usageTracker,
		Registry:     registry,
		Token:        cfg.Token,
	})

	g, gctx := errgroup.WithContext(ctx)
	if !resumeSleep.IsZero() {
		reset := resumeSleep
		g.Go(func() error { return orch.ResumeHibernation(gctx, reset) })
	}
	g.Go(func() error { return driveLoop(gctx, orch, cfg.Mode == config.ModeTick) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return backup.Run(gctx) })
	g.Go(func() error { return email.Run(gctx) })
	g.Go(func() error { return publishMetrics(gctx, orch, emitter) })
	if watcher != nil {
		if err := watcher.Start(gctx); err != nil {
			log.Warnw("substrate watcher start failed", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	log.Infow("anima up",
		"substrate", cfg.SubstratePath,
		"port", cfg.Port,
		"mode", string(cfg.Mode),
		"backend", cfg.Session.Backend,
		"state", string(orch.State()),
	)

	<-ctx.Done()
	_ = orch.Stop()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return exitError, err
	}

	select {
	case code := <-restart:
		log.Infow("restart requested", "exitCode", code)
		return code, nil
	default:
		return exitOK, nil
	}
}

// buildLauncher picks the session backend from configuration.
func buildLauncher(ctx context.Context, cfg *config.Config, tracker *session.ProcessTracker) (session.Launcher, error) {
	switch cfg.Session.Backend {
	case "", "claude-cli":
		return session.NewCLILauncher(tracker), nil
	case "gemini":
		return session.NewGeminiLauncher(ctx, os.Getenv("GEMINI_API_KEY"), cfg.TacticalModelName())
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// validateExternalEdit re-validates a substrate file after an outside
// edit settles, so a hand-broken PLAN surfaces on the event stream
// instead of at the next cycle.
func validateExternalEdit(reader *substrate.Reader, emitter *loop.Emitter, id substrate.FileID) {
	spec, err := substrate.Lookup(id)
	if err != nil || spec.Validate == nil {
		return
	}
	_, content, err := reader.Read(id)
	if err == nil {
		err = spec.Validate(content)
	}
	data := map[string]any{"id": string(id), "valid": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	emitter.Emit(loop.EventValidationComplete, data)
}

// publishMetrics pushes a counter snapshot onto the event stream once a
// minute, so dashboards that only hold a WebSocket stay current.
func publishMetrics(ctx context.Context, orch *loop.Orchestrator, emitter *loop.Emitter) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			emitter.Emit(loop.EventMetricsCollected, orch.Metrics())
		}
	}
}

// driveLoop keeps a loop driver alive for the life of the daemon.
// The driver returns when the state machine stops; driveLoop then
// waits for an API start (or wake) and runs it again. Tick mode swaps
// the per-decision cycle driver for the long-lived tick driver.
func driveLoop(ctx context.Context, orch *loop.Orchestrator, tickMode bool) error {
	run := orch.RunLoop
	if tickMode {
		run = orch.RunTickLoop
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if orch.State() != loop.StateStopped {
			if err := run(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// decideBootState resolves the starting state from the restart context
// and the auto-start configuration. A non-zero return is the reset time
// of a hibernation the caller must resume.
func decideBootState(orch *loop.Orchestrator, rl *ratelimit.StateManager,
	clock substrate.Clock, firstRun bool, cfg *config.Config) (time.Time, error) {
	rc, err := rl.Load()
	if err != nil {
		return time.Time{}, err
	}
	if rc.Hibernating(clock.Now()) {
		logging.Boot().Infow("unexpired hibernation on boot",
			"expectedReset", rc.ExpectedReset,
			"interruptedTask", rc.InterruptedTask,
		)
		return rc.ExpectedReset, nil
	}
	autoStart := cfg.AutoStartAfterRestart
	if firstRun {
		autoStart = cfg.AutoStartOnFirstRun
	}
	if autoStart {
		return time.Time{}, orch.Start()
	}
	return time.Time{}, nil
}
