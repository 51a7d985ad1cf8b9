// Package app wires configuration, storage, adapters and the scheduler into
// the long-running relay service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"reelrelay/internal/config"
	"reelrelay/internal/eventbus"
	"reelrelay/internal/ledger"
	"reelrelay/internal/notifier"
	"reelrelay/internal/observability/ops"
	"reelrelay/internal/pipeline"
	"reelrelay/internal/relay"
	"reelrelay/internal/runtime/supervisor"
	"reelrelay/internal/source"
	"reelrelay/internal/task/scheduler"
	kit "reelrelay/internal/transport"
	"reelrelay/internal/transport/telegram"
	logx "reelrelay/pkg/logx"
	"reelrelay/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	operator *telegram.Client // nil when telegram.token is unset
	ledger   ledger.Ledger
	relay    *relay.Relay
	runner   *pipeline.Runner
	sched    *scheduler.Service
	notif    *notifier.Service
	ops      *ops.Server // nil when disabled
}

// New loads the configuration and builds every component. Nothing runs until
// Start (or RunOnce) is called.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	timeouts, err := cfg.ResolveTimeouts()
	if err != nil {
		return nil, err
	}
	if _, err := operatorChat(cfg); err != nil {
		return nil, fmt.Errorf("telegram.chat: %w", err)
	}
	if cfg.Ops.Enabled {
		if err := ops.CheckBind(mapOpsConfig(cfg)); err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if tok := strings.TrimSpace(cfg.Telegram.Token); tok != "" {
		a.operator, err = telegram.New(telegram.Config{Token: tok, APIURL: cfg.Telegram.APIURL}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("operator telegram: %w", err)
		}
		logSvc.SetSender(a.operator)
	}

	a.ledger, err = ledger.Open(ctx, mapLedgerConfig(cfg, timeouts), log.With(logx.String("comp", "ledger")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = a.ledger.Close()
			_ = logSvc.Close()
		}
	}()

	src, err := source.New(mapSourceConfig(cfg, timeouts), log)
	if err != nil {
		return nil, err
	}
	up, err := newUploader(cfg, timeouts, log)
	if err != nil {
		return nil, err
	}
	a.relay, err = relay.New(relay.Config{
		StagingDir:      cfg.Relay.StagingDir,
		DownloadTimeout: timeouts.Download,
		PublishTimeout:  timeouts.Publish,
		RatePerMinute:   cfg.Relay.RatePerMinute,
	}, up, log)
	if err != nil {
		return nil, err
	}

	a.runner, err = pipeline.New(mapPipelineConfig(cfg, timeouts), pipeline.Deps{
		Source:    src,
		Publisher: a.relay,
		Ledger:    a.ledger,
		Bus:       a.bus,
	}, log.With(logx.String("comp", "pipeline")))
	if err != nil {
		return nil, err
	}

	a.sched = scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Add(relayJob, cfg.Scheduler.Schedule, 0, a.runJob); err != nil {
		return nil, fmt.Errorf("scheduler.schedule: %w", err)
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sender kit.TextSender
	if a.operator != nil {
		sender = a.operator
	}
	a.notif = notifier.New(ncfg, sender, a.bus, log.With(logx.String("comp", "notifier")))

	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
			Runs:    a.runner,
			Status:  a.status,
			Trigger: func(reason string) error { return a.sched.Trigger(relayJob, reason) },
		}, log.With(logx.String("comp", "ops")))
	}

	ok = true
	return a, nil
}

func newUploader(cfg *config.Config, t config.Timeouts, log logx.Logger) (relay.Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Driver)) {
	case "", "facebook":
		return relay.NewFacebook(cfg.Relay.GraphBaseURL, &http.Client{}, log.With(logx.String("comp", "facebook"))), nil
	case "telegram":
		c, err := telegram.New(telegram.Config{
			Token:   cfg.Relay.Token,
			APIURL:  cfg.Relay.TelegramAPIURL,
			Timeout: t.Publish,
		}, log.With(logx.String("comp", "telegram.relay")))
		if err != nil {
			return nil, err
		}
		up, err := relay.NewTelegram(c)
		if err != nil {
			return nil, err
		}
		return up, nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
}

// runJob is the scheduled unit of work. An overlapping trigger is not a job
// failure; the runner already logged and published it.
func (a *App) runJob(ctx context.Context, trigger string) error {
	_, err := a.runner.RunTriggered(ctx, trigger)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return nil
	}
	return err
}

// RunOnce performs a single run in the foreground without starting the
// scheduler or any background loop.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	a.sweepStaging()
	return a.runner.RunTriggered(ctx, "once")
}

// ImportLedger merges the ids of a legacy processed.json file into the
// configured ledger.
func (a *App) ImportLedger(ctx context.Context, path string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	src, err := ledger.Open(ctx, ledger.Config{Driver: "file", Path: path}, a.log)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	n, err := ledger.Import(ctx, a.ledger, src)
	if err != nil {
		return n, err
	}
	a.log.Info("ledger imported", logx.String("from", path), logx.Int("added", n))
	return n, nil
}

func (a *App) status() map[string]any {
	out := map[string]any{
		"scheduler":      a.sched.Snapshot(),
		"notifier":       a.notif.Stats(),
		"events_dropped": a.bus.Dropped(),
	}
	if a.sup != nil {
		out["loops"] = a.sup.Snapshot()
	}
	return out
}

// sweepStaging removes staging files left behind by a crashed process. No run
// is in flight when it is called, so every staging file is an orphan.
func (a *App) sweepStaging() {
	n, err := a.relay.Stager().Sweep(0)
	if err != nil {
		a.log.Warn("staging sweep failed", logx.String("dir", a.relay.Stager().Dir()), logx.Err(err))
	}
	if n > 0 {
		a.log.Info("removed orphaned staging files", logx.Int("count", n))
	}
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return fmt.Errorf("telegram.chat: %w", err)
		}
		return nil
	})

	a.sweepStaging()
	a.sched.Start(a.sup.Context())

	a.sup.GoRestart("notifier", a.notif.Run)
	if a.ops != nil {
		a.sup.GoRestart("ops.http", a.ops.Serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	}
	a.sup.GoRestart("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.log)
	})
	a.sup.GoRestart("eventbus.log", a.logEvents)
	a.sup.GoRestart("config.apply", a.applyLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if a.cfgm.Get().Scheduler.RunOnStartEnabled() {
		if err := a.sched.Trigger(relayJob, "startup"); err != nil {
			return err
		}
	}

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	a.log.Info("app started", logx.Bool("ops", a.ops != nil), logx.Bool("operator_chat", a.operator != nil))
	return nil
}

// logEvents mirrors bus events at debug level.
func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// applyLoop applies hot-reloaded config. Scheduler, logging and notifier
// settings take effect immediately; the rest only log a restart warning.
func (a *App) applyLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RestartRequired(sections) {
		a.log.Warn("config changed in sections that need a restart; keeping running values",
			logx.String("changed", strings.Join(sections, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.sched.Reschedule(relayJob, next.Scheduler.Schedule); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

// Stop shuts down in dependency order. Each step is bounded so one component
// cannot stall the whole stop.
func (a *App) Stop(ctx context.Context) error {
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The scheduler drains an in-flight run first so its ledger writes land.
	step("scheduler", 30*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	}
	step("ledger", 2*time.Second, func(context.Context) error { return a.ledger.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// Close releases the ledger and log sinks of an app that was never started.
func (a *App) Close() error {
	err := a.ledger.Close()
	_ = a.logs.Close()
	return err
}
