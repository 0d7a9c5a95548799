// Package app wires the bot together: config, logging, storage, the chat
// client, the birthday components and the daily scheduler are constructed
// and connected in one place.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/config"
	"birthdaybot/internal/dispatch"
	"birthdaybot/internal/render"
	"birthdaybot/internal/roster"
	"birthdaybot/internal/router"
	"birthdaybot/internal/scheduler"
	"birthdaybot/internal/storage"
	kit "birthdaybot/internal/transport"
	"birthdaybot/internal/transport/telegram"
	logx "birthdaybot/pkg/logx"
)

const rosterFlushInterval = 30 * time.Second

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	client *telegram.Client

	reg  *birthday.Registry
	dir  *birthday.Directory
	res  *birthday.Resolver
	ros  *roster.Roster
	disp *dispatch.Dispatcher
	card *render.Card

	sched  *scheduler.Service
	router *router.Router

	updates chan kit.Update

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	client, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	store, err := storage.Open(storage.Config{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Path,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	reg, err := birthday.NewRegistry(ctx, store, cfg.Birthdays.StrictDates, log.With(logx.String("comp", "registry")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dir, err := birthday.NewDirectory(ctx, store, log.With(logx.String("comp", "directory")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ros, err := roster.New(ctx, store, log.With(logx.String("comp", "roster")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	res := birthday.NewResolver(reg, log.With(logx.String("comp", "resolver")))
	card := render.NewCard(client, log.With(logx.String("comp", "render")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatch.New(dcfg, client, dir, card, ros.Name, log.With(logx.String("comp", "dispatch")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		client:  client,
		reg:     reg,
		dir:     dir,
		res:     res,
		ros:     ros,
		disp:    disp,
		card:    card,
		updates: make(chan kit.Update, 256),
	}

	sched, err := scheduler.New(mapScheduleConfig(cfg), a.reminderPass, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.sched = sched

	rt := router.New(client, reg, dir, res, ros, log.With(logx.String("comp", "router")))
	rt.SetAdmins(cfg.Telegram.AdminUserIDs)
	a.router = rt

	cfgm.SetValidator(func(c *config.Config) error { return validateConfig(c) })
	return a, nil
}

// reminderPass is the once-daily pass: resolve due communities, dispatch,
// report. Errors bubble to the scheduler which logs and re-arms.
func (a *App) reminderPass(ctx context.Context) error {
	due, err := a.res.DueToday(ctx, time.Now(), a.ros)
	if err != nil {
		return fmt.Errorf("resolve due reminders: %w", err)
	}
	if len(due) == 0 {
		a.log.Info("no birthdays due today")
		return nil
	}

	rep := a.disp.Dispatch(ctx, due)
	a.log.Info("reminders dispatched",
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
	)
	return nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.client.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.router.DispatchLoop(runCtx, a.updates)
	}()

	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.rosterFlushLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	// Best effort: no-op outside a systemd unit.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	a.log.Info("app started")
	return nil
}

func (a *App) rosterFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(rosterFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.ros.Flush(ctx); err != nil {
				a.log.Warn("roster flush failed", logx.Err(err))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig applies a reloaded configuration to live components. The
// validator already accepted cfg, so mapping errors here are unexpected.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))
	a.reg.SetStrict(cfg.Birthdays.StrictDates)
	a.router.SetAdmins(cfg.Telegram.AdminUserIDs)

	if dcfg, err := mapDispatchConfig(cfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.disp.Apply(dcfg)
	}

	prevEnabled := a.sched.Enabled()
	scfg := mapScheduleConfig(cfg)
	if err := a.sched.Apply(scfg); err != nil {
		a.log.Warn("invalid schedule config; keeping previous", logx.Err(err))
	} else {
		switch {
		case prevEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	if prev != nil {
		if cfg.Storage != prev.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if cfg.Telegram.Token != prev.Telegram.Token {
			a.log.Warn("telegram token changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	stopCtx, cancelStop := context.WithTimeout(ctx, 5*time.Second)
	defer cancelStop()

	a.sched.Stop(stopCtx)
	_ = a.client.Stop(stopCtx)

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-stopCtx.Done():
		a.log.Warn("shutdown timed out waiting for loops")
	}

	if err := a.ros.Flush(context.Background()); err != nil {
		a.log.Warn("final roster flush failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
