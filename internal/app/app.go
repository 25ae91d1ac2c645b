// Package app assembles the daemon: config, logging, storage, speech,
// notifications, the step registry and the scheduler, plus lifecycle and
// config hot-reload plumbing.
package app

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/notify"
	"alarmd/internal/scheduler"
	"alarmd/internal/speech"
	"alarmd/internal/step"
	"alarmd/internal/step/builtin"
	"alarmd/internal/storage"
	"alarmd/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	notifier *notify.Notifier
	bus      eventbus.Bus
	sched    *scheduler.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads the config file and wires every component. Nothing is running
// yet; call Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	store, err := storage.Open(storageConfig(cfg.Storage), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	notifier, err := notify.New(notifyConfig(cfg.Telegram), log.With(logx.String("comp", "notify")))
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	speaker := speech.New(speechConfig(cfg.Speech), log.With(logx.String("comp", "speech")))

	reg := step.NewRegistry()
	builtin.Register(reg, builtin.Env{
		Log:      log.With(logx.String("comp", "step")),
		Speaker:  speaker,
		Quotes:   quoteSource{store},
		Notifier: notifier,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	})

	bus := eventbus.New()

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, store, reg, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		notifier: notifier,
		bus:      bus,
		sched:    sched,
	}, nil
}

// Start launches the scheduler, the config watcher and the reload applier.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if cfg := a.cfgMgr.Get(); cfg == nil || cfg.Scheduler.Enabled {
		a.sched.Start(ctx)
	} else {
		a.log.Info("scheduler disabled by config")
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(ctx)
	}()

	updates := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(ctx, cfg)
			}
		}
	}()
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logxConfig(cfg.Logging))

	schedCfg, err := schedulerConfig(cfg.Scheduler)
	if err != nil {
		// Load-time validation makes this unreachable, but keep the guard.
		a.log.Warn("scheduler config invalid; keeping previous", logx.Err(err))
		return
	}
	a.sched.Apply(ctx, schedCfg)
	if _, err := a.sched.Reload(ctx); err != nil {
		a.log.Warn("reload after config change failed", logx.Err(err))
	}
	a.log.Info("config change applied")
}

// Stop shuts everything down in dependency order.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop()
	a.wg.Wait()
	a.notifier.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("shutdown complete")
	_ = a.logSvc.Close()
}

// Scheduler exposes the trigger service for status tooling.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store exposes the persistence layer for management commands.
func (a *App) Store() storage.Store { return a.store }

// ImportQuotes loads "text|author" lines from path into the quote table.
// Blank lines and lines starting with '#' are skipped.
func (a *App) ImportQuotes(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		text, author := line, ""
		if i := strings.LastIndex(line, "|"); i >= 0 {
			text = strings.TrimSpace(line[:i])
			author = strings.TrimSpace(line[i+1:])
		}
		if text == "" {
			continue
		}
		if err := a.store.AddQuote(ctx, storage.Quote{Text: text, Author: author}); err != nil {
			return n, err
		}
		n++
	}
	return n, sc.Err()
}

// quoteSource adapts the storage layer to the narrow contract the quote
// step consumes.
type quoteSource struct {
	store storage.Store
}

func (q quoteSource) RandomQuote(ctx context.Context) (string, string, error) {
	quote, err := q.store.RandomQuote(ctx)
	if err != nil {
		return "", "", err
	}
	return quote.Text, quote.Author, nil
}

// ---- config mapping ----

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func storageConfig(c config.StorageConfig) storage.Config {
	busy, _ := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}
}

func notifyConfig(c config.TelegramConfig) notify.Config {
	return notify.Config{Token: c.Token, ChatID: c.ChatID, RatePerSec: c.RatePerSec}
}

func speechConfig(c config.SpeechConfig) speech.Config {
	timeout, _ := config.ParseDurationField("speech.timeout", c.Timeout)
	return speech.Config{Command: c.Command, Timeout: timeout}
}

func schedulerConfig(c config.SchedulerConfig) (scheduler.Config, error) {
	reload, err := config.ParseDurationOrDefault("scheduler.reload_every", c.ReloadEvery, time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	stepTimeout, err := config.ParseDurationField("scheduler.default_step_timeout", c.DefaultStepTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:            c.Enabled,
		Timezone:           c.Timezone,
		ReloadEvery:        reload,
		DefaultStepTimeout: stepTimeout,
	}, nil
}
