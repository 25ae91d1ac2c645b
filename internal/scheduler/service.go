// Package scheduler owns the live trigger table: it reconciles in-memory
// trigger entries against the persisted routine definitions, fires routines
// at their computed times, and exposes the status/reload surface.
//
// Concurrency model: the trigger table is a single mutually-exclusive
// resource guarded by s.mu — timer callbacks, Reload and Status all
// serialize on it. Fired routines run on their own goroutines; at most one
// of them holds the shared ExecLock at a time.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/routine"
	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

type Service struct {
	log    logx.Logger
	store  routine.Store
	runlog routine.RunLog
	reg    *step.Registry
	bus    eventbus.Bus
	lock   *routine.ExecLock

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	running bool
	stopCh  chan struct{}
	entries map[int64]*triggerEntry
	ver     map[int64]uint64
	active  *routine.Routine

	wg sync.WaitGroup
}

func New(cfg Config, store routine.Store, runlog routine.RunLog, reg *step.Registry, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{
		log:     log,
		store:   store,
		runlog:  runlog,
		reg:     reg,
		bus:     bus,
		lock:    routine.NewExecLock(),
		cfg:     cfg,
		loc:     loadLocation(cfg.Timezone, log),
		entries: map[int64]*triggerEntry{},
		ver:     map[int64]uint64{},
	}
}

// Lock exposes the shared execution lock, mainly so ad-hoc (operator
// initiated) runs contend with scheduled fires instead of bypassing them.
func (s *Service) Lock() *routine.ExecLock { return s.lock }

// Start begins background triggering: an initial reconciliation plus a
// periodic reconcile loop. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	every := s.cfg.ReloadEvery
	s.mu.Unlock()

	if _, err := s.Reload(ctx); err != nil {
		// Store unavailable: prior table (empty on first start) stays
		// intact; the reconcile loop retries.
		s.log.Warn("initial reload failed", logx.Err(err))
	}

	if every <= 0 {
		every = time.Minute
	}
	s.wg.Add(1)
	go s.reconcileLoop(ctx, stopCh, every)

	s.log.Info("scheduler started", logx.String("tz", s.location().String()), logx.Duration("reload_every", every))
}

// Stop halts triggering and cancels all pending timers. It does not wait
// for an in-flight run: that run is owned by its Routine and continues
// independently.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	for id, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		s.ver[id]++
	}
	n := len(s.entries)
	s.entries = map[int64]*triggerEntry{}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped", logx.Int("cancelled", n))
}

// AbortRunning requests an abort of the currently running routine, if any.
func (s *Service) AbortRunning() bool {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.Stop()
	return true
}

// Apply swaps scheduler settings at runtime. A timezone change forces a
// reconciliation so every entry is recomputed in the new zone.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	newTZ := strings.TrimSpace(cfg.Timezone)
	tzChanged := oldTZ != newTZ
	if tzChanged {
		s.loc = loadLocation(newTZ, s.log)
	}
	running := s.running
	s.mu.Unlock()

	if tzChanged && running {
		if _, err := s.Reload(ctx); err != nil {
			s.log.Warn("reload after timezone change failed", logx.Err(err))
		}
	}
}

func (s *Service) reconcileLoop(ctx context.Context, stopCh <-chan struct{}, every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-t.C:
			if _, err := s.Reload(ctx); err != nil {
				s.log.Warn("periodic reload failed", logx.Err(err))
			}
		}
	}
}

func (s *Service) location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
