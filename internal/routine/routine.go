package routine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/step"
	"alarmd/pkg/logx"
)

// Routine executes an ordered sequence of steps as one mutually-exclusive
// unit. A Routine instance is built from a Definition (usually at fire time)
// and can run at most once at a time; the scheduler constructs a fresh one
// per fire.
type Routine struct {
	def   Definition
	steps []step.Step

	lock *ExecLock
	log  logx.Logger
	sink RunLog // optional

	defaultStepTimeout time.Duration

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stopOnce  *sync.Once
	cancelRun context.CancelFunc
	current   step.Step
}

type Option func(*Routine)

// WithRunLog makes the runner append an ExecutionRecord on every terminal
// state. Without it the record is still produced and available via Handle.
func WithRunLog(sink RunLog) Option {
	return func(r *Routine) { r.sink = sink }
}

// WithStepTimeout sets the default per-step wall-clock timeout, used when a
// step config does not carry its own "timeout" value. Zero disables it.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Routine) { r.defaultStepTimeout = d }
}

// New builds a Routine from a definition, resolving each step kind through
// the registry. An unknown kind is a validation error, not a crash.
func New(def Definition, reg *step.Registry, lock *ExecLock, log logx.Logger, opts ...Option) (*Routine, error) {
	if lock == nil {
		return nil, errors.New("exec lock is required")
	}
	var errs ValidationErrors
	steps := make([]step.Step, 0, len(def.Steps))
	for i, sc := range def.Steps {
		st, err := reg.New(sc.Kind, sc.Config)
		if err != nil {
			errs = append(errs, &ValidationError{Index: i, Kind: sc.Kind, Err: err})
			continue
		}
		steps = append(steps, st)
	}
	if len(errs) > 0 {
		return nil, errs
	}

	r := &Routine{
		def:   cloneDefinition(def),
		steps: steps,
		lock:  lock,
		log:   log.With(logx.String("routine", def.Name)),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Definition returns the definition this routine was built from. Together
// with New this forms the lossless round-trip used for persistence.
func (r *Routine) Definition() Definition { return cloneDefinition(r.def) }

func (r *Routine) Name() string { return r.def.Name }

// Summary lists the step summaries, one per line.
func (r *Routine) Summary() string {
	lines := make([]string, len(r.steps))
	for i, st := range r.steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, st.Summary())
	}
	return strings.Join(lines, "\n")
}

// Validate checks the whole routine and collects every problem instead of
// stopping at the first, so a caller sees all errors at once.
func (r *Routine) Validate() ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(r.def.Name) == "" {
		errs = append(errs, &ValidationError{Index: -1, Kind: "routine", Err: errors.New("name is required")})
	}
	if len(r.steps) == 0 {
		errs = append(errs, &ValidationError{Index: -1, Kind: "routine", Err: errors.New("at least one step is required")})
	}
	for i, st := range r.steps {
		if err := st.Validate(); err != nil {
			errs = append(errs, &ValidationError{Index: i, Kind: st.Kind(), Err: err})
		}
	}
	return errs
}

// Handle tracks one run. It is returned by Start and becomes ready when the
// run reaches a terminal state.
type Handle struct {
	done chan struct{}

	mu  sync.Mutex
	rec ExecutionRecord
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Record returns the finalized execution record. Only meaningful after Done
// is closed; before that it returns the record as created at start.
func (h *Handle) Record() ExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec
}

// Wait blocks until the run finishes or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) (ExecutionRecord, error) {
	select {
	case <-h.done:
		return h.Record(), nil
	case <-ctx.Done():
		return ExecutionRecord{}, ctx.Err()
	}
}

// Start begins executing the routine.
//
// It first tries to take the global execution lock; if another routine holds
// it, Start fails immediately with ErrAlreadyRunning and nothing ran. On
// success the steps run strictly in order: a step's Execute must return
// before the next begins. The lock is released on every exit path (success,
// failure, abort, panic) — a stuck lock would starve all future fires.
//
// With blocking=true Start returns after the run reaches a terminal state;
// with blocking=false the run proceeds on its own goroutine and the returned
// Handle can be polled or waited on.
func (r *Routine) Start(ctx context.Context, blocking bool) (*Handle, error) {
	if !r.lock.TryAcquire(r.def.Name) {
		return nil, ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		cancel()
		r.lock.Release()
		return nil, fmt.Errorf("routine %q is already started", r.def.Name)
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.stopOnce = &sync.Once{}
	r.cancelRun = cancel
	r.current = nil
	r.mu.Unlock()

	h := &Handle{done: make(chan struct{})}
	h.rec = ExecutionRecord{
		ID:          uuid.NewString(),
		RoutineID:   r.def.ID,
		RoutineName: r.def.Name,
		StartedAt:   time.Now(),
	}

	if blocking {
		r.run(runCtx, h)
	} else {
		go r.run(runCtx, h)
	}
	return h, nil
}

// Stop requests an abort of the current run: the executing step receives
// Stop(), remaining steps are skipped, and the run finishes as aborted.
// No-op when the routine is not running.
func (r *Routine) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	once := r.stopOnce
	stopCh := r.stopCh
	cancel := r.cancelRun
	cur := r.current
	r.mu.Unlock()

	once.Do(func() { close(stopCh) })
	if cancel != nil {
		cancel()
	}
	if cur != nil {
		cur.Stop()
	}
}

// Running reports whether a run is in flight.
func (r *Routine) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Routine) run(ctx context.Context, h *Handle) {
	rec := h.Record()
	start := time.Now()
	r.log.Info("routine started", logx.String("run", rec.ID), logx.Int("steps", len(r.steps)))

	defer func() {
		if p := recover(); p != nil {
			rec.Status = StatusFailed
			rec.Error = fmt.Sprintf("panic: %v", p)
			r.log.Error("panic during routine run", logx.String("run", rec.ID), logx.Any("panic", p))
		}
		r.finish(h, rec, start)
	}()

	// Validating: a definition edited since the last reconciliation may have
	// gone bad; a run never starts half-valid.
	if errs := r.Validate(); len(errs) > 0 {
		rec.Status = StatusFailed
		rec.Error = errs.Error()
		return
	}

	for i, st := range r.steps {
		if r.stopRequested() {
			rec.Status = StatusAborted
			rec.Error = "stop requested"
			return
		}

		r.mu.Lock()
		r.current = st
		r.mu.Unlock()

		stepCtx := ctx
		cancel := context.CancelFunc(func() {})
		if d := r.stepTimeout(i); d > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, d)
		}

		stepStart := time.Now()
		err := st.Execute(stepCtx)
		cancel()

		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()

		res := StepResult{Kind: st.Kind(), OK: err == nil, Duration: time.Since(stepStart)}
		if err != nil {
			res.Error = err.Error()
			rec.Steps = append(rec.Steps, res)

			// Cleanup even on failure so the step releases partial resources.
			st.Stop()

			if r.stopRequested() || errors.Is(err, context.Canceled) {
				rec.Status = StatusAborted
				rec.Error = fmt.Sprintf("aborted at step %d (%s)", i+1, st.Kind())
			} else {
				// Fail fast: remaining steps never execute.
				rec.Status = StatusFailed
				rec.Error = fmt.Sprintf("step %d (%s): %v", i+1, st.Kind(), err)
			}
			r.log.Warn("routine step failed",
				logx.String("run", rec.ID),
				logx.Int("step", i+1),
				logx.String("kind", st.Kind()),
				logx.Duration("took", res.Duration),
				logx.Err(err))
			return
		}

		rec.Steps = append(rec.Steps, res)
		r.log.Debug("routine step done",
			logx.String("run", rec.ID),
			logx.Int("step", i+1),
			logx.String("kind", st.Kind()),
			logx.Duration("took", res.Duration))
	}

	rec.Status = StatusSuccess
}

// finish is the single terminal path of a run: it finalizes the record,
// releases the lock, appends to the run log, and wakes waiters.
func (r *Routine) finish(h *Handle, rec ExecutionRecord, start time.Time) {
	rec.FinishedAt = time.Now()
	if rec.Status == "" {
		rec.Status = StatusFailed
		rec.Error = "run ended without a terminal status"
	}

	h.mu.Lock()
	h.rec = rec
	h.mu.Unlock()

	r.mu.Lock()
	r.running = false
	r.current = nil
	r.cancelRun = nil
	r.mu.Unlock()

	r.lock.Release()

	if r.sink != nil {
		sinkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Append(sinkCtx, rec); err != nil {
			r.log.Warn("run log append failed", logx.String("run", rec.ID), logx.Err(err))
		}
		cancel()
	}

	switch rec.Status {
	case StatusSuccess:
		r.log.Info("routine completed", logx.String("run", rec.ID), logx.Duration("took", time.Since(start)))
	case StatusAborted:
		r.log.Warn("routine aborted", logx.String("run", rec.ID), logx.Duration("took", time.Since(start)), logx.String("reason", rec.Error))
	default:
		r.log.Warn("routine failed", logx.String("run", rec.ID), logx.Duration("took", time.Since(start)), logx.String("reason", rec.Error))
	}

	close(h.done)
}

func (r *Routine) stopRequested() bool {
	r.mu.Lock()
	ch := r.stopCh
	r.mu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// stepTimeout resolves the per-step timeout: an explicit "timeout" in the
// step config wins over the routine default.
func (r *Routine) stepTimeout(i int) time.Duration {
	if i >= 0 && i < len(r.def.Steps) {
		if d, ok := r.def.Steps[i].Config.Duration("timeout"); ok {
			return d
		}
	}
	return r.defaultStepTimeout
}

func cloneDefinition(def Definition) Definition {
	cp := def
	cp.Steps = make([]StepConfig, len(def.Steps))
	for i, sc := range def.Steps {
		cp.Steps[i] = StepConfig{Kind: sc.Kind, Config: sc.Config.Clone()}
	}
	cp.Schedule.Days = append([]time.Weekday(nil), def.Schedule.Days...)
	return cp
}
