package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/routine"
	"alarmd/internal/step"
	"alarmd/internal/storage"
	"alarmd/pkg/logx"
)

type beepStep struct {
	mu  sync.Mutex
	ran int
}

func (b *beepStep) Kind() string    { return "beep" }
func (b *beepStep) Validate() error { return nil }
func (b *beepStep) Execute(context.Context) error {
	b.mu.Lock()
	b.ran++
	b.mu.Unlock()
	return nil
}
func (b *beepStep) Stop()           {}
func (b *beepStep) Summary() string { return "beep" }

func (b *beepStep) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ran
}

func newTestService(t *testing.T) (*Service, *storage.Memory, *beepStep, eventbus.Bus) {
	t.Helper()
	store := storage.NewMemory()
	beep := &beepStep{}
	reg := step.NewRegistry()
	reg.Register("beep", func(step.Config) (step.Step, error) { return beep, nil })
	bus := eventbus.New()
	svc := New(Config{Enabled: true, ReloadEvery: time.Hour}, store, store, reg, bus, logx.Nop())
	return svc, store, beep, bus
}

func saveRecurring(t *testing.T, store *storage.Memory, name string) routine.Definition {
	t.Helper()
	def, err := store.SaveDefinition(context.Background(), routine.Definition{
		Name:    name,
		Enabled: true,
		Steps:   []routine.StepConfig{{Kind: "beep"}},
		Schedule: routine.Schedule{
			Kind:      routine.ScheduleRecurring,
			TimeOfDay: "07:00",
			Days:      []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		},
	})
	if err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	return def
}

func TestReloadIdempotent(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	def := saveRecurring(t, store, "morning")

	svc.Start(context.Background())
	defer svc.Stop()

	first := svc.Status()
	if len(first.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(first.Entries))
	}
	svc.mu.Lock()
	verBefore := svc.ver[def.ID]
	svc.mu.Unlock()

	// Second pass with an unchanged store must not replace the entry.
	rep, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rep.Loaded != 1 || rep.Removed != 0 || len(rep.Errors) != 0 {
		t.Fatalf("report = %+v, want loaded=1 only", rep)
	}
	svc.mu.Lock()
	verAfter := svc.ver[def.ID]
	svc.mu.Unlock()
	if verAfter != verBefore {
		t.Fatal("unchanged definition was rescheduled")
	}

	second := svc.Status()
	if !second.Entries[0].NextFire.Equal(first.Entries[0].NextFire) {
		t.Fatalf("next fire drifted: %v -> %v", first.Entries[0].NextFire, second.Entries[0].NextFire)
	}
}

func TestReloadRevisionChangeReschedules(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	def := saveRecurring(t, store, "morning")

	svc.Start(context.Background())
	defer svc.Stop()

	def.Schedule.TimeOfDay = "08:30"
	if _, err := store.SaveDefinition(context.Background(), def); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}
	if _, err := svc.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	st := svc.Status()
	if len(st.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(st.Entries))
	}
	if st.Entries[0].Revision != def.Revision+1 {
		t.Fatalf("entry revision = %d, want %d", st.Entries[0].Revision, def.Revision+1)
	}
	h, m := st.Entries[0].NextFire.Hour(), st.Entries[0].NextFire.Minute()
	if h != 8 || m != 30 {
		t.Fatalf("next fire = %02d:%02d, want 08:30", h, m)
	}
}

func TestReloadIsolatesInvalidDefinition(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	saveRecurring(t, store, "good")
	if _, err := store.SaveDefinition(context.Background(), routine.Definition{
		Name:    "bad",
		Enabled: true,
		Steps:   []routine.StepConfig{{Kind: "beep"}},
		Schedule: routine.Schedule{
			Kind:      routine.ScheduleRecurring,
			TimeOfDay: "07:00",
			// no weekdays: invalid
		},
	}); err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}

	svc.Start(context.Background())
	defer svc.Stop()

	rep, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rep.Loaded != 1 {
		t.Fatalf("loaded = %d, want 1", rep.Loaded)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Name != "bad" {
		t.Fatalf("errors = %+v, want one for 'bad'", rep.Errors)
	}

	st := svc.Status()
	if len(st.Entries) != 1 || st.Entries[0].Name != "good" {
		t.Fatalf("entries = %+v, want only 'good'", st.Entries)
	}
}

func TestReloadAutoDisablesExpiredOneShot(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	def, err := store.SaveDefinition(context.Background(), routine.Definition{
		Name:    "past",
		Enabled: true,
		Steps:   []routine.StepConfig{{Kind: "beep"}},
		Schedule: routine.Schedule{
			Kind: routine.ScheduleOnce,
			At:   time.Now().Add(-time.Hour),
		},
	})
	if err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}

	svc.Start(context.Background())
	defer svc.Stop()

	st := svc.Status()
	if len(st.Entries) != 0 {
		t.Fatalf("entries = %+v, want none", st.Entries)
	}
	got, err := store.GetDefinition(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if got.Enabled {
		t.Fatal("expired one-shot should be disabled in the store")
	}
}

func TestReloadRemovesDeletedDefinitions(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	def := saveRecurring(t, store, "doomed")

	svc.Start(context.Background())
	defer svc.Stop()

	if got := len(svc.Status().Entries); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}

	if err := store.DeleteDefinition(context.Background(), def.ID); err != nil {
		t.Fatalf("DeleteDefinition: %v", err)
	}
	rep, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rep.Removed != 1 {
		t.Fatalf("removed = %d, want 1", rep.Removed)
	}
	if got := len(svc.Status().Entries); got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}

// flakyStore injects ListEnabled failures into an otherwise working store.
type flakyStore struct {
	*storage.Memory
	mu   sync.Mutex
	fail bool
}

func (f *flakyStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *flakyStore) ListEnabled(ctx context.Context) ([]routine.Definition, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return f.Memory.ListEnabled(ctx)
}

func TestReloadStoreFailureKeepsTable(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{Memory: storage.NewMemory()}
	reg := step.NewRegistry()
	reg.Register("beep", func(step.Config) (step.Step, error) { return &beepStep{}, nil })
	svc := New(Config{Enabled: true, ReloadEvery: time.Hour}, fs, fs.Memory, reg, eventbus.New(), logx.Nop())
	def := saveRecurring(t, fs.Memory, "survivor")

	svc.Start(context.Background())
	defer svc.Stop()

	before := svc.Status()
	if len(before.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(before.Entries))
	}

	fs.setFail(true)
	if _, err := svc.Reload(context.Background()); err == nil {
		t.Fatal("Reload should surface the store error")
	}

	st := svc.Status()
	if len(st.Entries) != 1 {
		t.Fatalf("entries after failed reload = %+v, want the prior table", st.Entries)
	}
	if st.Entries[0].ID != def.ID || !st.Entries[0].NextFire.Equal(before.Entries[0].NextFire) {
		t.Fatalf("entry changed across a failed reload: %+v -> %+v", before.Entries[0], st.Entries[0])
	}

	fs.setFail(false)
	rep, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload after recovery: %v", err)
	}
	if rep.Loaded != 1 || len(rep.Errors) != 0 {
		t.Fatalf("report after recovery = %+v, want loaded=1 only", rep)
	}
}

func TestOneShotFiresAndDisables(t *testing.T) {
	t.Parallel()

	svc, store, beep, bus := newTestService(t)
	def, err := store.SaveDefinition(context.Background(), routine.Definition{
		Name:    "wake",
		Enabled: true,
		Steps:   []routine.StepConfig{{Kind: "beep"}},
		Schedule: routine.Schedule{
			Kind: routine.ScheduleOnce,
			At:   time.Now().Add(50 * time.Millisecond),
		},
	})
	if err != nil {
		t.Fatalf("SaveDefinition: %v", err)
	}

	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != "run.finished" {
				continue
			}
			re, ok := ev.Data.(RunEvent)
			if !ok || re.RoutineID != def.ID {
				continue
			}
			if re.Status != routine.StatusSuccess {
				t.Fatalf("run status = %s (%s), want success", re.Status, re.Error)
			}
		case <-deadline:
			t.Fatal("run.finished event never arrived")
		}
		break
	}

	if beep.count() != 1 {
		t.Fatalf("step ran %d times, want 1", beep.count())
	}

	got, err := store.GetDefinition(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if got.Enabled {
		t.Fatal("fired one-shot should be disabled")
	}
	if got.RunCount != 1 || got.LastRun.IsZero() {
		t.Fatalf("run metadata = count %d, last %v; want count 1 and non-zero last", got.RunCount, got.LastRun)
	}

	recs, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != routine.StatusSuccess {
		t.Fatalf("run log = %+v, want one success record", recs)
	}
}

func TestFireReschedulesRecurring(t *testing.T) {
	t.Parallel()

	svc, store, beep, bus := newTestService(t)
	def := saveRecurring(t, store, "weekday")

	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc.Start(context.Background())
	defer svc.Stop()

	svc.mu.Lock()
	ver := svc.ver[def.ID]
	before := svc.entries[def.ID].fireAt
	svc.mu.Unlock()

	svc.fire(def.ID, ver)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != "run.finished" {
				continue
			}
			re, ok := ev.Data.(RunEvent)
			if !ok || re.RoutineID != def.ID {
				continue
			}
			if re.Status != routine.StatusSuccess {
				t.Fatalf("run status = %s (%s), want success", re.Status, re.Error)
			}
		case <-deadline:
			t.Fatal("run.finished event never arrived")
		}
		break
	}

	if beep.count() != 1 {
		t.Fatalf("step ran %d times, want 1", beep.count())
	}

	// The fired entry must be replaced by a fresh one, never left to fire
	// again at the consumed time.
	st := svc.Status()
	if len(st.Entries) != 1 {
		t.Fatalf("entries = %+v, want a rescheduled entry", st.Entries)
	}
	if st.Entries[0].NextFire.Before(before) {
		t.Fatalf("next fire moved backwards: %v -> %v", before, st.Entries[0].NextFire)
	}
	if !st.Entries[0].NextFire.After(time.Now()) {
		t.Fatalf("next fire = %v, want strictly in the future", st.Entries[0].NextFire)
	}
	svc.mu.Lock()
	verAfter := svc.ver[def.ID]
	svc.mu.Unlock()
	if verAfter <= ver {
		t.Fatal("reschedule should install a fresh trigger entry")
	}

	got, err := store.GetDefinition(context.Background(), def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if !got.Enabled {
		t.Fatal("recurring routine must stay enabled after a fire")
	}
}

func TestFireWhileLockedRecordsAborted(t *testing.T) {
	t.Parallel()

	svc, store, beep, _ := newTestService(t)
	def := saveRecurring(t, store, "blocked")

	if !svc.Lock().TryAcquire("manual-run") {
		t.Fatal("TryAcquire failed")
	}
	defer svc.Lock().Release()

	svc.launch(context.Background(), def, time.Now(), time.Second)

	if beep.count() != 0 {
		t.Fatal("step must not run while the lock is held")
	}
	recs, err := store.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("run log has %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != routine.StatusAborted {
		t.Fatalf("status = %s, want aborted", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("aborted record should carry a reason")
	}
}

func TestStopClearsTriggerTable(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService(t)
	saveRecurring(t, store, "morning")

	svc.Start(context.Background())
	if got := len(svc.Status().Entries); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}

	svc.Stop()
	st := svc.Status()
	if st.Running {
		t.Fatal("Running should be false after Stop")
	}
	if len(st.Entries) != 0 {
		t.Fatalf("entries = %d after Stop, want 0", len(st.Entries))
	}
}
