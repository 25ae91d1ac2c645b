package scheduler

import (
	"fmt"
	"time"

	"alarmd/internal/routine"
)

type Config struct {
	Enabled bool

	// Timezone is the IANA zone trigger times are evaluated in, e.g.
	// "America/New_York". Empty means the process-local zone.
	Timezone string

	// ReloadEvery is the periodic reconciliation interval. Zero means the
	// default (1m). Explicit Reload() calls work regardless.
	ReloadEvery time.Duration

	// DefaultStepTimeout caps each step's Execute when the step config does
	// not carry its own "timeout". Zero disables the cap.
	DefaultStepTimeout time.Duration
}

// triggerEntry is the in-memory record of one routine's next computed fire.
// Entries are replaced wholesale, never mutated in place; the per-ID version
// counter invalidates timer callbacks of replaced entries.
type triggerEntry struct {
	id     int64
	name   string
	rev    int64
	fireAt time.Time
	timer  *time.Timer
}

// DefinitionError ties a reload problem to one definition without failing
// the rest of the reconciliation.
type DefinitionError struct {
	ID   int64
	Name string
	Err  error
}

func (e DefinitionError) Error() string {
	return fmt.Sprintf("routine %d (%s): %v", e.ID, e.Name, e.Err)
}

// ReloadReport summarizes one reconciliation pass.
type ReloadReport struct {
	Loaded       int // enabled, valid definitions with a live trigger entry
	Removed      int // entries dropped (disabled, deleted, invalid)
	AutoDisabled int // expired one-shots disabled in the store
	Errors       []DefinitionError
}

// EntryStatus is the externally visible form of a trigger entry.
type EntryStatus struct {
	ID       int64
	Name     string
	NextFire time.Time
	Revision int64
}

// Status is the read-only surface consumed by external monitoring.
type Status struct {
	Running bool
	// ActiveRoutine is the name of the routine currently holding the
	// execution lock, or "".
	ActiveRoutine string
	Entries       []EntryStatus
}

// RunEvent is the payload of run.* bus events.
type RunEvent struct {
	RunID       string
	RoutineID   int64
	RoutineName string
	Status      routine.RunStatus
	Error       string
}

// ReloadEvent is the payload of reload.done bus events.
type ReloadEvent struct {
	Loaded       int
	Removed      int
	AutoDisabled int
	Errors       int
}
