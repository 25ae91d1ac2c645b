// Package routine holds the domain model of the daemon: routine definitions
// with their schedules, the execution-record shape written to the run log,
// the narrow store contracts, and the Routine runner itself.
package routine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"alarmd/internal/step"
)

// StepConfig is one persisted step: a kind tag plus its opaque parameters.
type StepConfig struct {
	Kind   string      `json:"kind"`
	Config step.Config `json:"config,omitempty"`
}

// Definition is the persisted form of a routine. The store owns it; the
// engine reads it and writes back run metadata (LastRun, RunCount, the
// auto-disable of expired one-shots).
type Definition struct {
	ID       int64
	Name     string
	Enabled  bool
	Steps    []StepConfig
	Schedule Schedule

	// Revision increases on every store update and is copied into trigger
	// entries so reconciliation can detect stale entries.
	Revision int64

	LastRun  time.Time
	RunCount int
}

type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
	StatusAborted RunStatus = "aborted"
)

// StepResult is the per-step outcome embedded in an ExecutionRecord.
type StepResult struct {
	Kind     string        `json:"kind"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExecutionRecord is the append-only record of one run. It is created when a
// run begins, finalized exactly once, and immutable thereafter.
type ExecutionRecord struct {
	ID          string
	RoutineID   int64
	RoutineName string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      RunStatus
	Error       string
	Steps       []StepResult
}

// Store is the persistence contract the engine consumes. The engine never
// issues raw queries.
type Store interface {
	ListEnabled(ctx context.Context) ([]Definition, error)
	GetDefinition(ctx context.Context, id int64) (Definition, error)
	Disable(ctx context.Context, id int64) error
	RecordRun(ctx context.Context, id int64, at time.Time, status RunStatus) error
}

// RunLog is the execution log sink. Append is called by the runner and the
// scheduler; the reads feed external status tooling.
type RunLog interface {
	Append(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, n int) ([]ExecutionRecord, error)
	GetRecord(ctx context.Context, id string) (ExecutionRecord, error)
}

var (
	// ErrAlreadyRunning is returned by Start when another routine holds the
	// execution lock. A scheduled fire that hits this is a no-op, logged as
	// an aborted run; it never queues.
	ErrAlreadyRunning = errors.New("another routine is already running")

	// ErrNotFound is returned by stores for unknown definition/record IDs.
	ErrNotFound = errors.New("not found")
)

// ValidationError pins a config problem to one step.
type ValidationError struct {
	Index int // zero-based step index
	Kind  string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ValidationErrors collects every problem found in a routine, so the caller
// sees all of them at once instead of fixing one per attempt.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
