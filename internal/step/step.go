// Package step defines the capability contract implemented by every routine
// action, plus the kind registry used to construct steps from persisted
// configuration. Steps know nothing about scheduling.
package step

import (
	"context"
	"fmt"
)

// Step is a single pluggable routine action.
//
// Contract:
//   - Validate is pure: no side effects, safe to call repeatedly, must
//     reject missing or malformed required fields.
//   - Execute performs the action and may block for real-world durations
//     (playing an alarm, holding a page open). It must honor ctx
//     cancellation between internal units of work.
//   - Stop requests early termination of an in-progress Execute. It must be
//     safe from another goroutine and a no-op when the step is not running.
//   - Summary returns a human-readable one-liner for logs and status output.
type Step interface {
	Kind() string
	Validate() error
	Execute(ctx context.Context) error
	Stop()
	Summary() string
}

// Factory builds a step of one kind from its raw config.
type Factory func(cfg Config) (Step, error)

// FieldError reports a missing or malformed config field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Missing reports a required field that was not set.
func Missing(field string) error {
	return &FieldError{Field: field, Reason: "required"}
}

// Invalid reports a field that was set but malformed.
func Invalid(field, reason string) error {
	return &FieldError{Field: field, Reason: reason}
}
