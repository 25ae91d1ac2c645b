package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"alarmd/internal/eventbus"
	"alarmd/internal/routine"
	"alarmd/pkg/logx"
)

// Reload reconciles the trigger table against the store.
//
// Per definition:
//   - invalid schedule: entry removed (if any), reported as an error,
//     reconciliation continues for the rest.
//   - expired one-shot: auto-disabled in the store and removed, so a
//     restart cannot re-fire it.
//   - enabled and valid: next fire computed; the entry is replaced only
//     when its revision or fire time differs, which makes back-to-back
//     reloads with an unchanged store produce an identical table.
//
// Entries whose definitions vanished from the store (deleted or disabled)
// are removed. A store read failure aborts the whole pass and leaves the
// prior table intact.
//
// Safe to call concurrently with timer firing: the table mutex serializes
// both, and the per-ID version counters keep a replaced entry's in-flight
// timer callback from firing a stale definition.
func (s *Service) Reload(ctx context.Context) (ReloadReport, error) {
	var report ReloadReport

	defs, err := s.store.ListEnabled(ctx)
	if err != nil {
		return report, fmt.Errorf("store unavailable: %w", err)
	}

	s.mu.Lock()
	now := time.Now().In(s.loc)
	seen := make(map[int64]bool, len(defs))

	var toDisable []routine.Definition
	for _, def := range defs {
		seen[def.ID] = true

		if err := def.Schedule.Validate(); err != nil {
			if s.removeEntryLocked(def.ID) {
				report.Removed++
			}
			report.Errors = append(report.Errors, DefinitionError{ID: def.ID, Name: def.Name, Err: err})
			continue
		}

		next, err := def.Schedule.Next(now)
		if errors.Is(err, routine.ErrScheduleExpired) {
			if s.removeEntryLocked(def.ID) {
				report.Removed++
			}
			toDisable = append(toDisable, def)
			continue
		}
		if err != nil {
			if s.removeEntryLocked(def.ID) {
				report.Removed++
			}
			report.Errors = append(report.Errors, DefinitionError{ID: def.ID, Name: def.Name, Err: err})
			continue
		}

		if cur, ok := s.entries[def.ID]; ok && cur.rev == def.Revision && cur.fireAt.Equal(next) {
			report.Loaded++
			continue
		}
		s.scheduleEntryLocked(def, next)
		report.Loaded++
	}

	// Drop entries for definitions no longer enabled in the store.
	for id := range s.entries {
		if !seen[id] {
			if s.removeEntryLocked(id) {
				report.Removed++
			}
		}
	}
	s.mu.Unlock()

	// Store writes happen outside the table mutex.
	for _, def := range toDisable {
		if err := s.store.Disable(ctx, def.ID); err != nil {
			s.log.Warn("auto-disable failed",
				logx.Int64("routine_id", def.ID),
				logx.String("routine", def.Name),
				logx.Err(err))
			report.Errors = append(report.Errors, DefinitionError{ID: def.ID, Name: def.Name, Err: err})
			continue
		}
		report.AutoDisabled++
		s.log.Info("expired one-time routine disabled",
			logx.Int64("routine_id", def.ID),
			logx.String("routine", def.Name))
	}

	for _, de := range report.Errors {
		s.log.Warn("routine skipped on reload",
			logx.Int64("routine_id", de.ID),
			logx.String("routine", de.Name),
			logx.Err(de.Err))
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "reload.done", Data: ReloadEvent{
			Loaded:       report.Loaded,
			Removed:      report.Removed,
			AutoDisabled: report.AutoDisabled,
			Errors:       len(report.Errors),
		}})
	}
	s.log.Debug("reload done",
		logx.Int("loaded", report.Loaded),
		logx.Int("removed", report.Removed),
		logx.Int("auto_disabled", report.AutoDisabled),
		logx.Int("errors", len(report.Errors)))
	return report, nil
}

// scheduleEntryLocked replaces the entry for def with a fresh one firing at
// `at`. The version bump makes any in-flight callback of the previous timer
// a no-op. Call with s.mu held.
func (s *Service) scheduleEntryLocked(def routine.Definition, at time.Time) {
	if old, ok := s.entries[def.ID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	ver := s.ver[def.ID] + 1
	s.ver[def.ID] = ver

	e := &triggerEntry{id: def.ID, name: def.Name, rev: def.Revision, fireAt: at}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	id, localVer := def.ID, ver
	e.timer = time.AfterFunc(delay, func() { s.fire(id, localVer) })
	s.entries[def.ID] = e

	s.log.Debug("trigger scheduled",
		logx.Int64("routine_id", def.ID),
		logx.String("routine", def.Name),
		logx.Time("at", at),
		logx.Int64("rev", def.Revision))
}

// removeEntryLocked drops the entry for id and invalidates its timer.
// Call with s.mu held.
func (s *Service) removeEntryLocked(id int64) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	s.ver[id]++
	delete(s.entries, id)
	return true
}
