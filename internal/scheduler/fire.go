package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"alarmd/internal/eventbus"
	"alarmd/internal/routine"
	"alarmd/pkg/logx"
)

// fire is the timer callback of one trigger entry. ver must match the
// entry's current version, otherwise the entry was replaced or removed
// after this timer was armed and the callback is stale.
func (s *Service) fire(id int64, ver uint64) {
	s.mu.Lock()
	if !s.running || s.ver[id] != ver {
		s.mu.Unlock()
		return
	}
	e := s.entries[id]
	if e == nil {
		s.mu.Unlock()
		return
	}
	// The entry has served its purpose; rescheduling below installs a
	// fresh one for recurring definitions.
	delete(s.entries, id)
	loc := s.loc
	stepTimeout := s.cfg.DefaultStepTimeout
	s.mu.Unlock()

	ctx := context.Background()
	now := time.Now().In(loc)

	// Re-read the definition at fire time, not the reconciliation-time
	// snapshot, so last-minute edits are honored.
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		s.log.Warn("fire skipped; definition unavailable",
			logx.Int64("routine_id", id),
			logx.String("routine", e.name),
			logx.Err(err))
		return
	}
	if !def.Enabled {
		s.log.Debug("fire skipped; routine disabled since scheduling",
			logx.Int64("routine_id", id),
			logx.String("routine", def.Name))
		return
	}

	// Advance the schedule first, independent of the run's outcome.
	switch def.Schedule.Kind {
	case routine.ScheduleOnce:
		if err := s.store.Disable(ctx, id); err != nil {
			s.log.Warn("one-time disable failed", logx.Int64("routine_id", id), logx.Err(err))
		}
	case routine.ScheduleRecurring:
		if next, err := def.Schedule.Next(now); err != nil {
			s.log.Warn("reschedule failed", logx.Int64("routine_id", id), logx.Err(err))
		} else {
			s.mu.Lock()
			if s.running && s.ver[id] == ver {
				s.scheduleEntryLocked(def, next)
			}
			s.mu.Unlock()
		}
	}

	s.launch(ctx, def, now, stepTimeout)
}

// launch constructs a Routine from def and starts it non-blocking. Lock
// contention is not an error condition: the fire becomes a no-op, recorded
// as an aborted run.
func (s *Service) launch(ctx context.Context, def routine.Definition, firedAt time.Time, stepTimeout time.Duration) {
	r, err := routine.New(def, s.reg, s.lock, s.log,
		routine.WithRunLog(s.runlog),
		routine.WithStepTimeout(stepTimeout),
	)
	if err != nil {
		s.appendTerminal(ctx, def, firedAt, routine.StatusFailed, err.Error())
		s.log.Warn("fire failed; routine invalid",
			logx.Int64("routine_id", def.ID),
			logx.String("routine", def.Name),
			logx.Err(err))
		return
	}

	h, err := r.Start(context.Background(), false)
	if errors.Is(err, routine.ErrAlreadyRunning) {
		s.appendTerminal(ctx, def, firedAt, routine.StatusAborted, "already running: "+s.lock.Owner())
		s.log.Warn("fire aborted; another routine is running",
			logx.Int64("routine_id", def.ID),
			logx.String("routine", def.Name),
			logx.String("holder", s.lock.Owner()))
		return
	}
	if err != nil {
		s.appendTerminal(ctx, def, firedAt, routine.StatusFailed, err.Error())
		s.log.Error("fire failed to start",
			logx.Int64("routine_id", def.ID),
			logx.String("routine", def.Name),
			logx.Err(err))
		return
	}

	s.mu.Lock()
	s.active = r
	s.mu.Unlock()

	if s.bus != nil {
		rec := h.Record()
		s.bus.Publish(eventbus.Event{Type: "run.started", Data: RunEvent{
			RunID:       rec.ID,
			RoutineID:   def.ID,
			RoutineName: def.Name,
		}})
	}

	// Watch the run to completion on its own goroutine so the trigger path
	// never blocks on execution. Deliberately not tied to the service
	// lifecycle: Stop() leaves in-flight runs to their Routine.
	go func() {
		rec, _ := h.Wait(context.Background())

		s.mu.Lock()
		if s.active == r {
			s.active = nil
		}
		s.mu.Unlock()

		s.recordRun(def.ID, rec.FinishedAt, rec.Status)
		if s.bus != nil {
			typ := "run.finished"
			if rec.Status == routine.StatusAborted {
				typ = "run.aborted"
			}
			s.bus.Publish(eventbus.Event{Type: typ, Data: RunEvent{
				RunID:       rec.ID,
				RoutineID:   def.ID,
				RoutineName: def.Name,
				Status:      rec.Status,
				Error:       rec.Error,
			}})
		}
	}()
}

// appendTerminal writes an execution record for a fire that never produced
// a running routine (lock contention, invalid definition).
func (s *Service) appendTerminal(ctx context.Context, def routine.Definition, firedAt time.Time, status routine.RunStatus, reason string) {
	now := time.Now()
	rec := routine.ExecutionRecord{
		ID:          uuid.NewString(),
		RoutineID:   def.ID,
		RoutineName: def.Name,
		StartedAt:   firedAt,
		FinishedAt:  now,
		Status:      status,
		Error:       reason,
	}
	if s.runlog != nil {
		if err := s.runlog.Append(ctx, rec); err != nil {
			s.log.Warn("run log append failed", logx.String("run", rec.ID), logx.Err(err))
		}
	}
	s.recordRun(def.ID, now, status)
	if s.bus != nil {
		typ := "run.finished"
		if status == routine.StatusAborted {
			typ = "run.aborted"
		}
		s.bus.Publish(eventbus.Event{Type: typ, Data: RunEvent{
			RunID:       rec.ID,
			RoutineID:   def.ID,
			RoutineName: def.Name,
			Status:      status,
			Error:       reason,
		}})
	}
}

func (s *Service) recordRun(id int64, at time.Time, status routine.RunStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RecordRun(ctx, id, at, status); err != nil {
		s.log.Warn("run metadata write failed", logx.Int64("routine_id", id), logx.Err(err))
	}
}
