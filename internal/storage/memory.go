package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"alarmd/internal/routine"
)

// Memory is a volatile Store. It backs tests and the "memory" driver;
// semantics mirror the sqlite store, including revision bumps on update
// and on disable.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	defs   map[int64]routine.Definition
	runs   map[string]routine.ExecutionRecord
	order  []string // run IDs in append order
	quotes []Quote
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		defs:   make(map[int64]routine.Definition),
		runs:   make(map[string]routine.ExecutionRecord),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ListEnabled(ctx context.Context) ([]routine.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []routine.Definition
	for _, d := range m.defs {
		if d.Enabled {
			out = append(out, cloneDefinition(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListAll(ctx context.Context) ([]routine.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]routine.Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, cloneDefinition(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetDefinition(ctx context.Context, id int64) (routine.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok {
		return routine.Definition{}, fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	return cloneDefinition(d), nil
}

func (m *Memory) SaveDefinition(ctx context.Context, def routine.Definition) (routine.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if def.ID == 0 {
		def.ID = m.nextID
		m.nextID++
		def.Revision = 1
		def.RunCount = 0
		def.LastRun = time.Time{}
	} else {
		old, ok := m.defs[def.ID]
		if !ok {
			return routine.Definition{}, fmt.Errorf("routine %d: %w", def.ID, routine.ErrNotFound)
		}
		def.Revision = old.Revision + 1
		def.LastRun = old.LastRun
		def.RunCount = old.RunCount
	}
	m.defs[def.ID] = cloneDefinition(def)
	return cloneDefinition(def), nil
}

func (m *Memory) DeleteDefinition(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[id]; !ok {
		return fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	delete(m.defs, id)
	return nil
}

func (m *Memory) Disable(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok {
		return fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	d.Enabled = false
	d.Revision++
	m.defs[id] = d
	return nil
}

func (m *Memory) RecordRun(ctx context.Context, id int64, at time.Time, status routine.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.defs[id]
	if !ok {
		return fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	d.LastRun = at
	d.RunCount++
	m.defs[id] = d
	return nil
}

func (m *Memory) Append(ctx context.Context, rec routine.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[rec.ID] = cloneRecord(rec)
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *Memory) ListRecent(ctx context.Context, n int) ([]routine.ExecutionRecord, error) {
	if n <= 0 {
		n = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []routine.ExecutionRecord
	for i := len(m.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneRecord(m.runs[m.order[i]]))
	}
	return out, nil
}

func (m *Memory) GetRecord(ctx context.Context, id string) (routine.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return routine.ExecutionRecord{}, fmt.Errorf("run %s: %w", id, routine.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (m *Memory) RandomQuote(ctx context.Context) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.quotes) == 0 {
		return Quote{}, fmt.Errorf("quotes: %w", routine.ErrNotFound)
	}
	return m.quotes[rand.Intn(len(m.quotes))], nil
}

func (m *Memory) AddQuote(ctx context.Context, q Quote) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("quote text is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q.ID = int64(len(m.quotes) + 1)
	m.quotes = append(m.quotes, q)
	return nil
}

func cloneDefinition(d routine.Definition) routine.Definition {
	out := d
	if d.Steps != nil {
		out.Steps = make([]routine.StepConfig, len(d.Steps))
		for i, sc := range d.Steps {
			out.Steps[i] = routine.StepConfig{Kind: sc.Kind, Config: sc.Config.Clone()}
		}
	}
	if d.Schedule.Days != nil {
		out.Schedule.Days = append([]time.Weekday(nil), d.Schedule.Days...)
	}
	return out
}

func cloneRecord(r routine.ExecutionRecord) routine.ExecutionRecord {
	out := r
	if r.Steps != nil {
		out.Steps = append([]routine.StepResult(nil), r.Steps...)
	}
	return out
}
