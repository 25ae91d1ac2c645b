package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alarmd/internal/routine"
	"alarmd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- routine.Store ----

func (s *sqliteStore) ListEnabled(ctx context.Context) ([]routine.Definition, error) {
	return s.list(ctx, `SELECT id, name, enabled, steps_json, schedule_json, revision, last_run, run_count
		FROM routines WHERE enabled = 1 ORDER BY id`)
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]routine.Definition, error) {
	return s.list(ctx, `SELECT id, name, enabled, steps_json, schedule_json, revision, last_run, run_count
		FROM routines ORDER BY id`)
}

func (s *sqliteStore) list(ctx context.Context, query string) ([]routine.Definition, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routine.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetDefinition(ctx context.Context, id int64) (routine.Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, enabled, steps_json, schedule_json, revision, last_run, run_count
		 FROM routines WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return routine.Definition{}, fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	return def, err
}

func (s *sqliteStore) SaveDefinition(ctx context.Context, def routine.Definition) (routine.Definition, error) {
	stepsJSON, err := encodeSteps(def.Steps)
	if err != nil {
		return routine.Definition{}, err
	}
	schedJSON, err := encodeSchedule(def.Schedule)
	if err != nil {
		return routine.Definition{}, err
	}
	now := time.Now()

	if def.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO routines(name, enabled, steps_json, schedule_json, revision, run_count, created_at)
			 VALUES(?,?,?,?,1,0,?)`,
			def.Name, boolInt(def.Enabled), stepsJSON, schedJSON, encodeTime(now))
		if err != nil {
			return routine.Definition{}, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return routine.Definition{}, err
		}
		return s.GetDefinition(ctx, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE routines
		 SET name=?, enabled=?, steps_json=?, schedule_json=?, revision=revision+1, updated_at=?
		 WHERE id=?`,
		def.Name, boolInt(def.Enabled), stepsJSON, schedJSON, encodeTime(now), def.ID)
	if err != nil {
		return routine.Definition{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return routine.Definition{}, fmt.Errorf("routine %d: %w", def.ID, routine.ErrNotFound)
	}
	return s.GetDefinition(ctx, def.ID)
}

func (s *sqliteStore) DeleteDefinition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) Disable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE routines SET enabled=0, revision=revision+1, updated_at=? WHERE id=?`,
		encodeTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("routine %d: %w", id, routine.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) RecordRun(ctx context.Context, id int64, at time.Time, status routine.RunStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE routines SET last_run=?, run_count=run_count+1 WHERE id=?`,
		encodeTime(at), id)
	_ = status // kept in the run log; the definition row only tracks recency
	return err
}

// ---- routine.RunLog ----

func (s *sqliteStore) Append(ctx context.Context, rec routine.ExecutionRecord) error {
	stepsJSON, err := encodeStepResults(rec.Steps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(id, routine_id, routine_name, started_at, finished_at, status, error, steps_json)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID, rec.RoutineID, rec.RoutineName,
		encodeTime(rec.StartedAt), encodeTime(rec.FinishedAt),
		string(rec.Status), nullStr(rec.Error), stepsJSON)
	return err
}

func (s *sqliteStore) ListRecent(ctx context.Context, n int) ([]routine.ExecutionRecord, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, routine_id, routine_name, started_at, finished_at, status, error, steps_json
		 FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routine.ExecutionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetRecord(ctx context.Context, id string) (routine.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, routine_id, routine_name, started_at, finished_at, status, error, steps_json
		 FROM runs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return routine.ExecutionRecord{}, fmt.Errorf("run %s: %w", id, routine.ErrNotFound)
	}
	return rec, err
}

// ---- quotes ----

func (s *sqliteStore) RandomQuote(ctx context.Context) (Quote, error) {
	var q Quote
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, author FROM quotes WHERE active = 1 ORDER BY RANDOM() LIMIT 1`).
		Scan(&q.ID, &q.Text, &q.Author)
	if errors.Is(err, sql.ErrNoRows) {
		return Quote{}, fmt.Errorf("quotes: %w", routine.ErrNotFound)
	}
	return q, err
}

func (s *sqliteStore) AddQuote(ctx context.Context, q Quote) error {
	if strings.TrimSpace(q.Text) == "" {
		return errors.New("quote text is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes(text, author, active) VALUES(?,?,1)`, q.Text, q.Author)
	return err
}

// ---- scanning ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (routine.Definition, error) {
	var (
		def       routine.Definition
		enabled   int64
		stepsJSON string
		schedJSON string
		lastRun   any
	)
	if err := row.Scan(&def.ID, &def.Name, &enabled, &stepsJSON, &schedJSON, &def.Revision, &lastRun, &def.RunCount); err != nil {
		return routine.Definition{}, err
	}
	def.Enabled = enabled != 0
	def.LastRun = decodeTime(lastRun)

	var err error
	if def.Steps, err = decodeSteps(stepsJSON); err != nil {
		return routine.Definition{}, fmt.Errorf("routine %d: %w", def.ID, err)
	}
	if def.Schedule, err = decodeSchedule(schedJSON); err != nil {
		return routine.Definition{}, fmt.Errorf("routine %d: %w", def.ID, err)
	}
	return def, nil
}

func scanRecord(row rowScanner) (routine.ExecutionRecord, error) {
	var (
		rec       routine.ExecutionRecord
		started   any
		finished  any
		status    string
		errMsg    sql.NullString
		stepsJSON string
	)
	if err := row.Scan(&rec.ID, &rec.RoutineID, &rec.RoutineName, &started, &finished, &status, &errMsg, &stepsJSON); err != nil {
		return routine.ExecutionRecord{}, err
	}
	rec.StartedAt = decodeTime(started)
	rec.FinishedAt = decodeTime(finished)
	rec.Status = routine.RunStatus(status)
	rec.Error = errMsg.String

	var err error
	if rec.Steps, err = decodeStepResults(stepsJSON); err != nil {
		return routine.ExecutionRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	return rec, nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
