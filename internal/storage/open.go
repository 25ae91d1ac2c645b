package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"alarmd/internal/routine"
	"alarmd/pkg/logx"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-memory store (tests, throwaway setups)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Quote is one entry of the quote table read by the quote step.
type Quote struct {
	ID     int64
	Text   string
	Author string
}

// Store is the full persistence surface: the engine's Store/RunLog
// contracts plus the definition CRUD used by external editors and the
// quote table.
type Store interface {
	routine.Store
	routine.RunLog

	// SaveDefinition inserts (ID == 0) or updates a definition. Updates
	// bump the revision so reconciliation can spot the change.
	SaveDefinition(ctx context.Context, def routine.Definition) (routine.Definition, error)
	DeleteDefinition(ctx context.Context, id int64) error
	ListAll(ctx context.Context) ([]routine.Definition, error)

	RandomQuote(ctx context.Context) (Quote, error)
	AddQuote(ctx context.Context, q Quote) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
