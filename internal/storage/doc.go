// Package storage provides the persistence drivers behind the engine's
// Store and RunLog contracts: a SQLite file (default) and an in-memory
// driver for tests and throwaway setups.
package storage
