// Package store implements the model store (C4): a write-ahead-logged
// SQLite database holding per-user enrolled face embeddings, encrypted at
// rest, with strict per-user isolation on every read and write path
// (spec.md §4.4).
package store

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/visage-project/visage/internal/logging"
)

// pool is a fixed-size SQLite connection pool with the daemon's standard
// pragma set applied to every connection, adapted from bureau's
// lib/sqlitepool.
type pool struct {
	inner *sqlitex.Pool
	path  string
}

func openPool(path string, poolSize int, onConnect func(*sqlite.Conn) error) (*pool, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, onConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	logging.Component("store").WithField("path", path).Info("model store opened")
	return &pool{inner: inner, path: path}, nil
}

func (p *pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) Put(conn *sqlite.Conn) { p.inner.Put(conn) }

func (p *pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", p.path, err)
	}
	logging.Component("store").WithField("path", p.path).Info("model store closed")
	return nil
}

// prepareConnection applies the daemon's standard pragmas: WAL mode for
// concurrent readers against a single writer, a busy timeout so a
// momentarily-contended writer doesn't surface as a hard error, and a
// modest page cache. Foreign keys are unused by this single-table schema.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-8192",
		"PRAGMA mmap_size=268435456",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		return onConnect(conn)
	}
	return nil
}
