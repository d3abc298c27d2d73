// Package store is the record store: durable, concurrency-safe tables for
// accounts (credits, credentials, reset tokens) and the append-only
// delivery log. Persistence is an embedded SQLite database in WAL mode;
// each table group is additionally guarded by its own in-process mutex so
// account mutations and log appends serialize independently and never
// contend with each other.
package store

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Store owns the on-disk representation of accounts and the delivery log.
// Every read returns a snapshot; every write runs in its own transaction.
type Store struct {
	db *sqlx.DB

	accountsMu sync.Mutex
	logMu      sync.Mutex
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// WithAccountsTx acquires the exclusive accounts lock, runs fn inside a SQL
// transaction and commits. The lock and the transaction are released on
// every exit path. All account mutations go through here, so two concurrent
// credit updates cannot interleave and lose an update.
func (s *Store) WithAccountsTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	return s.withTx(ctx, fn)
}

// withLogTx is the same discipline scoped to the delivery log table.
func (s *Store) withLogTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	return s.withTx(ctx, fn)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}
