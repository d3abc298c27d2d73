package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLiteOpts struct {
	BusyTimeout time.Duration // default 5s
	PingTimeout time.Duration // default 5s
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	username        TEXT NOT NULL UNIQUE,
	credential_hash TEXT NOT NULL,
	is_admin        INTEGER NOT NULL DEFAULT 0,
	credit_balance  INTEGER NOT NULL DEFAULT 0,
	reset_token     TEXT,
	reset_expiry    TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS delivery_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	reference         TEXT NOT NULL,
	ts                TIMESTAMP NOT NULL,
	phone             TEXT NOT NULL,
	message           TEXT NOT NULL,
	status            TEXT NOT NULL,
	provider_response TEXT NOT NULL DEFAULT '',
	event_type        TEXT NOT NULL,
	campaign_id       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_delivery_log_reference ON delivery_log(reference);
CREATE INDEX IF NOT EXISTS idx_delivery_log_phone ON delivery_log(phone);
`

// NewSQLiteConnection opens (and if needed initializes) the embedded store.
// WAL journaling keeps writes durable without blocking readers; the single
// connection avoids SQLITE_BUSY between in-process writers. Transactions
// begin immediate: the write lock is taken at BEGIN, so contention with a
// writer in another process waits under busy_timeout instead of failing a
// deferred read-to-write upgrade with SQLITE_BUSY_SNAPSHOT.
func NewSQLiteConnection(path string, opts SQLiteOpts) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}

	dsn := path
	if !strings.Contains(dsn, "_txlock=") {
		sep := "?"
		if strings.ContainsRune(dsn, '?') {
			sep = "&"
		}
		dsn += sep + "_txlock=immediate"
	}

	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(1)

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := dbx.Exec(pragma); err != nil {
			_ = dbx.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := dbx.Exec(schema); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := dbx.PingContext(ctx); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	return dbx, nil
}
