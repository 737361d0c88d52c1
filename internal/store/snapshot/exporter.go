// Package snapshot periodically exports the in-memory store's entries
// to a SQLite file for offline debugging. It is purely a one-way debug
// export: kvbusd never loads state back out of it at startup.
//
// Adapted from the teacher's store/sqlite.Writer: same WAL-mode,
// single-connection-pool open, same batched-insert-inside-a-transaction
// shape, traded for a key/value/expires_at schema and a poll loop over
// Store.Snapshot instead of a channel of candles.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kvbus/internal/metrics"
	"kvbus/internal/store"
)

// Config configures the snapshot exporter.
type Config struct {
	DBPath   string
	Interval time.Duration
}

// Exporter owns the SQLite connection the periodic export writes to.
type Exporter struct {
	db      *sql.DB
	store   *store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
}

// New opens (creating if absent) the SQLite file at cfg.DBPath in WAL
// mode and prepares its schema.
func New(cfg Config, s *store.Store, log *slog.Logger, m *metrics.Metrics) (*Exporter, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: schema: %w", err)
	}

	return &Exporter{db: db, store: s, log: log, metrics: m, cfg: cfg}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_snapshot (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER,
			taken_at   INTEGER NOT NULL
		);
	`)
	return err
}

// Run exports the store's full key set on every tick of cfg.Interval
// until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.exportOnce(); err != nil {
				e.log.Warn("snapshot export failed", slog.Any("err", err))
			}
		}
	}
}

func (e *Exporter) exportOnce() error {
	start := time.Now()
	entries := e.store.Snapshot()
	takenAt := start.Unix()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM kv_snapshot`); err != nil {
		tx.Rollback()
		return fmt.Errorf("snapshot: clear: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO kv_snapshot (key, value, expires_at, taken_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("snapshot: prepare: %w", err)
	}
	defer stmt.Close()

	for _, ent := range entries {
		var expiresAt any
		if !ent.ExpiresAt.IsZero() {
			expiresAt = ent.ExpiresAt.Unix()
		}
		if _, err := stmt.Exec(ent.Key, ent.Value, expiresAt, takenAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("snapshot: insert %q: %w", ent.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}

	if e.metrics != nil {
		e.metrics.SnapshotWriteDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Close releases the underlying SQLite connection.
func (e *Exporter) Close() error {
	return e.db.Close()
}
