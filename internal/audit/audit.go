// Package audit keeps an append-only local record of every feedback event the
// indexer folds into a score. The table exists for operators (sqlite3 shell,
// incident review); the pipeline never reads it back.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robomoustach/oracle/internal/chain"
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback_events (
	agent_id       TEXT    NOT NULL,
	client_addr    TEXT    NOT NULL,
	feedback_index INTEGER NOT NULL,
	value          TEXT    NOT NULL,
	block_number   INTEGER NOT NULL,
	log_index      INTEGER NOT NULL,
	tx_hash        TEXT    NOT NULL,
	cycle_start    TEXT    NOT NULL,
	UNIQUE (agent_id, client_addr, feedback_index, block_number, tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS idx_feedback_events_agent ON feedback_events (agent_id, block_number);
`

// Log is a SQLite-backed audit trail.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordEvents inserts events observed by the cycle that started at
// cycleStart. Re-observed events (resubmitted cycles) are ignored via the
// uniqueness constraint.
func (l *Log) RecordEvents(ctx context.Context, cycleStart time.Time, events []chain.FeedbackEvent) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO feedback_events
		(agent_id, client_addr, feedback_index, value, block_number, log_index, tx_hash, cycle_start)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("audit: prepare: %w", err)
	}
	defer stmt.Close()

	ts := cycleStart.UTC().Format(time.RFC3339)
	for _, ev := range events {
		_, err := stmt.ExecContext(ctx,
			ev.AgentID.String(),
			ev.ClientAddress.Hex(),
			ev.FeedbackIndex,
			ev.Value.String(),
			ev.BlockNumber,
			ev.LogIndex,
			ev.TxHash.Hex(),
			ts,
		)
		if err != nil {
			return fmt.Errorf("audit: insert event at block %d: %w", ev.BlockNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// EventCount returns the number of recorded events, for tests and health checks.
func (l *Log) EventCount(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: count: %w", err)
	}
	return n, nil
}
