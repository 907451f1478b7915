package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const (
	createSequenceTable = `CREATE TABLE IF NOT EXISTS global_sequence (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL DEFAULT 1
	)`
	seedSequence = `INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1)`
	takeSequence = `UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`
)

// sequenceCounter hands out the event sequence shared by
// llm_request_events and tutor_events. The single-row table keeps the
// counter across restarts; mu keeps concurrent turns in one process from
// racing on it.
type sequenceCounter struct {
	mu sync.Mutex
	db *sql.DB
}

func newSequenceCounter(db *sql.DB) (*sequenceCounter, error) {
	for _, stmt := range []string{createSequenceTable, seedSequence} {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("prepare event sequence: %w", err)
		}
	}
	return &sequenceCounter{db: db}, nil
}

func (c *sequenceCounter) Next(ctx context.Context) (seq int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.db.QueryRowContext(ctx, takeSequence).Scan(&seq); err != nil {
		return 0, fmt.Errorf("take event sequence: %w", err)
	}
	return seq, nil
}

// eventRepo is the EventRepo over the shared database.
type eventRepo struct {
	db  *sql.DB
	seq *sequenceCounter
}
