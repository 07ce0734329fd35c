package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schema creates the checks table and the results journal.
const Schema = `
CREATE TABLE IF NOT EXISTS ready_checks (
	id                TEXT PRIMARY KEY,
	url               TEXT NOT NULL,
	selectors         TEXT NOT NULL DEFAULT '[]',
	stop_on_dom_ready INTEGER NOT NULL DEFAULT 1,
	wait_for_children INTEGER NOT NULL DEFAULT 1,
	timeout_ms        INTEGER NOT NULL DEFAULT 30000,
	observe           INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'active',
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ready_results (
	id         TEXT PRIMARY KEY,
	check_id   TEXT NOT NULL,
	url        TEXT NOT NULL,
	found      INTEGER NOT NULL,
	tag        TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	elapsed_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ready_results_check ON ready_results(check_id, created_at);
`

// Check is a row of ready_checks.
type Check struct {
	ID              string
	URL             string
	Selectors       []string
	StopOnDOMReady  bool
	WaitForChildren bool
	Timeout         time.Duration
	Observe         bool
	Status          string
}

// Result is a row of ready_results.
type Result struct {
	ID        string
	CheckID   string
	URL       string
	Found     bool
	Tag       string
	Content   string
	Elapsed   time.Duration
	CreatedAt time.Time
}

// LoadChecks returns the active checks ordered by id.
func LoadChecks(ctx context.Context, db *sql.DB) ([]Check, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, selectors, stop_on_dom_ready, wait_for_children,
		       timeout_ms, observe, status
		FROM ready_checks
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: load checks: %w", err)
	}
	defer rows.Close()

	var checks []Check
	for rows.Next() {
		var c Check
		var selsJSON string
		var stop, wait, observe int
		var timeoutMs int64
		if err := rows.Scan(&c.ID, &c.URL, &selsJSON, &stop, &wait, &timeoutMs, &observe, &c.Status); err != nil {
			return nil, fmt.Errorf("store: scan check: %w", err)
		}
		if err := json.Unmarshal([]byte(selsJSON), &c.Selectors); err != nil {
			return nil, fmt.Errorf("store: check %s: selectors: %w", c.ID, err)
		}
		c.StopOnDOMReady = stop != 0
		c.WaitForChildren = wait != 0
		c.Observe = observe != 0
		c.Timeout = time.Duration(timeoutMs) * time.Millisecond
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// UpsertCheck inserts or replaces a check and bumps its updated_at.
func UpsertCheck(ctx context.Context, db *sql.DB, c Check) error {
	sels, err := json.Marshal(c.Selectors)
	if err != nil {
		return fmt.Errorf("store: marshal selectors: %w", err)
	}
	if c.Status == "" {
		c.Status = "active"
	}
	_, err = exec(ctx, db, `
		INSERT INTO ready_checks (id, url, selectors, stop_on_dom_ready, wait_for_children,
		                          timeout_ms, observe, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			selectors = excluded.selectors,
			stop_on_dom_ready = excluded.stop_on_dom_ready,
			wait_for_children = excluded.wait_for_children,
			timeout_ms = excluded.timeout_ms,
			observe = excluded.observe,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, c.ID, c.URL, string(sels), boolInt(c.StopOnDOMReady), boolInt(c.WaitForChildren),
		c.Timeout.Milliseconds(), boolInt(c.Observe), c.Status, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store: upsert check %s: %w", c.ID, err)
	}
	return nil
}

// RecordResult appends r to the journal. An empty ID gets a UUIDv7.
func RecordResult(ctx context.Context, db *sql.DB, r Result) (string, error) {
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := exec(ctx, db, `
		INSERT INTO ready_results (id, check_id, url, found, tag, content, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CheckID, r.URL, boolInt(r.Found), r.Tag, r.Content,
		r.Elapsed.Milliseconds(), r.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store: record result: %w", err)
	}
	return r.ID, nil
}

// Results returns the journal for checkID, oldest first.
func Results(ctx context.Context, db *sql.DB, checkID string) ([]Result, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, check_id, url, found, tag, content, elapsed_ms, created_at
		FROM ready_results
		WHERE check_id = ?
		ORDER BY created_at, id
	`, checkID)
	if err != nil {
		return nil, fmt.Errorf("store: results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var found int
		var elapsedMs, createdMs int64
		if err := rows.Scan(&r.ID, &r.CheckID, &r.URL, &found, &r.Tag, &r.Content, &elapsedMs, &createdMs); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		r.Found = found != 0
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
