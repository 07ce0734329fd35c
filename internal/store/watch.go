package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Version identifies a state of the checks table. Two different versions
// mean the checks changed.
type Version struct {
	UpdatedAt int64 // newest updated_at
	Rows      int64
}

func (v Version) String() string { return fmt.Sprintf("%d/%d", v.UpdatedAt, v.Rows) }

// ChangeDetector reads the current Version.
type ChangeDetector func(ctx context.Context, db *sql.DB) (Version, error)

// ChecksVersion pairs the newest updated_at with the row count, so edits
// register through the first and deletions through the second.
func ChecksVersion(ctx context.Context, db *sql.DB) (Version, error) {
	var v Version
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(updated_at), 0), COUNT(*) FROM ready_checks`).Scan(&v.UpdatedAt, &v.Rows)
	return v, err
}

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action fires.
	// Zero fires immediately.
	Debounce time.Duration
	// Detector defaults to ChecksVersion.
	Detector ChangeDetector
	Logger   *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Detector == nil {
		o.Detector = ChecksVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls the checks table and runs an action when it changes.
type Watcher struct {
	db   *sql.DB
	opts WatchOptions

	mu      sync.Mutex
	version Version
	reloads atomic.Int64
}

// NewWatcher creates a Watcher. Call OnChange to start it.
func NewWatcher(db *sql.DB, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Version returns the last version whose action succeeded.
func (w *Watcher) Version() Version {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

func (w *Watcher) setVersion(v Version) {
	w.mu.Lock()
	w.version = v
	w.mu.Unlock()
}

// Reloads returns the number of successful actions.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// OnChange blocks until ctx ends. The current version is the baseline; each
// later change, once the debounce window is quiet, runs action. A failing
// action leaves the version unchanged so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("store: initial version check failed", "error", err)
	} else {
		w.setVersion(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounce *time.Timer
	var debounceC <-chan time.Time
	var pending *Version
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				log.Warn("store: version check failed", "error", err)
				continue
			}
			if cur == w.Version() || (pending != nil && cur == *pending) {
				continue
			}
			pending = &cur
			if w.opts.Debounce <= 0 {
				w.fire(action, cur)
				pending = nil
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(w.opts.Debounce)
			debounceC = debounce.C
			log.Debug("store: checks changed, debouncing", "pending_version", cur)

		case <-debounceC:
			debounceC = nil
			if pending != nil {
				w.fire(action, *pending)
				pending = nil
			}
		}
	}
}

func (w *Watcher) fire(action func() error, ver Version) {
	log := w.opts.Logger
	start := time.Now()
	if err := action(); err != nil {
		log.Error("store: reload failed", "error", err, "version", ver)
		return
	}
	w.setVersion(ver)
	w.reloads.Add(1)
	log.Info("store: checks reloaded", "version", ver, "duration", time.Since(start))
}
