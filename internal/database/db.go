package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"netmon/internal/metrics"
)

// ErrDropped is returned when an append was abandoned after exhausting its
// retries. The record is lost; the caller logs and carries on.
var ErrDropped = errors.New("record dropped")

// timeLayout is fixed width so that lexical order of the stored text equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Options tune the append retry policy
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// DB wraps sql.DB with the observation store operations
type DB struct {
	*sql.DB

	logger      *slog.Logger
	metrics     *metrics.Metrics
	backoff     *ExponentialBackoff
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error

	// writeMu serializes appends so the probe and throughput cycles never
	// interleave writes.
	writeMu sync.Mutex
}

// New opens (creating if needed) the SQLite database at path
func New(path string, opts Options) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	return Wrap(db, opts), nil
}

// Wrap builds a DB around an already opened handle.
func Wrap(db *sql.DB, opts Options) *DB {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &DB{
		DB:          db,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		backoff:     NewExponentialBackoff(opts.RetryDelay, 10*opts.RetryDelay),
		maxAttempts: opts.MaxAttempts,
		sleep:       sleepContext,
	}
}

// InitSchema creates all necessary tables
func (db *DB) InitSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS probe_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts TEXT NOT NULL,
        session_id TEXT NOT NULL DEFAULT '',
        dataset TEXT NOT NULL,
        target TEXT NOT NULL,
        host TEXT NOT NULL,
        interface TEXT NOT NULL DEFAULT '',
        success INTEGER NOT NULL,
        latency_ms REAL,
        error TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_probe_target_ts ON probe_results(target, interface, ts);
    CREATE INDEX IF NOT EXISTS idx_probe_dataset_ts ON probe_results(dataset, ts);

    CREATE TABLE IF NOT EXISTS throughput_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts TEXT NOT NULL,
        session_id TEXT NOT NULL DEFAULT '',
        dataset TEXT NOT NULL,
        interface TEXT NOT NULL DEFAULT '',
        tool TEXT NOT NULL DEFAULT '',
        success INTEGER NOT NULL,
        download_mbps REAL,
        upload_mbps REAL,
        ping_ms REAL,
        error TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_throughput_dataset_ts ON throughput_results(dataset, ts);

    -- Observations are append-only
    CREATE TRIGGER IF NOT EXISTS probe_results_no_update BEFORE UPDATE ON probe_results
    BEGIN SELECT RAISE(ABORT, 'probe_results is append-only'); END;
    CREATE TRIGGER IF NOT EXISTS probe_results_no_delete BEFORE DELETE ON probe_results
    BEGIN SELECT RAISE(ABORT, 'probe_results is append-only'); END;
    CREATE TRIGGER IF NOT EXISTS throughput_results_no_update BEFORE UPDATE ON throughput_results
    BEGIN SELECT RAISE(ABORT, 'throughput_results is append-only'); END;
    CREATE TRIGGER IF NOT EXISTS throughput_results_no_delete BEFORE DELETE ON throughput_results
    BEGIN SELECT RAISE(ABORT, 'throughput_results is append-only'); END;
    `

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
