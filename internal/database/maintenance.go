package database

import (
	"context"
	"fmt"
)

// Checkpoint folds the WAL back into the main database file. The
// observation tables are append-only, so maintenance never deletes rows.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Optimize refreshes the query planner statistics
func (db *DB) Optimize(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// Maintain runs the periodic housekeeping steps
func (db *DB) Maintain(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if err := db.Checkpoint(ctx); err != nil {
		return err
	}
	return db.Optimize(ctx)
}
