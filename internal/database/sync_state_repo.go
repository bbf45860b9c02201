package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailchat/mailsync/pkg/models"
)

// GetSyncState returns the sync state for an account
func (db *DB) GetSyncState(ctx context.Context, accountID int64) (*models.SyncState, error) {
	var state models.SyncState
	query := `SELECT * FROM sync_state WHERE account_id = ?`
	err := db.GetContext(ctx, &state, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &state, nil
}

// BeginSync atomically marks an account as syncing, creating the state row
// on first use.
func (db *DB) BeginSync(ctx context.Context, accountID int64) error {
	query := `
		INSERT INTO sync_state (account_id, is_syncing, updated_at)
		VALUES (?, true, ?)
		ON CONFLICT(account_id) DO UPDATE SET is_syncing = true, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, accountID, time.Now()); err != nil {
		return fmt.Errorf("failed to begin sync: %w", err)
	}
	return nil
}

// FinishSync clears the in-progress flag and records the outcome. It runs
// on every exit path, success or failure.
func (db *DB) FinishSync(ctx context.Context, accountID int64, status, errDetail string) error {
	now := time.Now()
	query := `
		INSERT INTO sync_state (account_id, is_syncing, last_sync_at, last_status, last_error, updated_at)
		VALUES (?, false, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			is_syncing = false,
			last_sync_at = excluded.last_sync_at,
			last_status = excluded.last_status,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, accountID, now, status, errDetail, now); err != nil {
		return fmt.Errorf("failed to finish sync: %w", err)
	}
	return nil
}
