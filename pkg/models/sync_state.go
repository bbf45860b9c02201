package models

import "time"

// Sync outcome values recorded in SyncState.LastStatus.
const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// SyncState tracks the synchronization status of one account.
type SyncState struct {
	AccountID  int64      `db:"account_id"`
	IsSyncing  bool       `db:"is_syncing"`
	LastSyncAt *time.Time `db:"last_sync_at"`
	LastStatus string     `db:"last_status"` // "success" or "error", empty before first sync
	LastError  string     `db:"last_error"`
	UpdatedAt  time.Time  `db:"updated_at"`
}
