package models

import "time"

// Message represents a synchronized email message.
type Message struct {
	ID            int64     `db:"id"`
	AccountID     int64     `db:"account_id"`      // FK to Account
	MessageID     string    `db:"message_id"`      // Message-ID header, or derived hash
	FromAddress   string    `db:"from_address"`    // Raw From header
	ToAddress     string    `db:"to_address"`      // Raw To header
	FromContactID *int64    `db:"from_contact_id"` // Nullable FK to Contact
	ToContactID   *int64    `db:"to_contact_id"`   // Nullable FK to Contact
	Subject       string    `db:"subject"`
	Body          string    `db:"body"`
	BodyHash      string    `db:"body_hash"`    // Content hash for change detection
	BodyPreview   string    `db:"body_preview"` // Tag-stripped, truncated preview
	Date          time.Time `db:"date"`
	IsSent        bool      `db:"is_sent"` // Account's own address in From
	Folder        string    `db:"folder"`  // Source IMAP folder
	LastSyncedAt  time.Time `db:"last_synced_at"`
	CreatedAt     time.Time `db:"created_at"`
}
