package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailchat/mailsync/pkg/models"
)

// ContentSignature identifies the stored content of a message, used to
// decide between skip and update without a query per message.
type ContentSignature struct {
	Subject  string `db:"subject"`
	BodyHash string `db:"body_hash"`
}

// KnownMessages loads the identifier-to-content map for an account, once
// per sync run.
func (db *DB) KnownMessages(ctx context.Context, accountID int64) (map[string]ContentSignature, error) {
	rows := []struct {
		MessageID string `db:"message_id"`
		ContentSignature
	}{}
	query := `SELECT message_id, subject, body_hash FROM messages WHERE account_id = ?`
	if err := db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to load known messages: %w", err)
	}

	known := make(map[string]ContentSignature, len(rows))
	for _, r := range rows {
		known[r.MessageID] = r.ContentSignature
	}
	return known, nil
}

// GetMessage returns a message by its protocol identifier
func (db *DB) GetMessage(ctx context.Context, accountID int64, messageID string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE account_id = ? AND message_id = ?`
	err := db.GetContext(ctx, &msg, query, accountID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// CountMessages returns the number of stored messages for an account
func (db *DB) CountMessages(ctx context.Context, accountID int64) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM messages WHERE account_id = ?`
	if err := db.GetContext(ctx, &n, query, accountID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// InsertMessage inserts a new message within q (a DB or transaction).
// The UNIQUE(account_id, message_id) constraint is the final dedup
// backstop: a conflicting insert returns ErrAlreadyExists.
func (db *DB) InsertMessage(ctx context.Context, q sqlx.ExtContext, msg *models.Message) error {
	query := `
		INSERT INTO messages (account_id, message_id, from_address, to_address,
			from_contact_id, to_contact_id, subject, body, body_hash, body_preview,
			date, is_sent, folder, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	if msg.LastSyncedAt.IsZero() {
		msg.LastSyncedAt = now
	}
	result, err := q.ExecContext(ctx, query,
		msg.AccountID,
		msg.MessageID,
		msg.FromAddress,
		msg.ToAddress,
		msg.FromContactID,
		msg.ToContactID,
		msg.Subject,
		msg.Body,
		msg.BodyHash,
		msg.BodyPreview,
		msg.Date,
		msg.IsSent,
		msg.Folder,
		msg.LastSyncedAt,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// UpdateMessageContent updates a re-fetched message whose subject or body
// changed, keyed by identifier. The row is never duplicated.
func (db *DB) UpdateMessageContent(ctx context.Context, q sqlx.ExtContext, msg *models.Message) error {
	query := `
		UPDATE messages
		SET subject = ?, body = ?, body_hash = ?, body_preview = ?, last_synced_at = ?
		WHERE account_id = ? AND message_id = ?
	`
	_, err := q.ExecContext(ctx, query,
		msg.Subject,
		msg.Body,
		msg.BodyHash,
		msg.BodyPreview,
		time.Now(),
		msg.AccountID,
		msg.MessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}
