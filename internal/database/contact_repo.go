package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mailchat/mailsync/pkg/models"
)

// GetContactByNormalized returns a contact by normalized address
func (db *DB) GetContactByNormalized(ctx context.Context, normalized string) (*models.Contact, error) {
	var contact models.Contact
	query := `SELECT * FROM contacts WHERE normalized_address = ?`
	err := db.GetContext(ctx, &contact, query, normalized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

// InsertContact inserts a new contact. A concurrent insert of the same
// normalized address surfaces as ErrAlreadyExists so the caller can
// re-read the winning row instead of erroring.
func (db *DB) InsertContact(ctx context.Context, contact *models.Contact) error {
	query := `
		INSERT INTO contacts (original_address, normalized_address, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		contact.OriginalAddress,
		contact.NormalizedAddress,
		contact.DisplayName,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert contact: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	contact.ID = id
	contact.CreatedAt = now
	contact.UpdatedAt = now
	return nil
}

// UpdateContactDisplayName records a better display name for a contact
func (db *DB) UpdateContactDisplayName(ctx context.Context, id int64, displayName string) error {
	query := `UPDATE contacts SET display_name = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, displayName, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update contact display name: %w", err)
	}
	return nil
}
