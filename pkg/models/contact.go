package models

import "time"

// Contact is a canonical identity for an email address seen in headers.
type Contact struct {
	ID                int64     `db:"id"`
	OriginalAddress   string    `db:"original_address"`
	NormalizedAddress string    `db:"normalized_address"` // Lowercased, whitespace-stripped, unique
	DisplayName       string    `db:"display_name"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
