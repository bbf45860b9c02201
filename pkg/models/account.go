package models

import "time"

// Account represents a mailbox the engine synchronizes.
//
// Passwords are never stored here; credentials arrive from the
// presentation layer at sync time.
type Account struct {
	ID         int64     `db:"id"`
	Email      string    `db:"email"`
	IMAPServer string    `db:"imap_server"` // e.g., imap.gmail.com:993
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
