package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailchat/mailsync/internal/database"
	"github.com/mailchat/mailsync/internal/parser"
	"github.com/mailchat/mailsync/pkg/models"
)

// Resolver maps header address strings to canonical contact rows,
// deduplicated by normalized address.
type Resolver struct {
	db     *database.DB
	logger *slog.Logger
}

// NewResolver creates a contact resolver
func NewResolver(db *database.DB, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, logger: logger.With("component", "contacts")}
}

// FindOrCreate resolves an address like "Alice <alice@x.com>" to a contact,
// creating it on first sight. Two syncs racing on the same new address are
// reconciled through the unique constraint: the loser re-reads the row the
// winner inserted.
func (r *Resolver) FindOrCreate(ctx context.Context, address, displayName string) (*models.Contact, error) {
	addr := parser.NormalizeAddress(address)
	if addr.Normalized == "" {
		return nil, fmt.Errorf("empty address %q", address)
	}
	if displayName == "" {
		displayName = addr.DisplayName
	}

	contact, err := r.db.GetContactByNormalized(ctx, addr.Normalized)
	if err == nil {
		return r.maybeUpgradeDisplayName(ctx, contact, displayName), nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	contact = &models.Contact{
		OriginalAddress:   addr.Original,
		NormalizedAddress: addr.Normalized,
		DisplayName:       displayName,
	}
	err = r.db.InsertContact(ctx, contact)
	if err == nil {
		return contact, nil
	}
	if !errors.Is(err, database.ErrAlreadyExists) {
		return nil, err
	}

	// Lost the race; the row exists now.
	contact, err = r.db.GetContactByNormalized(ctx, addr.Normalized)
	if err != nil {
		return nil, err
	}
	return r.maybeUpgradeDisplayName(ctx, contact, displayName), nil
}

// maybeUpgradeDisplayName records a display name when the stored contact
// has none.
func (r *Resolver) maybeUpgradeDisplayName(ctx context.Context, contact *models.Contact, displayName string) *models.Contact {
	if displayName == "" || contact.DisplayName != "" {
		return contact
	}
	if err := r.db.UpdateContactDisplayName(ctx, contact.ID, displayName); err != nil {
		r.logger.Warn("failed to update contact display name", "contact_id", contact.ID, "error", err)
		return contact
	}
	contact.DisplayName = displayName
	return contact
}
