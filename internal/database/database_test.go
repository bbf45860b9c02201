package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mailchat/mailsync/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func testAccount(t *testing.T, db *DB, email string) *models.Account {
	t.Helper()
	account := &models.Account{Email: email, IMAPServer: "imap.example.com:993"}
	if err := db.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return account
}

func TestAccountRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	account := testAccount(t, db, "user@example.com")
	if account.ID == 0 {
		t.Fatal("CreateAccount did not assign an id")
	}

	byID, err := db.GetAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if byID.Email != "user@example.com" {
		t.Errorf("Email = %q, want %q", byID.Email, "user@example.com")
	}

	byEmail, err := db.GetAccountByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if byEmail.ID != account.ID {
		t.Errorf("ID = %d, want %d", byEmail.ID, account.ID)
	}

	if _, err := db.GetAccountByID(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccountByID(9999) = %v, want ErrNotFound", err)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	testAccount(t, db, "dup@example.com")
	err := db.CreateAccount(ctx, &models.Account{Email: "dup@example.com", IMAPServer: "imap.example.com:993"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate CreateAccount = %v, want ErrAlreadyExists", err)
	}
}

func TestListAccounts(t *testing.T) {
	db := newTestDB(t)

	testAccount(t, db, "a@example.com")
	testAccount(t, db, "b@example.com")

	accounts, err := db.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(accounts))
	}
}

func TestSyncStateLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	account := testAccount(t, db, "user@example.com")

	if _, err := db.GetSyncState(ctx, account.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSyncState before first sync = %v, want ErrNotFound", err)
	}

	if err := db.BeginSync(ctx, account.ID); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	state, err := db.GetSyncState(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if !state.IsSyncing {
		t.Error("IsSyncing = false after BeginSync")
	}

	if err := db.FinishSync(ctx, account.ID, models.SyncStatusError, "boom"); err != nil {
		t.Fatalf("FinishSync: %v", err)
	}
	state, err = db.GetSyncState(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.IsSyncing {
		t.Error("IsSyncing = true after FinishSync")
	}
	if state.LastStatus != models.SyncStatusError {
		t.Errorf("LastStatus = %q, want %q", state.LastStatus, models.SyncStatusError)
	}
	if state.LastError != "boom" {
		t.Errorf("LastError = %q, want %q", state.LastError, "boom")
	}
	if state.LastSyncAt == nil {
		t.Error("LastSyncAt is nil after FinishSync")
	}

	// A later success overwrites the failure record.
	if err := db.BeginSync(ctx, account.ID); err != nil {
		t.Fatalf("BeginSync: %v", err)
	}
	if err := db.FinishSync(ctx, account.ID, models.SyncStatusSuccess, ""); err != nil {
		t.Fatalf("FinishSync: %v", err)
	}
	state, err = db.GetSyncState(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.LastStatus != models.SyncStatusSuccess || state.LastError != "" {
		t.Errorf("state = %q/%q, want success with empty error", state.LastStatus, state.LastError)
	}
}

func TestContactRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	contact := &models.Contact{
		OriginalAddress:   "Alice <alice@example.com>",
		NormalizedAddress: "alice@example.com",
		DisplayName:       "Alice",
	}
	if err := db.InsertContact(ctx, contact); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	if contact.ID == 0 {
		t.Fatal("InsertContact did not assign an id")
	}

	got, err := db.GetContactByNormalized(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetContactByNormalized: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Alice")
	}

	dup := &models.Contact{
		OriginalAddress:   "ALICE@EXAMPLE.COM",
		NormalizedAddress: "alice@example.com",
	}
	if err := db.InsertContact(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate InsertContact = %v, want ErrAlreadyExists", err)
	}

	if err := db.UpdateContactDisplayName(ctx, contact.ID, "Alice Smith"); err != nil {
		t.Fatalf("UpdateContactDisplayName: %v", err)
	}
	got, err = db.GetContactByNormalized(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetContactByNormalized: %v", err)
	}
	if got.DisplayName != "Alice Smith" {
		t.Errorf("DisplayName = %q, want %q", got.DisplayName, "Alice Smith")
	}

	if _, err := db.GetContactByNormalized(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContactByNormalized(missing) = %v, want ErrNotFound", err)
	}
}
