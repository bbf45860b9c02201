package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailchat/mailsync/internal/config"
	"github.com/mailchat/mailsync/internal/contacts"
	"github.com/mailchat/mailsync/internal/database"
	"github.com/mailchat/mailsync/internal/imapx"
	"github.com/mailchat/mailsync/internal/parser"
	"github.com/mailchat/mailsync/internal/retry"
	"github.com/mailchat/mailsync/pkg/models"
)

// Credentials carry what the engine needs to authenticate one mailbox.
// They are supplied by the presentation layer and never persisted or
// logged by the engine.
type Credentials struct {
	Email    string
	Password string
	Server   string // host:port
}

// CredentialSource supplies credentials for an account at sync time.
type CredentialSource interface {
	Credentials(ctx context.Context, accountID int64) (Credentials, error)
}

// Deps are the collaborators injected into the engine.
type Deps struct {
	DB          *database.DB
	Pool        *imapx.Pool
	Config      *config.Config
	Credentials CredentialSource
	Locks       LockProvider
	Logger      *slog.Logger
	Dial        imapx.DialFunc // nil for the default TLS dialer
}

// Engine coordinates folder discovery, fetching, parsing, deduplication
// and persistence for account synchronization. At most one sync runs per
// account; different accounts sync concurrently.
type Engine struct {
	db       *database.DB
	pool     *imapx.Pool
	cfg      *config.Config
	creds    CredentialSource
	locks    LockProvider
	contacts *contacts.Resolver
	parser   *parser.Parser
	logger   *slog.Logger
	dial     imapx.DialFunc

	wg sync.WaitGroup
}

// NewEngine creates a sync engine
func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewFileLockProvider(deps.Config.LockDir)
	}
	return &Engine{
		db:       deps.DB,
		pool:     deps.Pool,
		cfg:      deps.Config,
		creds:    deps.Credentials,
		locks:    locks,
		contacts: contacts.NewResolver(deps.DB, logger),
		parser:   parser.New(deps.Config.PreviewLength),
		logger:   logger.With("component", "syncer"),
		dial:     deps.Dial,
	}
}

// StartSync launches a background sync for the account. It is
// fire-and-forget and an idempotent no-op when a sync is already running.
func (e *Engine) StartSync(accountID int64) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.SyncAccount(context.Background(), accountID)
	}()
}

// Wait blocks until all background syncs launched by StartSync finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// GetSyncState returns the account's sync status. An account that never
// synced gets a zero state rather than an error.
func (e *Engine) GetSyncState(ctx context.Context, accountID int64) (*models.SyncState, error) {
	state, err := e.db.GetSyncState(ctx, accountID)
	if errors.Is(err, database.ErrNotFound) {
		return &models.SyncState{AccountID: accountID}, nil
	}
	return state, err
}

// TestConnection validates credentials by connecting and selecting INBOX,
// without running a sync. Used by the account setup flow.
func (e *Engine) TestConnection(ctx context.Context, creds Credentials) bool {
	conn := e.newConn(creds)
	defer conn.Disconnect()

	if err := conn.Connect(ctx); err != nil {
		e.logger.Debug("test connection failed", "server", creds.Server, "error", err)
		return false
	}
	if err := conn.SelectFolder(ctx, "INBOX"); err != nil {
		e.logger.Debug("test connection select failed", "server", creds.Server, "error", err)
		return false
	}
	return true
}

// SyncAccount runs one full synchronization for the account, blocking
// until it completes. Lock contention is an informational skip, not an
// error; every other exit path records the outcome in the sync state.
func (e *Engine) SyncAccount(ctx context.Context, accountID int64) error {
	account, err := e.db.GetAccountByID(ctx, accountID)
	if err != nil {
		e.logger.Error("unknown account", "account_id", accountID, "error", err)
		return err
	}
	logger := e.logger.With("account_id", accountID, "email", account.Email)

	lockName := "sync-" + account.Email
	if !e.locks.Acquire(lockName) {
		logger.Info("sync already in progress, skipping")
		return nil
	}
	defer e.locks.Release(lockName)

	if err := e.db.BeginSync(ctx, accountID); err != nil {
		logger.Error("failed to mark sync start", "error", err)
		return err
	}

	start := time.Now()
	counts, syncErr := e.runSync(ctx, account, logger)

	status, detail := models.SyncStatusSuccess, ""
	if syncErr != nil {
		status, detail = models.SyncStatusError, syncErr.Error()
	}
	if err := e.db.FinishSync(ctx, accountID, status, detail); err != nil {
		logger.Error("failed to record sync outcome", "error", err)
	}

	logger.Info("sync finished",
		"status", status,
		"inserted", counts.inserted,
		"updated", counts.updated,
		"skipped", counts.skipped,
		"parse_errors", counts.parseErrors,
		"fetch_errors", counts.fetchErrors,
		"duration", time.Since(start))
	return syncErr
}

type syncCounts struct {
	inserted    int
	updated     int
	skipped     int
	parseErrors int
	fetchErrors int
}

func (e *Engine) newConn(creds Credentials) *imapx.Conn {
	retryCfg := e.retryConfig()
	return imapx.NewConn(imapx.Options{
		Email:       creds.Email,
		Password:    creds.Password,
		Server:      creds.Server,
		DialTimeout: e.cfg.IMAPDialTimeout,
		MaxAge:      e.cfg.IMAPMaxConnAge,
		Retry:       retryCfg,
		Dial:        e.dial,
		Logger:      e.logger,
	})
}

func (e *Engine) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  e.cfg.IMAPConnectAttempts,
		InitialDelay: e.cfg.IMAPRetryBaseDelay,
		MaxDelay:     e.cfg.IMAPRetryMaxDelay,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (e *Engine) fetchConfig() imapx.FetchConfig {
	return imapx.FetchConfig{
		MinBatch:         e.cfg.MinBatchSize,
		MaxBatch:         e.cfg.MaxBatchSize,
		BatchDelay:       e.cfg.BatchDelay,
		ErrorCeiling:     e.cfg.ErrorCeiling,
		RefreshInterval:  e.cfg.RefreshInterval,
		ThrottleCooldown: e.cfg.ThrottleCooldown,
	}
}

// runSync is the folder loop: discover, fetch, parse, reconcile, persist.
// One folder's failure does not abort the others; only a fetch-error
// ceiling breach aborts the remaining folders for this run.
func (e *Engine) runSync(ctx context.Context, account *models.Account, logger *slog.Logger) (syncCounts, error) {
	var counts syncCounts

	creds, err := e.creds.Credentials(ctx, account.ID)
	if err != nil {
		return counts, fmt.Errorf("credentials: %w", err)
	}

	key := imapx.PoolKey(creds.Email, creds.Server)
	conn := e.pool.Acquire(ctx, key)
	if conn == nil {
		conn = e.newConn(creds)
	}
	if err := conn.Connect(ctx); err != nil {
		return counts, err
	}

	folders := []string{"INBOX"}
	sentFolder := ""
	if name, ok, err := conn.FindSentFolder(ctx); err != nil {
		logger.Warn("folder discovery failed, syncing inbox only", "error", err)
	} else if ok {
		sentFolder = name
		folders = append(folders, name)
	}

	// One load per sync run, instead of a lookup per message.
	known, err := e.db.KnownMessages(ctx, account.ID)
	if err != nil {
		conn.Disconnect()
		return counts, err
	}

	var folderErrs []error
	for _, folder := range folders {
		err := e.syncFolder(ctx, conn, account, folder, folder == sentFolder, known, &counts, logger)
		if err == nil {
			continue
		}
		folderErrs = append(folderErrs, fmt.Errorf("folder %s: %w", folder, err))
		if errors.Is(err, imapx.ErrTooManyErrors) || errors.Is(err, context.Canceled) {
			// Connection instability: stop this run, keep committed batches.
			break
		}
		logger.Warn("folder sync failed, continuing with next folder", "folder", folder, "error", err)
	}

	e.pool.Release(key, conn)
	return counts, errors.Join(folderErrs...)
}

func (e *Engine) syncFolder(ctx context.Context, conn *imapx.Conn, account *models.Account, folder string, isSentFolder bool, known map[string]database.ContentSignature, counts *syncCounts, logger *slog.Logger) error {
	fetcher := imapx.NewFetcher(conn, e.fetchConfig(), logger)

	uids, err := fetcher.Search(ctx, folder, time.Time{})
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		logger.Debug("no messages in folder", "folder", folder)
		return nil
	}

	stats, err := fetcher.FetchAll(ctx, folder, uids, func(items []imapx.RawItem) error {
		return e.persistBatch(ctx, account, folder, isSentFolder, known, items, counts)
	})
	counts.fetchErrors += stats.Errors
	return err
}

// persistBatch parses the batch and commits new and changed messages in a
// single transaction. A parse failure skips that message only. The batch
// boundary is the safe cancellation point: a cancelled sync leaves the
// store valid and partially updated.
func (e *Engine) persistBatch(ctx context.Context, account *models.Account, folder string, isSentFolder bool, known map[string]database.ContentSignature, items []imapx.RawItem, counts *syncCounts) error {
	type pending struct {
		msg    *models.Message
		update bool
	}
	var batch []pending

	for _, item := range items {
		parsed, err := e.parser.Parse(item.Raw, account.Email)
		if err != nil {
			counts.parseErrors++
			e.logger.Warn("failed to parse message, skipping", "uid", item.UID, "error", err)
			continue
		}

		sig, seen := known[parsed.MessageID]
		if seen && sig.Subject == parsed.Subject && sig.BodyHash == parsed.BodyHash {
			counts.skipped++
			continue
		}

		msg := &models.Message{
			AccountID:   account.ID,
			MessageID:   parsed.MessageID,
			FromAddress: parsed.From,
			ToAddress:   parsed.To,
			Subject:     parsed.Subject,
			Body:        parsed.Body,
			BodyHash:    parsed.BodyHash,
			BodyPreview: parsed.BodyPreview,
			Date:        parsed.Date,
			IsSent:      parsed.IsSent || isSentFolder,
			Folder:      folder,
		}

		// Contacts are linked before the batch transaction opens; sqlite
		// allows a single writer and the resolver writes on its own.
		if parsed.FromAddr.Normalized != "" {
			if c, err := e.contacts.FindOrCreate(ctx, parsed.From, parsed.FromAddr.DisplayName); err == nil {
				msg.FromContactID = &c.ID
			} else {
				e.logger.Warn("failed to resolve sender contact", "error", err)
			}
		}
		if parsed.ToAddr.Normalized != "" {
			if c, err := e.contacts.FindOrCreate(ctx, parsed.To, parsed.ToAddr.DisplayName); err == nil {
				msg.ToContactID = &c.ID
			} else {
				e.logger.Warn("failed to resolve recipient contact", "error", err)
			}
		}

		batch = append(batch, pending{msg: msg, update: seen})
	}

	if len(batch) == 0 {
		return nil
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range batch {
		if p.update {
			if err := e.db.UpdateMessageContent(ctx, tx, p.msg); err != nil {
				return err
			}
			counts.updated++
		} else {
			err := e.db.InsertMessage(ctx, tx, p.msg)
			if errors.Is(err, database.ErrAlreadyExists) {
				// Unique-constraint backstop: another writer got here first.
				if err := e.db.UpdateMessageContent(ctx, tx, p.msg); err != nil {
					return err
				}
				counts.updated++
			} else if err != nil {
				return err
			} else {
				counts.inserted++
			}
		}
		known[p.msg.MessageID] = database.ContentSignature{
			Subject:  p.msg.Subject,
			BodyHash: p.msg.BodyHash,
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
