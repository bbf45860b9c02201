package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mailchat/mailsync/internal/config"
	"github.com/mailchat/mailsync/internal/database"
	"github.com/mailchat/mailsync/internal/imapx"
	"github.com/mailchat/mailsync/internal/syncer"
	"github.com/mailchat/mailsync/pkg/models"
)

// envCredentials supplies credentials from the environment. In production
// deployments the presentation layer implements syncer.CredentialSource
// instead; the daemon only needs a single-account source.
type envCredentials struct {
	email    string
	password string
	server   string
}

func (s *envCredentials) Credentials(ctx context.Context, accountID int64) (syncer.Credentials, error) {
	return syncer.Credentials{Email: s.email, Password: s.password, Server: s.server}, nil
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mail sync daemon")

	// Connect to database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations completed")

	// Account credentials come from the environment for the standalone
	// daemon. The password is never persisted.
	email := os.Getenv("ACCOUNT_EMAIL")
	password := os.Getenv("ACCOUNT_PASSWORD")
	if email == "" || password == "" {
		logger.Error("ACCOUNT_EMAIL and ACCOUNT_PASSWORD are required")
		os.Exit(1)
	}
	server := os.Getenv("ACCOUNT_IMAP_SERVER")
	if server == "" {
		server, err = imapx.ResolveServer(email)
		if err != nil {
			logger.Error("failed to resolve IMAP server", "email", email, "error", err)
			os.Exit(1)
		}
		logger.Info("resolved IMAP server", "server", server)
	}

	account, err := ensureAccount(ctx, db, email, server)
	if err != nil {
		logger.Error("failed to register account", "error", err)
		os.Exit(1)
	}

	pool := imapx.NewPool(cfg.PoolSize, cfg.PoolIdleTimeout, cfg.IMAPMaxConnAge, logger)
	defer pool.Close()

	engine := syncer.NewEngine(syncer.Deps{
		DB:          db,
		Pool:        pool,
		Config:      cfg,
		Credentials: &envCredentials{email: email, password: password, server: server},
		Logger:      logger,
	})

	creds := syncer.Credentials{Email: email, Password: password, Server: server}
	if !engine.TestConnection(ctx, creds) {
		logger.Error("connection test failed, check credentials and server", "server", server)
		os.Exit(1)
	}
	logger.Info("connection test passed", "server", server)

	// Sync now and on the configured interval until shutdown. Multi-account
	// scheduling belongs to an external task runner.
	engine.StartSync(account.ID)

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			engine.StartSync(account.ID)
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			logger.Info("waiting for running syncs...")
			engine.Wait()
			logger.Info("daemon stopped")
			return
		}
	}
}

func ensureAccount(ctx context.Context, db *database.DB, email, server string) (*models.Account, error) {
	account, err := db.GetAccountByEmail(ctx, email)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	account = &models.Account{Email: email, IMAPServer: server}
	if err := db.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
			NoColor:    false,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
