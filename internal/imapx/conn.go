package imapx

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mailchat/mailsync/internal/retry"
)

// State is the protocol state of a connection. Transitions happen only
// through Conn methods, never by inspecting the underlying transport.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateFolderSelected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateFolderSelected:
		return "folder_selected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Session is the subset of the IMAP client the connection wrapper uses.
// *client.Client satisfies it; tests substitute fakes.
type Session interface {
	Login(username, password string) error
	Logout() error
	Close() error
	Noop() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Terminate() error
}

// DialFunc establishes an IMAP session to server ("host:port").
type DialFunc func(ctx context.Context, server string, timeout time.Duration) (Session, error)

// DialTLS is the default DialFunc, connecting over implicit TLS.
func DialTLS(ctx context.Context, server string, timeout time.Duration) (Session, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", server, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create IMAP client: %w", err)
	}
	c.Timeout = timeout
	return c, nil
}

// Options configure a Conn.
type Options struct {
	Email    string
	Password string
	Server   string // host:port

	DialTimeout time.Duration
	MaxAge      time.Duration // force reconnect past this age
	Retry       retry.Config

	Dial   DialFunc // defaults to DialTLS
	Logger *slog.Logger
}

// Conn owns one authenticated IMAP session for a single account.
// It is never shared across accounts.
type Conn struct {
	opts   Options
	dial   DialFunc
	logger *slog.Logger

	mu             sync.Mutex
	session        Session
	state          State
	folder         string
	createdAt      time.Time
	lastConnect    time.Time
	lastActivity   time.Time
	failures       int
	throttledUntil time.Time
}

// NewConn creates a connection wrapper. No I/O happens until Connect.
func NewConn(opts Options) *Conn {
	if opts.Dial == nil {
		opts.Dial = DialTLS
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{
		opts:      opts,
		dial:      opts.Dial,
		logger:    opts.Logger.With("email", opts.Email, "server", opts.Server),
		state:     StateDisconnected,
		createdAt: time.Now(),
	}
}

// Key identifies the (account, server) pair this connection serves.
func (c *Conn) Key() string {
	return PoolKey(c.opts.Email, c.opts.Server)
}

// Email returns the account address this connection authenticates as.
func (c *Conn) Email() string { return c.opts.Email }

// State returns the current protocol state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Folder returns the currently selected folder, or "".
func (c *Conn) Folder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.folder
}

// Idle returns the time since the connection was last used.
func (c *Conn) Idle() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastActivity.IsZero() {
		return time.Since(c.createdAt)
	}
	return time.Since(c.lastActivity)
}

// Age returns the time since the connection was created.
func (c *Conn) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.createdAt)
}

// SinceConnect returns the time since the last successful login.
func (c *Conn) SinceConnect() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastConnect.IsZero() {
		return time.Since(c.createdAt)
	}
	return time.Since(c.lastConnect)
}

// MarkThrottled quarantines the connection until the cooldown elapses.
func (c *Conn) MarkThrottled(cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttledUntil = time.Now().Add(cooldown)
	c.logger.Warn("connection throttled by server", "cooldown", cooldown)
}

// Throttled reports whether the connection is still cooling down.
func (c *Conn) Throttled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.throttledUntil)
}

// Connect establishes and authenticates the session. It is idempotent:
// a live, sufficiently young authenticated connection is reused as is.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && (c.state == StateAuthenticated || c.state == StateFolderSelected) {
		if err := c.session.Noop(); err == nil {
			if c.opts.MaxAge > 0 && time.Since(c.lastConnect) > c.opts.MaxAge {
				c.logger.Debug("connection exceeded maximum age, reconnecting")
				c.disconnectLocked()
			} else {
				c.lastActivity = time.Now()
				return nil
			}
		} else {
			c.state = StateError
		}
	}

	return c.connectLocked(ctx)
}

// connectLocked dials, logs in and probes liveness, retrying with backoff.
// Each attempt uses a growing dial timeout to tolerate slow servers.
func (c *Conn) connectLocked(ctx context.Context) error {
	attempt := 0
	err := c.opts.Retry.Do(ctx, func() error {
		attempt++
		c.disconnectLocked()

		timeout := growTimeout(c.opts.DialTimeout, attempt)
		c.logger.Debug("connecting to IMAP server", "attempt", attempt, "timeout", timeout)

		sess, err := c.dial(ctx, c.opts.Server, timeout)
		if err != nil {
			c.state = StateError
			c.failures++
			c.logger.Warn("dial failed", "attempt", attempt, "error", err)
			return fmt.Errorf("dial %s: %w", c.opts.Server, err)
		}
		c.state = StateConnected

		if err := sess.Login(c.opts.Email, c.opts.Password); err != nil {
			sess.Logout()
			c.state = StateError
			c.failures++
			c.logger.Warn("login failed", "attempt", attempt, "error", err)
			return fmt.Errorf("login: %w", err)
		}

		// Health check after login.
		if err := sess.Noop(); err != nil {
			sess.Logout()
			c.state = StateError
			c.failures++
			return fmt.Errorf("liveness probe: %w", err)
		}

		now := time.Now()
		c.session = sess
		c.state = StateAuthenticated
		c.folder = ""
		c.lastConnect = now
		c.lastActivity = now
		c.failures = 0
		c.logger.Debug("connected and authenticated")
		return nil
	})
	if err != nil {
		c.state = StateError
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// growTimeout scales the dial timeout by 1.5 per prior attempt, capped
// at three times the base.
func growTimeout(base time.Duration, attempt int) time.Duration {
	t := base
	for i := 1; i < attempt && i < 4; i++ {
		t = t * 3 / 2
	}
	if max := 3 * base; t > max {
		t = max
	}
	return t
}

// Disconnect closes the session with best-effort folder close and logout.
// Errors from both are swallowed; local state is always cleared.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Conn) disconnectLocked() {
	if c.session != nil {
		if c.state == StateFolderSelected {
			_ = c.session.Close()
		}
		_ = c.session.Logout()
		c.session = nil
	}
	c.folder = ""
	c.state = StateDisconnected
}

// Noop probes the connection. A failed probe moves the state to Error.
func (c *Conn) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrConnection
	}
	if err := c.session.Noop(); err != nil {
		c.state = StateError
		return fmt.Errorf("noop: %w", err)
	}
	c.lastActivity = time.Now()
	return nil
}

// VerifyState confirms the connection is alive and in one of the expected
// states, reconnecting (and re-selecting forceFolder if given) when allowed.
// It returns false rather than an error when recovery is disallowed or
// exhausted.
func (c *Conn) VerifyState(ctx context.Context, expected []State, allowReconnect bool, forceFolder string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		if err := c.session.Noop(); err != nil {
			c.logger.Warn("connection probe failed", "error", err)
			c.state = StateError
		} else {
			c.lastActivity = time.Now()
		}
	}

	if !stateIn(c.state, expected) {
		c.logger.Warn("unexpected connection state", "state", c.state.String())
		if !allowReconnect {
			return false
		}

		const maxAttempts = 3
		recovered := false
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(backoffDelay(attempt)):
				case <-ctx.Done():
					return false
				}
			}
			c.disconnectLocked()
			if err := c.connectLocked(ctx); err == nil {
				recovered = true
				break
			}
		}
		if !recovered {
			return false
		}
	}

	if forceFolder != "" && (c.folder != forceFolder || c.state != StateFolderSelected) {
		if err := c.selectFolderLocked(ctx, forceFolder); err != nil {
			c.logger.Warn("failed to select folder during verify", "folder", forceFolder, "error", err)
			return false
		}
	}
	return true
}

func stateIn(s State, set []State) bool {
	for _, e := range set {
		if s == e {
			return true
		}
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 15*time.Second {
		d = 15 * time.Second
	}
	return d
}

// SelectFolder selects name read-only. It is idempotent and retries with
// backoff; on exhaustion the connection is dropped and an error returned.
func (c *Conn) SelectFolder(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectFolderLocked(ctx, name)
}

func (c *Conn) selectFolderLocked(ctx context.Context, name string) error {
	if c.state == StateFolderSelected && c.folder == name {
		return nil
	}
	if c.session == nil {
		return ErrConnection
	}

	err := c.opts.Retry.Do(ctx, func() error {
		if c.state == StateFolderSelected {
			_ = c.session.Close()
			c.state = StateAuthenticated
			c.folder = ""
		}
		mbox, err := c.session.Select(name, true)
		if err != nil {
			return fmt.Errorf("select %q: %w", name, err)
		}
		if mbox == nil {
			return fmt.Errorf("%w: empty response to select %q", ErrProtocol, name)
		}
		c.folder = name
		c.state = StateFolderSelected
		c.lastActivity = time.Now()
		c.logger.Debug("selected folder", "folder", name, "messages", mbox.Messages)
		return nil
	})
	if err != nil {
		c.disconnectLocked()
		return err
	}
	return nil
}

// UIDSearch runs a UID SEARCH on the selected folder.
func (c *Conn) UIDSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.state != StateFolderSelected {
		return nil, ErrConnection
	}
	uids, err := c.session.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	c.lastActivity = time.Now()
	return uids, nil
}

// UIDFetch runs a UID FETCH, streaming results into ch. The channel is
// closed by the underlying client when the command completes.
func (c *Conn) UIDFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil || c.state != StateFolderSelected {
		c.mu.Unlock()
		close(ch)
		return ErrConnection
	}
	c.lastActivity = time.Now()
	c.mu.Unlock()

	return sess.UidFetch(seqset, items, ch)
}
