package retry

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// Config holds parameters for retry with exponential backoff.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig returns the defaults used for network operations.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, the error
// is classified as non-retryable, or ctx is cancelled. The last error is
// returned.
func (c Config) Do(ctx context.Context, fn func() error) error {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == c.MaxAttempts-1 {
			break
		}
		if !Retryable(err) {
			return err
		}

		select {
		case <-time.After(c.delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// delay computes the backoff for the given zero-based attempt.
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= c.Multiplier
		if d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	if c.Jitter {
		d += rand.Float64() * d * 0.25
		if d > float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
		}
	}
	return time.Duration(d)
}

// Class categorizes errors for retry and quarantine decisions.
type Class int

const (
	// Transient covers timeouts, resets and protocol hiccups worth retrying.
	Transient Class = iota
	// Auth covers credential failures; retrying cannot help.
	Auth
	// Throttle covers server-signaled rate limiting; the connection must
	// cool down instead of retrying immediately.
	Throttle
	// Permanent covers everything else that retrying cannot fix.
	Permanent
)

var authPatterns = []string{
	"authentication failed",
	"authenticationfailed",
	"login failed",
	"invalid credentials",
	"bad credentials",
	"access denied",
	"unauthorized",
}

var throttlePatterns = []string{
	"too many simultaneous connections",
	"too many connections",
	"rate limit",
	"throttl",
	"try again later",
	"overquota",
}

var transientPatterns = []string{
	"timeout",
	"timed out",
	"i/o timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"connection lost",
	"broken pipe",
	"unexpected eof",
	"eof occurred",
	"use of closed network connection",
	"network unreachable",
	"no such host",
	"temporary failure",
	"server unavailable",
	"mailbox unavailable",
	"* bye",
	"bye ",
	"logout",
}

var permanentPatterns = []string{
	"mailbox does not exist",
	"no mailbox",
	"permission denied",
	"invalid mailbox",
}

// Classify determines the category of an error.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	msg := strings.ToLower(err.Error())

	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return Auth
		}
	}
	for _, p := range throttlePatterns {
		if strings.Contains(msg, p) {
			return Throttle
		}
	}
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return Permanent
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return Transient
		}
	}
	// Unknown errors default to transient: one more round trip is cheaper
	// than a spurious hard failure.
	return Transient
}

// Retryable reports whether an immediate retry may succeed.
func Retryable(err error) bool {
	switch Classify(err) {
	case Transient:
		return true
	default:
		return false
	}
}
