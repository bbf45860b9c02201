package imapx

import "errors"

var (
	// ErrConnection is returned when a connection could not be established
	// or recovered after exhausting retries.
	ErrConnection = errors.New("imap: connection failed")

	// ErrProtocol is returned for malformed or unexpected server responses.
	ErrProtocol = errors.New("imap: unexpected protocol response")

	// ErrTooManyErrors aborts a folder scan when cumulative fetch errors
	// exceed the configured ceiling, signaling connection instability.
	ErrTooManyErrors = errors.New("imap: too many fetch errors")
)
