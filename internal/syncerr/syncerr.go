// Package syncerr defines the discriminated error taxonomy used
// across the CalDAV and Google adapters and the sync engine, replacing
// the original's exception-for-control-flow style with typed errors
// callers inspect via errors.As.
package syncerr

import (
	"errors"
	"fmt"
)

// ConnectionError indicates the adapter could not reach the remote
// server at all (DNS, dial, TLS handshake failures). The Google
// adapter also reports 5xx responses with it, as transient failures.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError indicates the remote server rejected the credentials
// presented (CalDAV 401/403, Google invalid_grant / token revoked).
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth error during %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError indicates the remote server asked the caller to back
// off (HTTP 429). RetryAfter is the server-suggested delay, zero if
// none was given.
type RateLimitError struct {
	Op         string
	RetryAfter int // seconds
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited during %s (retry after %ds): %v", e.Op, e.RetryAfter, e.Err)
}
func (e *RateLimitError) Unwrap() error { return e.Err }

// NotFoundError indicates the target resource (calendar or event) does
// not exist on the remote server.
type NotFoundError struct {
	Op  string
	ID  string
	Err error
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found during %s (id=%s): %v", e.Op, e.ID, e.Err) }
func (e *NotFoundError) Unwrap() error { return e.Err }

// ProtocolError indicates the remote server returned a malformed or
// unexpected response (unparseable iCalendar body, unexpected status
// code, missing required XML property).
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// MappingError indicates a configuration-level inconsistency in a
// Mapping (a missing CalDAVAccount) that aborts the run before any
// adapter call is attempted.
type MappingError struct {
	MappingID string
	Err       error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %v", e.MappingID, e.Err)
}
func (e *MappingError) Unwrap() error { return e.Err }

// IsNotFound reports whether err (or any error it wraps) is a
// NotFoundError. Adapters use this to implement idempotent delete.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuthError reports whether err (or any error it wraps) is an
// AuthError. The engine uses this to abort a run with a terminal
// failure rather than continuing per-change.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
