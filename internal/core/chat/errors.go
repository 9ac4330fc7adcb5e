package chat

import "errors"

// Sentinel errors shared by every layer of the client. Callers match with errors.Is;
// concrete errors wrap one of these.
var (
	// ErrUnauthenticated means no credential is held, or the credential could not be
	// recovered by a refresh. The session is cleared when this is returned after a refresh.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTransport covers network failures, timeouts and server-side (5xx) failures.
	ErrTransport = errors.New("transport failure")
	// ErrValidation is a malformed request. It is surfaced to the caller and never retried.
	ErrValidation = errors.New("validation failure")
	// ErrNotFound is returned when an edit or delete references a stale id.
	ErrNotFound = errors.New("not found")
)
