package agent

import "errors"

// Sentinel errors for session and registry operations.
// Only errors that are checked with errors.Is() are defined here.
var (
	// ErrForbidden indicates the caller does not own the conversation
	// the session belongs to.
	// Used by: api/chat.go for HTTP status mapping
	ErrForbidden = errors.New("conversation belongs to another user")

	// ErrNoLiveSession indicates no session is currently live for the
	// conversation.
	// Used by: api/chat.go to answer resume requests with 204
	ErrNoLiveSession = errors.New("no live session")

	// ErrAlreadyStarted indicates Start was called on a session that
	// already ran. Sessions are single-use.
	ErrAlreadyStarted = errors.New("session already started")
)
