package letta

import "errors"

var (
	// ErrAuth indicates the credential was rejected by the platform.
	// User-recoverable via re-login.
	ErrAuth = errors.New("letta: credential rejected")

	// ErrNotFound indicates the agent, project, or tool does not exist
	// or is not visible to this credential. Visibility is the platform's
	// authorization check; there is no local permission model.
	ErrNotFound = errors.New("letta: not found")

	// ErrRemote indicates a transient server-side failure that survived
	// the internal retry budget.
	ErrRemote = errors.New("letta: server error")

	// ErrTimeout indicates the event stream stalled past the inactivity
	// window and the call was aborted. Not retried internally: agent
	// calls have side effects.
	ErrTimeout = errors.New("letta: stream timed out")
)
