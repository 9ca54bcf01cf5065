package roomcast

import "errors"

// Error kinds surfaced by the substrate. Transport and registry errors are
// recovered locally where possible; correlation errors come back to the
// command caller as one of these, never as a crash.
var (
	// ErrDuplicateSession rejects a handshake whose session-id is already
	// registered. The existing connection is kept, the new one is closed.
	ErrDuplicateSession = errors.New("session id already registered")

	// ErrTargetNotFound reports a command, indication or answer addressed
	// to a session-id with no registry entry.
	ErrTargetNotFound = errors.New("target session not found")

	// ErrSendFailed reports a transport-level failure writing to a
	// session's outbound channel. Callers should treat the target as gone.
	ErrSendFailed = errors.New("send to session output channel failed")

	// ErrTimeout reports that no reply arrived within the caller's
	// deadline. The in-flight command is not cancelled, only the wait.
	ErrTimeout = errors.New("timed out waiting for command reply")

	// ErrMailboxFull reports that a worker rejected an event because its
	// mailbox is at capacity. Senders get backpressure, never unbounded
	// queue growth.
	ErrMailboxFull = errors.New("worker mailbox is full")

	// ErrServerRunning is returned by Start on a server that is already
	// listening.
	ErrServerRunning = errors.New("server already running")
)

// Close reasons written to the peer before tearing a connection down.
const (
	// ReasonBinaryOnly is sent when a client violates the binary-only
	// framing by sending a text frame.
	ReasonBinaryOnly = "BinaryOnly"

	// ReasonRateLimited is sent when a client exceeds its message budget.
	ReasonRateLimited = "RateLimited"
)
