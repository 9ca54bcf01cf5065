package roomcast

import (
	"context"
	"time"
)

// Kind classifies an envelope on the wire. The substrate never inspects
// business payloads; it only needs to know whether a frame is a
// server-initiated command, a client-bound reply, or a one-way push.
type Kind uint8

const (
	// KindServerCommand is a server-initiated command that expects a
	// correlated reply from the client.
	KindServerCommand Kind = iota + 1
	// KindClientCommand is a reply to a command, carrying the
	// correlation-id of the command it answers.
	KindClientCommand
	// KindIndication is a one-way, unacknowledged push. It carries no
	// correlation-id.
	KindIndication
)

// Codec encodes and decodes the command/response envelope. The substrate is
// agnostic to the concrete byte format as long as Encode and Decode
// round-trip and the correlation-id survives intact. A default binary
// implementation lives in internal/protocol and is used when no custom
// codec is supplied.
type Codec interface {
	// Encode wraps payload into an envelope of the given kind.
	// correlationID must be empty for KindIndication.
	Encode(kind Kind, correlationID string, payload []byte) ([]byte, error)

	// Decode is the inverse of Encode. The returned payload may reference
	// the input buffer; callers must not modify it.
	Decode(data []byte) (kind Kind, correlationID string, payload []byte, err error)
}

// Outbound is the write half of a connection: a handle that queues a raw
// binary frame for delivery to one client. Frames queued on the same
// handle are delivered in order. Delivery is best-effort; a queued frame
// is lost if the connection closes before the write pump drains it.
type Outbound interface {
	Send(ctx context.Context, data []byte) error
}

// Consumer is the business-logic contract invoked by the worker pool.
//
// All three handlers run synchronously inside a worker's mailbox loop and
// must not block for long periods, since they occupy that worker for the
// duration of the call.
//
// Connect is invoked once per successful handshake, before the session is
// inserted into the registry. Returning a non-nil error rejects the
// connection; it is torn down without ever joining a room.
//
// Disconnect is invoked after the session has been removed from the
// registry. Its error is logged, not propagated; the connection is already
// gone.
//
// Message receives each inbound binary frame together with the sender's
// outbound handle, so it can reply directly, forward to a peer looked up
// in the registry, or resolve a pending command via Commander.Resolve.
type Consumer interface {
	Connect(ctx context.Context, conn ConnInfo, out Outbound) error
	Disconnect(ctx context.Context, conn ConnInfo) error
	Message(ctx context.Context, conn ConnInfo, out Outbound, data []byte) error
}

// Commander issues commands and pushes to connected sessions by
// session-id.
//
// SendCommand encodes payload as a server command with a fresh
// correlation-id, delivers it through the target's outbound handle and
// blocks until a reply is resolved for that id, the timeout elapses, or
// ctx is cancelled. The reply is delivered to exactly one caller. A reply
// arriving after the timeout is silently dropped; that is accepted data
// loss, not an error.
//
// SendIndication and SendAnswer are fire-and-forget: errors surface only
// from the transport boundary (unknown target, closed channel).
//
// Resolve publishes a reply for a correlation-id. Business logic calls it
// from Consumer.Message when it recognizes an inbound frame as a
// KindClientCommand reply. Resolving an id that is no longer pending is a
// no-op.
type Commander interface {
	SendCommand(ctx context.Context, sessionID string, payload []byte, timeout time.Duration) ([]byte, error)
	SendIndication(ctx context.Context, sessionID string, payload []byte) error
	SendAnswer(ctx context.Context, sessionID, correlationID string, payload []byte) error
	Resolve(correlationID string, reply []byte)
}

// Server is the assembled substrate: HTTP entry points, connection
// lifecycle, worker pool, registry and correlation engine behind one
// handle. Construct one with the ws package.
type Server interface {
	// Start binds the listen address and begins accepting connections.
	// It returns once the listener is up, or with the bind error.
	Start(ctx context.Context) error

	// Stop gracefully stops the server and closes all live connections.
	Stop(ctx context.Context) error

	// Commander returns the correlation engine bound to this server's
	// registry.
	Commander() Commander

	// Sessions lists the session-ids of all live connections.
	Sessions() []string

	// BroadcastRoom delivers payload to every member of a room,
	// best-effort. It reports how many sends were queued and how many
	// failed; a failed member never aborts delivery to the rest.
	BroadcastRoom(ctx context.Context, roomID string, payload []byte) (sent, failed int)
}
