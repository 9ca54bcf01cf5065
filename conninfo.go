package roomcast

// ConnInfo is the immutable per-connection metadata extracted during the
// handshake. It is created once, copied into every event that references
// the connection, and never mutated afterwards.
type ConnInfo struct {
	// IP is the originating remote address, "host:port".
	IP string
	// Business is the namespace segment of the entry path.
	Business string
	// ConnID names the room this connection belongs to. Several
	// connections may share one ConnID; they form a room.
	ConnID string
	// Actor is the role name that disambiguates members of the same room.
	// It must not contain "_", the session-id separator; the handshake
	// rejects actors that do.
	Actor string
	// Token is the opaque auth token taken from the handshake header.
	// Empty when the client sent none.
	Token string
}

// SessionID returns the composite key identifying this connection in the
// registry: actor and conn-id joined by an underscore. With the actor
// barred from containing "_", splitting at the first underscore recovers
// the pair unambiguously.
func (c ConnInfo) SessionID() string {
	return c.Actor + "_" + c.ConnID
}

// RoomID returns the broadcast group this connection belongs to.
func (c ConnInfo) RoomID() string {
	return c.ConnID
}
