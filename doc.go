// Package roomcast is a server-side substrate for bidirectional,
// connection-oriented messaging: many long-lived WebSocket connections,
// grouped into rooms, exchange binary frames with a pluggable business
// consumer and with each other, while a correlation layer lets server-side
// code issue a command to a specific connection and await its reply with a
// timeout.
//
// # Architecture
//
// Clients connect through an upgrade endpoint parameterized as
// {business}/{actor}/{connid}. The actor and connid together identify a
// session; every session sharing a connid forms a room, the broadcast
// group. Four pieces cooperate:
//
//   - the session registry tracks live sessions and derives room
//     membership from their add/remove events
//   - a fixed pool of mailbox-driven workers fans inbound frames out to
//     the business Consumer without serializing traffic through one loop
//   - one connection actor per socket owns handshake, heartbeat and
//     teardown, and drains an outbound queue back onto the wire
//   - the correlation engine turns send-command-and-wait-for-reply into
//     an awaitable value with cancellation by timeout
//
// Delivery is best-effort and in-memory; nothing survives a process
// restart.
//
// # Quick Start
//
//	srv := ws.New(&ws.Config{
//	    Addr:     ":8080",
//	    Consumer: myConsumer,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Issue a command to one session and wait up to five seconds.
//	reply, err := srv.Commander().SendCommand(ctx, "admin_room1", payload, 5*time.Second)
//
// # Protocol Format
//
// Frames are binary-only. The default envelope is
//
//	[1 byte: kind][1 byte: id length][id bytes][N bytes: payload]
//
// where kind distinguishes server commands, client replies and one-way
// indications. A custom Codec may replace the byte layout; the substrate
// only requires that the kind and correlation-id round-trip. Text frames
// close the connection with a diagnostic payload.
//
// # Rate Limiting
//
// Each connection carries an independent token bucket. When the budget is
// exceeded the connection is closed with close code 1008. See
// ws.DefaultRateLimitConfig and ws.NoRateLimit.
package roomcast
