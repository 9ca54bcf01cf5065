package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/worker"
)

const (
	// defaultHeartbeatInterval is how often the session pings its peer.
	defaultHeartbeatInterval = 10 * time.Second
	// defaultClientTimeout closes the connection when no liveness signal
	// (pong, ping or traffic) has been observed within it.
	defaultClientTimeout = 20 * time.Second
	// defaultConnectTimeout bounds the wait for the Connect
	// acknowledgment from the worker pool.
	defaultConnectTimeout = 5 * time.Second

	writeTimeout   = 10 * time.Second
	sendBufferSize = 256
)

// sessionTiming carries the liveness knobs from the server config into
// the session actor. Zero fields select the defaults above.
type sessionTiming struct {
	heartbeat   time.Duration
	liveness    time.Duration
	connectWait time.Duration
}

func (t sessionTiming) withDefaults() sessionTiming {
	if t.heartbeat <= 0 {
		t.heartbeat = defaultHeartbeatInterval
	}
	if t.liveness <= 0 {
		t.liveness = defaultClientTimeout
	}
	if t.connectWait <= 0 {
		t.connectWait = defaultConnectTimeout
	}
	return t
}

// RateLimitConfig defines rate limiting configuration for connections
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a connection can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Session is the per-socket connection actor. It owns the handshake
// dispatch, the heartbeat, frame decoding into worker events and the
// teardown notification. Its state machine is Connecting (run started) →
// InRoom (connect acknowledged) → Closing (teardown triggered) → Closed.
type Session struct {
	conn *websocket.Conn
	info roomcast.ConnInfo
	pool *worker.Pool
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	timing sessionTiming

	mu     sync.RWMutex
	closed bool

	// registered flips to true only after a worker acknowledged the
	// Connect event; teardown dispatches Disconnect only in that case.
	registered bool
	teardown   sync.Once

	limiter *rate.Limiter
	onClose func(*Session)
}

func newSession(conn *websocket.Conn, info roomcast.ConnInfo, pool *worker.Pool, rl *RateLimitConfig, timing sessionTiming, logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	return &Session{
		conn:    conn,
		info:    info,
		pool:    pool,
		log:     logger.With(zap.String("session_id", info.SessionID())),
		ctx:     ctx,
		cancel:  cancel,
		sendCh:  make(chan []byte, sendBufferSize),
		timing:  timing.withDefaults(),
		limiter: limiter,
	}
}

// Info returns the session's immutable handshake metadata.
func (s *Session) Info() roomcast.ConnInfo {
	return s.info
}

// Context returns the session's lifecycle context, cancelled on close.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Send queues an already-encoded binary frame for delivery. It implements
// roomcast.Outbound; frames queued here are written in order by the write
// pump.
func (s *Session) Send(ctx context.Context, data []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return roomcast.ErrSendFailed
	}

	// The lock must not be held across the wait: close() takes the write
	// lock, and a full queue with no pump would park both sides forever.
	// A concurrent teardown unblocks the select through s.ctx instead.
	select {
	case s.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return roomcast.ErrSendFailed
	}
}

// IsAlive returns true if the connection has not been torn down.
func (s *Session) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// run drives the session to completion: it dispatches the Connect event,
// starts the pumps and blocks until the read loop exits. The caller runs
// it on its own goroutine.
func (s *Session) run() {
	defer s.close()

	if err := s.dispatchConnect(); err != nil {
		s.log.Error("connect rejected", zap.Error(err))
		s.closeWithCode(websocket.ClosePolicyViolation, err.Error())
		return
	}

	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	go s.writePump()
	s.readPump()
}

// dispatchConnect sends the Connect event to one picked worker and waits
// for the acknowledgment. Any error leaves the registered flag unset.
func (s *Session) dispatchConnect() error {
	reply := make(chan error, 1)
	if err := s.pool.Post(worker.ConnectEvent{Conn: s.info, Out: s, Reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-time.After(s.timing.connectWait):
		// A slow worker may still admit the session after this deadline.
		// Consume the late ack and undo the registry insert when it
		// turns out to have succeeded.
		go func() {
			if err := <-reply; err == nil {
				s.pool.Disconnect(s.info)
			}
		}()
		return fmt.Errorf("connect acknowledgment timed out")
	}
}

func (s *Session) readPump() {
	s.conn.SetReadDeadline(time.Now().Add(s.timing.liveness))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.timing.liveness))
		return nil
	})
	s.conn.SetPingHandler(func(appData string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.timing.liveness))
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("unexpected close", zap.Error(err))
			}
			return
		}

		// Any traffic counts as liveness.
		s.conn.SetReadDeadline(time.Now().Add(s.timing.liveness))

		if msgType == websocket.TextMessage {
			// Protocol mandates binary-only framing.
			s.log.Warn("received text frame on binary-only channel")
			s.Send(context.Background(), []byte(roomcast.ReasonBinaryOnly))
			s.closeWithCode(websocket.CloseUnsupportedData, roomcast.ReasonBinaryOnly)
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn("rate limit exceeded", zap.String("remote_addr", s.info.IP))
			s.closeWithCode(websocket.ClosePolicyViolation, roomcast.ReasonRateLimited)
			return
		}

		if err := s.pool.Post(worker.MessageEvent{Conn: s.info, Out: s, Data: data}); err != nil {
			// Backpressure: the frame is dropped, the connection lives on.
			s.log.Warn("dropped inbound frame", zap.Error(err))
		}
	}
}

// writePump drains the outbound queue onto the socket and keeps the
// heartbeat going.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.timing.heartbeat)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case data := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// close performs the Closing → Closed transition exactly once, no matter
// how many teardown conditions fired.
func (s *Session) close() {
	s.teardown.Do(func() {
		// Cancel before taking the lock so any Send parked on a full
		// queue unblocks first.
		s.cancel()

		s.mu.Lock()
		s.closed = true
		registered := s.registered
		s.mu.Unlock()

		if registered {
			// Fire-and-forget: no acknowledgment is awaited. Disconnect
			// cannot be refused, so the registry entry never outlives
			// the connection.
			s.pool.Disconnect(s.info)
		}

		s.conn.Close()

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// closeWithCode writes a close control frame with code and reason before
// tearing down.
func (s *Session) closeWithCode(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	s.close()
}

// Close tears the session down with a normal closure frame.
func (s *Session) Close(_ context.Context) error {
	s.closeWithCode(websocket.CloseNormalClosure, "")
	return nil
}
