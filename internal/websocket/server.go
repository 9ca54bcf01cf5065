// Package websocket hosts the HTTP surface and the per-socket connection
// actors of the substrate.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/auth"
	"github.com/wavely/roomcast/internal/command"
	"github.com/wavely/roomcast/internal/protocol"
	"github.com/wavely/roomcast/internal/registry"
	"github.com/wavely/roomcast/internal/response"
	"github.com/wavely/roomcast/internal/worker"
)

// CheckOriginFn validates the origin of an upgrade request. Return true
// to allow the connection.
type CheckOriginFn = func(r *http.Request) bool

// ServerConfig assembles a Server. Consumer is the only mandatory field.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// PathPrefix is prepended to the upgrade route. The entry endpoint is
	// {PathPrefix}/{business}/{actor}/{connid}. Defaults to "/ws".
	PathPrefix string
	// Namespace labels the Prometheus metrics. Defaults to "roomcast".
	Namespace string

	Consumer roomcast.Consumer
	// Codec encodes the command/response envelope. Defaults to the
	// built-in binary codec.
	Codec roomcast.Codec

	// Workers sizes the pool; MailboxSize bounds each mailbox; Picker
	// selects a worker per event. Zero values select defaults.
	Workers     int
	MailboxSize int
	Picker      worker.Picker

	// WakeInterval tunes the correlation engine reaper.
	WakeInterval time.Duration

	// HeartbeatInterval is the server-side ping cadence; ClientTimeout
	// tears a connection down when no liveness signal arrives within it.
	// ConnectTimeout bounds the wait for the worker pool's Connect
	// acknowledgment. Zero values select 10s, 20s and 5s.
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	ConnectTimeout    time.Duration

	RateLimitConfig *RateLimitConfig
	CheckOrigin     CheckOriginFn

	// TokenChecker verifies handshake tokens. Nil admits every
	// connection; an absent token reaches the checker as "".
	TokenChecker auth.Checker

	Logger *zap.Logger
}

// Server implements roomcast.Server.
type Server struct {
	cfg      *ServerConfig
	log      *zap.Logger
	registry *registry.Registry
	pool     *worker.Pool
	engine   *command.Engine
	metrics  *metrics

	server   *http.Server
	upgrader websocket.Upgrader

	sessions sync.Map // *Session -> struct{}

	mu      sync.Mutex
	running bool
}

var _ roomcast.Server = (*Server)(nil)

// New wires registry, worker pool and correlation engine from cfg.
func New(cfg *ServerConfig) *Server {
	if cfg.Consumer == nil {
		panic("websocket: ServerConfig.Consumer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.Codec{}
	}
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = DefaultRateLimitConfig()
	}
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/ws"
	}
	cfg.PathPrefix = "/" + strings.Trim(cfg.PathPrefix, "/")
	if cfg.Namespace == "" {
		cfg.Namespace = "roomcast"
	}

	reg := registry.New(logger)
	pool := worker.NewPool(worker.Config{
		Workers:     cfg.Workers,
		MailboxSize: cfg.MailboxSize,
		Picker:      cfg.Picker,
		Logger:      logger,
	}, cfg.Consumer, reg)
	engine := command.New(reg, cfg.Codec, cfg.WakeInterval, logger)

	return &Server{
		cfg:      cfg,
		log:      logger,
		registry: reg,
		pool:     pool,
		engine:   engine,
		metrics:  newMetrics(cfg.Namespace),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Commander returns the correlation engine bound to this server.
func (s *Server) Commander() roomcast.Commander {
	return s.engine
}

// Registry exposes the session registry for business-logic lookups.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Sessions lists the session-ids of all live connections.
func (s *Server) Sessions() []string {
	return s.registry.Sessions()
}

// BroadcastRoom delivers payload to every member of a room, best-effort.
func (s *Server) BroadcastRoom(ctx context.Context, roomID string, payload []byte) (sent, failed int) {
	return s.registry.BroadcastRoom(ctx, roomID, payload)
}

func (s *Server) routes() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.handleHealth)
	router.Handler(http.MethodGet, "/metrics", s.metrics.handler())
	router.GET(s.cfg.PathPrefix+"/:business/:actor/:connid", s.handleEntry)
	return s.metrics.instrument(router)
}

// Start begins listening. It returns once the listener is up or with the
// bind error, following a short startup probe window.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return roomcast.ErrServerRunning
	}
	s.running = true
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.routes(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.log.Info("server listening", zap.String("addr", s.cfg.Addr))
		return nil
	}
}

// Stop gracefully stops the server: close every live session, stop the
// pool and the reaper, shut the HTTP listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.sessions.Range(func(key, _ interface{}) bool {
		if sess, ok := key.(*Session); ok {
			sess.Close(ctx)
		}
		return true
	})

	s.engine.Close()
	s.pool.Stop()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth reports current server time, for external liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	fmt.Fprintf(w, "running: %s", time.Now().Format(time.RFC3339))
}

// handleEntry upgrades {business}/{actor}/{connid} requests into session
// actors.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	info := roomcast.ConnInfo{
		IP:       r.RemoteAddr,
		Business: params.ByName("business"),
		Actor:    params.ByName("actor"),
		ConnID:   params.ByName("connid"),
		Token:    r.Header.Get("token"),
	}
	if strings.Contains(info.Actor, "_") {
		// "_" separates actor and connid in the session-id; an actor
		// carrying it would make two different identities collide.
		s.log.Warn("actor contains reserved separator", zap.String("actor", info.Actor))
		response.WriteError(w, http.StatusBadRequest, "actor must not contain '_'")
		return
	}
	if info.Token == "" {
		s.log.Warn("websocket connection without token",
			zap.String("session_id", info.SessionID()))
	}

	if s.cfg.TokenChecker != nil {
		reqPath := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		if _, err := s.cfg.TokenChecker.CheckAndVerify(r.Context(), info.Token, reqPath); err != nil {
			s.log.Warn("token rejected", zap.String("session_id", info.SessionID()), zap.Error(err))
			response.WriteError(w, http.StatusUnauthorized, "token verification failed")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the client error; just log it.
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(conn, info, s.pool, s.cfg.RateLimitConfig, sessionTiming{
		heartbeat:   s.cfg.HeartbeatInterval,
		liveness:    s.cfg.ClientTimeout,
		connectWait: s.cfg.ConnectTimeout,
	}, s.log)
	sess.onClose = func(sess *Session) {
		s.sessions.Delete(sess)
		s.metrics.connections.Dec()
	}
	s.sessions.Store(sess, struct{}{})
	s.metrics.connections.Inc()

	go sess.run()
}
