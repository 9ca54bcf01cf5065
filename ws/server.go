// Package ws is the public entry point: it assembles a roomcast.Server
// from one config.
package ws

import (
	"net/http"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/protocol"
	"github.com/wavely/roomcast/internal/websocket"
	"github.com/wavely/roomcast/internal/worker"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type Config = websocket.ServerConfig
type Picker = worker.Picker

// New creates a server from cfg. Consumer is required; every other field
// has a default: built-in binary codec, three workers with 2048-slot
// mailboxes, uniform random worker selection, 100 msg/s rate limit and
// the "/ws" path prefix.
//
// Example:
//
//	srv := ws.New(&ws.Config{
//	    Addr:        ":8080",
//	    Consumer:    myConsumer,
//	    CheckOrigin: ws.AllOrigins(),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func New(cfg *Config) roomcast.Server {
	return websocket.New(cfg)
}

// DefaultCodec returns the built-in binary envelope codec.
func DefaultCodec() roomcast.Codec {
	return protocol.Codec{}
}

// AllOrigins returns a checkOrigin function that allows all origins.
// Never use it in production.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// RandomPicker returns the default uniform random worker selection
// policy.
func RandomPicker() Picker {
	return worker.NewRandomPicker()
}

// RoundRobinPicker returns a worker selection policy that cycles through
// the pool in order.
func RoundRobinPicker() Picker {
	return worker.NewRoundRobinPicker()
}

// SeededPicker returns a random policy with a fixed seed, for
// deterministic tests.
func SeededPicker(seed int64) Picker {
	return worker.NewSeededPicker(seed)
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}
