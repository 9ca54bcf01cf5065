package e2e_test

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Helper function to create a WebSocket dialer
func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
}

// entryURL builds the upgrade URL for one session identity.
func entryURL(addr, business, actor, connID string) string {
	return fmt.Sprintf("ws://%s/ws/%s/%s/%s", addr, business, actor, connID)
}
