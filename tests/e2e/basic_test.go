package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/protocol"
	"github.com/wavely/roomcast/ws"
)

// resolverConsumer feeds client replies back into the correlation engine
// and ignores everything else.
type resolverConsumer struct {
	commander roomcast.Commander
}

func (c *resolverConsumer) Connect(context.Context, roomcast.ConnInfo, roomcast.Outbound) error {
	return nil
}

func (c *resolverConsumer) Disconnect(context.Context, roomcast.ConnInfo) error {
	return nil
}

func (c *resolverConsumer) Message(_ context.Context, _ roomcast.ConnInfo, _ roomcast.Outbound, data []byte) error {
	kind, id, payload, err := protocol.Codec{}.Decode(data)
	if err != nil {
		return err
	}
	if kind == roomcast.KindClientCommand {
		c.commander.Resolve(id, payload)
	}
	return nil
}

// replyPump answers every server command on conn with the given payload.
func replyPump(t *testing.T, conn *websocket.Conn, reply []byte) {
	t.Helper()
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			kind, id, _, err := protocol.Codec{}.Decode(frame)
			if err != nil || kind != roomcast.KindServerCommand {
				continue
			}
			answer, _ := protocol.Codec{}.Encode(roomcast.KindClientCommand, id, reply)
			if err := conn.WriteMessage(websocket.BinaryMessage, answer); err != nil {
				return
			}
		}
	}()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

// TestSessionLifecycle walks two sessions through the whole substrate:
// both join the same room, the server commands one of them and gets a
// correlated reply, and membership shrinks as each client disconnects.
func TestSessionLifecycle(t *testing.T) {
	const addr = "localhost:18080"

	consumer := &resolverConsumer{}
	server := ws.New(&ws.Config{
		Addr:        addr,
		Consumer:    consumer,
		CheckOrigin: ws.AllOrigins(),
	})
	consumer.commander = server.Commander()

	ctx := context.Background()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(stopCtx)
	}()

	userConn, _, err := newDialer().Dial(entryURL(addr, "chat", "user", "room1"), nil)
	if err != nil {
		t.Fatalf("Failed to connect user: %v", err)
	}
	defer userConn.Close()

	adminConn, _, err := newDialer().Dial(entryURL(addr, "chat", "admin", "room1"), nil)
	if err != nil {
		t.Fatalf("Failed to connect admin: %v", err)
	}
	defer adminConn.Close()

	waitFor(t, 2*time.Second, func() bool { return len(server.Sessions()) == 2 })

	replyPump(t, adminConn, []byte("pong"))

	reply, err := server.Commander().SendCommand(ctx, "admin_room1", []byte("ping"), 5*time.Second)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if string(reply) != "pong" {
		t.Errorf("reply = %q, want %q", reply, "pong")
	}

	broadcast, _ := protocol.Codec{}.Encode(roomcast.KindIndication, "", []byte("hello room"))
	if sent, failed := server.BroadcastRoom(ctx, "room1", broadcast); sent != 2 || failed != 0 {
		t.Errorf("broadcast = (%d sent, %d failed), want (2, 0)", sent, failed)
	}

	userConn.Close()
	waitFor(t, 2*time.Second, func() bool { return len(server.Sessions()) == 1 })

	if sent, _ := server.BroadcastRoom(ctx, "room1", broadcast); sent != 1 {
		t.Errorf("broadcast after user left = %d sent, want 1", sent)
	}

	adminConn.Close()
	waitFor(t, 2*time.Second, func() bool { return len(server.Sessions()) == 0 })

	if sent, _ := server.BroadcastRoom(ctx, "room1", broadcast); sent != 0 {
		t.Errorf("broadcast on released room = %d sent, want 0", sent)
	}
}
