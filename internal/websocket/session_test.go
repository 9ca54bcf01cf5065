package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/registry"
	"github.com/wavely/roomcast/internal/worker"
)

// newDirectConn upgrades a throwaway server connection and returns the
// client side, for driving a Session without the HTTP surface.
func newDirectConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-done
		c.Close()
	}))
	t.Cleanup(func() {
		close(done)
		ts.Close()
	})

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// gateConsumer holds Connect until released and reports Disconnect.
type gateConsumer struct {
	release      chan struct{}
	disconnected chan roomcast.ConnInfo
}

func newGateConsumer() *gateConsumer {
	return &gateConsumer{
		release:      make(chan struct{}),
		disconnected: make(chan roomcast.ConnInfo, 1),
	}
}

func (c *gateConsumer) Connect(context.Context, roomcast.ConnInfo, roomcast.Outbound) error {
	<-c.release
	return nil
}

func (c *gateConsumer) Disconnect(_ context.Context, conn roomcast.ConnInfo) error {
	select {
	case c.disconnected <- conn:
	default:
	}
	return nil
}

func (c *gateConsumer) Message(context.Context, roomcast.ConnInfo, roomcast.Outbound, []byte) error {
	return nil
}

// A Send parked on a full queue must not hold the state lock, or a
// teardown racing it can never cancel the context that would release it.
func TestCloseUnblocksParkedSend(t *testing.T) {
	t.Parallel()

	conn := newDirectConn(t)
	reg := registry.New(nil)
	pool := worker.NewPool(worker.Config{Workers: 1}, &echoConsumer{}, reg)
	t.Cleanup(pool.Stop)

	info := roomcast.ConnInfo{Business: "chat", Actor: "user", ConnID: "room1"}
	sess := newSession(conn, info, pool, NoRateLimit(), sessionTiming{}, zap.NewNop())

	// Fill the queue with no pump draining it, the state a session is in
	// right after its write pump died on a socket error.
	for i := 0; i < sendBufferSize; i++ {
		sess.sendCh <- []byte("fill")
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sess.Send(context.Background(), []byte("parked"))
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		sess.close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close() never returned while a Send was parked")
	}

	select {
	case err := <-sendErr:
		if !errors.Is(err, roomcast.ErrSendFailed) {
			t.Errorf("Send = %v, want ErrSendFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parked Send never unblocked after close")
	}
}

// A worker that finishes admission after the session already gave up on
// the acknowledgment must not leave a phantom registry entry behind.
func TestLateConnectAckUndone(t *testing.T) {
	t.Parallel()

	conn := newDirectConn(t)
	gate := newGateConsumer()
	reg := registry.New(nil)
	pool := worker.NewPool(worker.Config{Workers: 1}, gate, reg)
	t.Cleanup(pool.Stop)

	info := roomcast.ConnInfo{Business: "chat", Actor: "user", ConnID: "room1"}
	sess := newSession(conn, info, pool, NoRateLimit(),
		sessionTiming{connectWait: 30 * time.Millisecond}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		sess.run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run() did not finish after the ack timeout")
	}

	// Only now does the worker complete the admission and insert the
	// torn-down session into the registry.
	close(gate.release)

	select {
	case <-gate.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("late admission was never undone")
	}

	if _, ok := reg.Lookup("user_room1"); ok {
		t.Error("phantom registry entry after late connect ack")
	}
	if reg.HasRoom("room1") {
		t.Error("phantom room after late connect ack")
	}
}
