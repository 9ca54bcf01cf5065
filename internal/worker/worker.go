// Package worker runs the fixed pool of mailbox-driven workers that fan
// connection events out to the business consumer.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/registry"
)

// DefaultMailboxSize absorbs bursts of a few thousand frames before a
// worker starts rejecting events.
const DefaultMailboxSize = 2048

// Event is one item in a worker's mailbox: a connect, disconnect or
// inbound message. The closed set of variants lives below.
type Event interface {
	event()
}

// ConnectEvent asks a worker to admit a new session. Reply receives the
// outcome: nil means the consumer accepted and the registry insert
// succeeded, anything else and the caller must tear the connection down
// without it ever having joined a room.
type ConnectEvent struct {
	Conn  roomcast.ConnInfo
	Out   roomcast.Outbound
	Reply chan<- error
}

// DisconnectEvent notifies teardown of a registered session. It is
// fire-and-forget; the connection is already closing.
type DisconnectEvent struct {
	Conn roomcast.ConnInfo
}

// MessageEvent hands one inbound binary frame to business logic.
type MessageEvent struct {
	Conn roomcast.ConnInfo
	Out  roomcast.Outbound
	Data []byte
}

func (ConnectEvent) event()    {}
func (DisconnectEvent) event() {}
func (MessageEvent) event()    {}

// Worker owns one bounded mailbox and drains it onto the consumer.
type Worker struct {
	id       int
	mailbox  chan Event
	consumer roomcast.Consumer
	registry *registry.Registry
	log      *zap.Logger
}

// Post queues an event, rejecting it with roomcast.ErrMailboxFull when the
// mailbox is at capacity. Overflow backpressures the sender instead of
// growing without bound.
func (w *Worker) Post(ev Event) error {
	select {
	case w.mailbox <- ev:
		return nil
	default:
		return fmt.Errorf("worker %d: %w", w.id, roomcast.ErrMailboxFull)
	}
}

func (w *Worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.mailbox:
			w.dispatch(ctx, ev)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case ConnectEvent:
		ev.Reply <- w.handleConnect(ctx, ev)
	case DisconnectEvent:
		// Registry removal comes first so a concurrent broadcast stops
		// targeting this session as soon as possible.
		w.registry.Remove(ev.Conn)
		if err := w.consumer.Disconnect(ctx, ev.Conn); err != nil {
			w.log.Error("consumer disconnect failed",
				zap.String("session_id", ev.Conn.SessionID()),
				zap.Error(err))
		}
	case MessageEvent:
		if err := w.consumer.Message(ctx, ev.Conn, ev.Out, ev.Data); err != nil {
			w.log.Error("consumer message failed",
				zap.String("session_id", ev.Conn.SessionID()),
				zap.Error(err))
		}
	}
}

func (w *Worker) handleConnect(ctx context.Context, ev ConnectEvent) error {
	if err := w.consumer.Connect(ctx, ev.Conn, ev.Out); err != nil {
		return err
	}
	return w.registry.Add(ev.Conn, ev.Out)
}

// Pool is a fixed-size set of workers sharing one selection policy.
// Any worker may serve any event; a connection's events are not
// affinitized to one worker.
type Pool struct {
	workers []*Worker
	picker  Picker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config sizes and wires a pool.
type Config struct {
	// Workers is the pool size. Defaults to 3 when zero.
	Workers int
	// MailboxSize bounds each worker's mailbox. Defaults to
	// DefaultMailboxSize when zero.
	MailboxSize int
	// Picker selects a worker per event. Defaults to uniform random.
	Picker Picker
	// Logger may be nil.
	Logger *zap.Logger
}

// NewPool creates and starts the worker loops. Stop releases them.
func NewPool(cfg Config, consumer roomcast.Consumer, reg *registry.Registry) *Pool {
	n := cfg.Workers
	if n <= 0 {
		n = 3
	}
	size := cfg.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}
	picker := cfg.Picker
	if picker == nil {
		picker = NewRandomPicker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers: make([]*Worker, n),
		picker:  picker,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < n; i++ {
		w := &Worker{
			id:       i,
			mailbox:  make(chan Event, size),
			consumer: consumer,
			registry: reg,
			log:      logger.With(zap.Int("worker", i)),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(ctx, &p.wg)
	}
	logger.Info("worker pool started",
		zap.Int("workers", n),
		zap.Int("mailbox_size", size))
	return p
}

// Pick selects one worker using the pool's policy.
func (p *Pool) Pick() *Worker {
	return p.workers[p.picker.Pick(len(p.workers))]
}

// Post picks a worker and queues the event on it.
func (p *Pool) Post(ev Event) error {
	return p.Pick().Post(ev)
}

// Disconnect delivers the teardown notification for a registered
// session. Unlike Post it never fails: when every mailbox is full the
// event runs inline on the caller, so a registry entry cannot outlive
// its connection just because the pool is saturated.
func (p *Pool) Disconnect(conn roomcast.ConnInfo) {
	ev := DisconnectEvent{Conn: conn}
	for _, w := range p.workers {
		if w.Post(ev) == nil {
			return
		}
	}
	p.workers[0].dispatch(p.ctx, ev)
}

// Stop terminates the worker loops and waits for them to drain their
// current event.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
