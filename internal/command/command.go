// Package command implements the command/response correlation engine: it
// issues uniquely-identified commands to sessions and turns the eventual
// reply into an awaitable value with cancellation by timeout.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wavely/roomcast"
	"github.com/wavely/roomcast/internal/registry"
)

// DefaultWakeInterval is how often the reaper wakes every suspended
// caller to re-check its pending entry. Coarse broadcast-wake trades a
// small fixed latency tax for a far simpler scheme than per-key targeted
// wake; the number of concurrently pending commands stays small relative
// to the poll cost. Do not tighten this to immediate wake without
// re-validating that trade-off.
const DefaultWakeInterval = 5 * time.Millisecond

// pending holds one command slot. reply stays nil-and-unresolved until an
// inbound reply resolves it; a resolved slot is consumed by at most one
// waiter.
type pending struct {
	reply    []byte
	resolved bool
}

// Engine correlates server-issued commands with client replies.
type Engine struct {
	reg   *registry.Registry
	codec roomcast.Codec
	log   *zap.Logger

	mu    sync.Mutex
	table map[string]*pending

	wakeMu sync.Mutex
	wakers []chan struct{}

	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

var _ roomcast.Commander = (*Engine)(nil)

// New creates an engine bound to a registry and codec and starts its
// reaper. Close releases the reaper. logger may be nil; interval <= 0
// selects DefaultWakeInterval.
func New(reg *registry.Registry, codec roomcast.Codec, interval time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultWakeInterval
	}
	e := &Engine{
		reg:      reg,
		codec:    codec,
		log:      logger,
		table:    make(map[string]*pending),
		interval: interval,
		stop:     make(chan struct{}),
	}
	go e.reap()
	return e
}

// Close stops the reaper. In-flight SendCommand calls still observe their
// timeout; they just stop being woken early.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// SendCommand issues payload to the target session as a server command and
// blocks until the correlated reply arrives, timeout elapses, or ctx is
// cancelled. The reply is consumed atomically; a second waiter on the same
// correlation-id can never observe it.
func (e *Engine) SendCommand(ctx context.Context, sessionID string, payload []byte, timeout time.Duration) ([]byte, error) {
	entry, ok := e.reg.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", roomcast.ErrTargetNotFound, sessionID)
	}

	id := uuid.NewString()
	data, err := e.codec.Encode(roomcast.KindServerCommand, id, payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.table[id] = &pending{}
	e.mu.Unlock()

	if err := entry.Out.Send(ctx, data); err != nil {
		e.remove(id)
		return nil, fmt.Errorf("%w: %s: %v", roomcast.ErrSendFailed, sessionID, err)
	}

	return e.await(ctx, id, timeout)
}

// await suspends until the reply for id is consumable. Each reaper tick
// wakes it to re-poll; the deadline removes the pending slot so a late
// reply finds nothing to resolve and is dropped.
func (e *Engine) await(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if reply, ok := e.take(id); ok {
			return reply, nil
		}

		wake := make(chan struct{}, 1)
		e.wakeMu.Lock()
		e.wakers = append(e.wakers, wake)
		e.wakeMu.Unlock()

		select {
		case <-wake:
		case <-deadline.C:
			e.remove(id)
			return nil, fmt.Errorf("%w: %s", roomcast.ErrTimeout, id)
		case <-ctx.Done():
			e.remove(id)
			return nil, ctx.Err()
		}
	}
}

// take consumes a resolved reply. Removal happens under the same lock as
// the read, so at most one caller ever gets the value.
func (e *Engine) take(id string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.table[id]
	if !ok || !p.resolved {
		return nil, false
	}
	delete(e.table, id)
	return p.reply, true
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	delete(e.table, id)
	e.mu.Unlock()
}

// Resolve publishes a reply for a pending correlation-id. An id that was
// already consumed or timed out finds no slot and the reply is silently
// dropped: that is the documented late-reply policy, not an error.
func (e *Engine) Resolve(correlationID string, reply []byte) {
	e.mu.Lock()
	p, ok := e.table[correlationID]
	if ok && !p.resolved {
		p.resolved = true
		p.reply = reply
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug("dropped late reply", zap.String("correlation_id", correlationID))
	}
}

// Pending reports how many command slots are currently outstanding.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.table)
}

// SendIndication delivers payload to the target as a one-way push. No
// correlation-id is attached and no reply is awaited.
func (e *Engine) SendIndication(ctx context.Context, sessionID string, payload []byte) error {
	return e.sendOneWay(ctx, sessionID, roomcast.KindIndication, "", payload)
}

// SendAnswer replies to a command the target previously issued to us,
// keyed by the correlation-id the target generated.
func (e *Engine) SendAnswer(ctx context.Context, sessionID, correlationID string, payload []byte) error {
	return e.sendOneWay(ctx, sessionID, roomcast.KindClientCommand, correlationID, payload)
}

func (e *Engine) sendOneWay(ctx context.Context, sessionID string, kind roomcast.Kind, correlationID string, payload []byte) error {
	entry, ok := e.reg.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", roomcast.ErrTargetNotFound, sessionID)
	}
	data, err := e.codec.Encode(kind, correlationID, payload)
	if err != nil {
		return err
	}
	if err := entry.Out.Send(ctx, data); err != nil {
		return fmt.Errorf("%w: %s: %v", roomcast.ErrSendFailed, sessionID, err)
	}
	return nil
}

// reap drains the whole waker set once per interval so every suspended
// caller re-evaluates its own completion condition.
func (e *Engine) reap() {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.wakeMu.Lock()
			wakers := e.wakers
			e.wakers = nil
			e.wakeMu.Unlock()

			for _, w := range wakers {
				select {
				case w <- struct{}{}:
				default:
				}
			}
		}
	}
}
