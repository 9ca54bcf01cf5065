// Package registry tracks live sessions and the room membership derived
// from them.
package registry

import (
	"context"

	"sync"

	"go.uber.org/zap"

	"github.com/wavely/roomcast"
)

// Entry is one registered session: its handshake metadata and the handle
// used to queue outbound frames to it.
type Entry struct {
	Conn roomcast.ConnInfo
	Out  roomcast.Outbound
}

// Registry is the concurrent session table. A session exists in it exactly
// between a successful handshake and the teardown notification. Room
// membership is rebuilt from Add/Remove under the same critical section as
// the session table mutation, so a session is never registered room-less
// or vice versa.
//
// Mutations take the write lock; lookups and broadcast snapshots take the
// read lock only, and sends happen outside the lock entirely.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Entry
	rooms    map[string]map[string]struct{}
	log      *zap.Logger
}

// New creates an empty registry. logger may be nil.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]Entry),
		rooms:    make(map[string]map[string]struct{}),
		log:      logger,
	}
}

// Add registers a session and joins it to its room. A second Add for an
// already-present session-id fails with roomcast.ErrDuplicateSession
// without mutating state.
func (r *Registry) Add(conn roomcast.ConnInfo, out roomcast.Outbound) error {
	id := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return roomcast.ErrDuplicateSession
	}

	r.sessions[id] = Entry{Conn: conn, Out: out}

	room := conn.RoomID()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}

	r.log.Info("session registered",
		zap.String("session_id", id),
		zap.String("room_id", room))
	return nil
}

// Remove unregisters a session and leaves its room, deleting the room when
// the last member is gone. Removing an absent session is a no-op.
func (r *Registry) Remove(conn roomcast.ConnInfo) {
	id := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)

	room := conn.RoomID()
	if members, ok := r.rooms[room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
			r.log.Info("room released", zap.String("room_id", room))
		}
	}
}

// Lookup returns the entry for a session-id.
func (r *Registry) Lookup(sessionID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return e, ok
}

// Sessions lists all live session-ids.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ConnInfos lists the metadata of all live sessions.
func (r *Registry) ConnInfos() []roomcast.ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]roomcast.ConnInfo, 0, len(r.sessions))
	for _, e := range r.sessions {
		infos = append(infos, e.Conn)
	}
	return infos
}

// HasConn reports whether any live session carries the given conn-id.
func (r *Registry) HasConn(connID string) bool {
	_, ok := r.FindByConnID(connID)
	return ok
}

// FindByConnID returns the session-id of the first live session carrying
// the given conn-id.
func (r *Registry) FindByConnID(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.sessions {
		if e.Conn.ConnID == connID {
			return id, true
		}
	}
	return "", false
}

// RoomMembers returns the session-ids currently in a room.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// HasRoom reports whether a room currently has any members.
func (r *Registry) HasRoom(roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// BroadcastRoom queues payload to every current member of a room. A
// failed send to one member is logged as a warning and never aborts
// delivery to the rest. It returns how many sends were queued and how
// many failed.
func (r *Registry) BroadcastRoom(ctx context.Context, roomID string, payload []byte) (sent, failed int) {
	r.mu.RLock()
	targets := make([]Entry, 0)
	if members, ok := r.rooms[roomID]; ok {
		for id := range members {
			if e, ok := r.sessions[id]; ok {
				targets = append(targets, e)
			}
		}
	}
	r.mu.RUnlock()

	for _, e := range targets {
		if err := e.Out.Send(ctx, payload); err != nil {
			failed++
			r.log.Warn("broadcast send failed",
				zap.String("room_id", roomID),
				zap.String("session_id", e.Conn.SessionID()),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent, failed
}
