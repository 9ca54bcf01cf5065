package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavely/roomcast"
)

type recordingOut struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (o *recordingOut) Send(_ context.Context, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return roomcast.ErrSendFailed
	}
	o.frames = append(o.frames, data)
	return nil
}

func (o *recordingOut) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func conn(actor, connID string) roomcast.ConnInfo {
	return roomcast.ConnInfo{
		IP:       "127.0.0.1:1234",
		Business: "chat",
		ConnID:   connID,
		Actor:    actor,
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	t.Parallel()

	r := New(nil)
	c := conn("user", "room1")

	require.NoError(t, r.Add(c, &recordingOut{}))
	err := r.Add(c, &recordingOut{})
	require.ErrorIs(t, err, roomcast.ErrDuplicateSession)

	// The loser must not have mutated state.
	assert.Equal(t, []string{"user_room1"}, r.Sessions())
	assert.Equal(t, []string{"user_room1"}, r.RoomMembers("room1"))
}

func TestConcurrentAddExactlyOneWinner(t *testing.T) {
	t.Parallel()

	r := New(nil)
	c := conn("user", "room1")

	const racers = 32
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Add(c, &recordingOut{})
		}()
	}
	wg.Wait()
	close(errs)

	var wins, dups int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, roomcast.ErrDuplicateSession):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, dups)
	assert.Len(t, r.Sessions(), 1)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New(nil)
	c := conn("user", "room1")
	require.NoError(t, r.Add(c, &recordingOut{}))

	r.Remove(c)
	r.Remove(c) // second remove is a no-op

	assert.Empty(t, r.Sessions())
	assert.False(t, r.HasRoom("room1"))
}

func TestRoomExistsIffNonEmpty(t *testing.T) {
	t.Parallel()

	r := New(nil)
	user := conn("user", "room1")
	admin := conn("admin", "room1")

	require.NoError(t, r.Add(user, &recordingOut{}))
	require.NoError(t, r.Add(admin, &recordingOut{}))
	assert.ElementsMatch(t, []string{"user_room1", "admin_room1"}, r.RoomMembers("room1"))

	r.Remove(user)
	assert.True(t, r.HasRoom("room1"))
	assert.Equal(t, []string{"admin_room1"}, r.RoomMembers("room1"))

	r.Remove(admin)
	assert.False(t, r.HasRoom("room1"))
	assert.Nil(t, r.RoomMembers("room1"))
}

func TestRoomInvariantUnderInterleaving(t *testing.T) {
	t.Parallel()

	r := New(nil)
	const iterations = 200

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		actor := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := conn(actor, "shared")
			for j := 0; j < iterations; j++ {
				if err := r.Add(c, &recordingOut{}); err == nil {
					r.Remove(c)
				}
			}
		}()
	}
	wg.Wait()

	// Every member left, so the room must be gone.
	assert.False(t, r.HasRoom("shared"))
	assert.Empty(t, r.Sessions())
}

func TestFindByConnID(t *testing.T) {
	t.Parallel()

	r := New(nil)
	require.NoError(t, r.Add(conn("user", "room1"), &recordingOut{}))

	id, ok := r.FindByConnID("room1")
	assert.True(t, ok)
	assert.Equal(t, "user_room1", id)

	_, ok = r.FindByConnID("nope")
	assert.False(t, ok)
	assert.True(t, r.HasConn("room1"))
	assert.False(t, r.HasConn("nope"))
}

func TestConnInfos(t *testing.T) {
	t.Parallel()

	r := New(nil)
	require.NoError(t, r.Add(conn("user", "room1"), &recordingOut{}))
	require.NoError(t, r.Add(conn("admin", "room2"), &recordingOut{}))

	infos := r.ConnInfos()
	require.Len(t, infos, 2)
	ids := []string{infos[0].SessionID(), infos[1].SessionID()}
	assert.ElementsMatch(t, []string{"user_room1", "admin_room2"}, ids)
}

func TestBroadcastPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	r := New(nil)
	ok1 := &recordingOut{}
	ok2 := &recordingOut{}
	broken := &recordingOut{fail: true}

	require.NoError(t, r.Add(conn("a", "room1"), ok1))
	require.NoError(t, r.Add(conn("b", "room1"), ok2))
	require.NoError(t, r.Add(conn("c", "room1"), broken))

	sent, failed := r.BroadcastRoom(context.Background(), "room1", []byte("hello"))

	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok1.count())
	assert.Equal(t, 1, ok2.count())
}

func TestBroadcastUnknownRoom(t *testing.T) {
	t.Parallel()

	r := New(nil)
	sent, failed := r.BroadcastRoom(context.Background(), "ghost", []byte("x"))
	assert.Zero(t, sent)
	assert.Zero(t, failed)
}
