package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/drawroom/pkg/shape"
)

type fakePeer struct {
	id     string
	mu     sync.Mutex
	queue  chan []byte
	closed bool
}

func newFakePeer(id string, capacity int) *fakePeer {
	return &fakePeer{id: id, queue: make(chan []byte, capacity)}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- frame:
		return true
	default:
		return false
	}
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func TestBroadcastExcludesSender(t *testing.T) {
	r := New(nil)
	room := shape.RoomID(1)
	a, b, c := newFakePeer("a", 4), newFakePeer("b", 4), newFakePeer("c", 4)
	for _, p := range []*fakePeer{a, b, c} {
		require.NoError(t, r.Join(room, p))
	}

	assert.Equal(t, 2, r.Broadcast(room, []byte("op"), "a"))
	assert.Len(t, a.queue, 0)
	assert.Len(t, b.queue, 1)
	assert.Len(t, c.queue, 1)
}

func TestJoinIsIdempotentAndLeaveEvicts(t *testing.T) {
	r := New(nil)
	room := shape.RoomID(2)
	p := newFakePeer("p", 1)

	require.NoError(t, r.Join(room, p))
	require.NoError(t, r.Join(room, p))
	assert.Equal(t, 1, r.Members(room))
	assert.Equal(t, 1, r.Rooms())

	r.Leave(room, p)
	assert.Equal(t, 0, r.Members(room))
	assert.Equal(t, 0, r.Rooms())

	r.Leave(room, p)
	r.Leave(shape.RoomID(99), p)
}

func TestBroadcastIsolatesRooms(t *testing.T) {
	r := New(nil)
	a, b := newFakePeer("a", 1), newFakePeer("b", 1)
	require.NoError(t, r.Join(1, a))
	require.NoError(t, r.Join(2, b))

	assert.Equal(t, 1, r.Broadcast(1, []byte("x"), ""))
	assert.Len(t, a.queue, 1)
	assert.Len(t, b.queue, 0)
	assert.Zero(t, r.Broadcast(3, []byte("x"), ""))
}

func TestSlowPeerIsDroppedWithoutBlockingOthers(t *testing.T) {
	r := New(nil)
	room := shape.RoomID(3)
	slow := newFakePeer("slow", 1)
	fast := newFakePeer("fast", 8)
	require.NoError(t, r.Join(room, slow))
	require.NoError(t, r.Join(room, fast))

	assert.Equal(t, 2, r.Broadcast(room, []byte("1"), ""))
	assert.Equal(t, 1, r.Broadcast(room, []byte("2"), ""))

	assert.True(t, slow.isClosed())
	assert.False(t, fast.isClosed())
	assert.Equal(t, 1, r.Members(room))
	assert.Len(t, fast.queue, 2)

	assert.Equal(t, 1, r.Broadcast(room, []byte("3"), ""))
	assert.Len(t, fast.queue, 3)
}

func TestForgetClosesMembersAndRefusesJoins(t *testing.T) {
	r := New(nil)
	room := shape.RoomID(4)
	a, b := newFakePeer("a", 1), newFakePeer("b", 1)
	require.NoError(t, r.Join(room, a))
	require.NoError(t, r.Join(room, b))

	r.Forget(room)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Zero(t, r.Members(room))
	assert.ErrorIs(t, r.Join(room, newFakePeer("late", 1)), ErrRoomGone)

	require.NoError(t, r.Join(room+1, newFakePeer("other", 1)))
}

func TestTombstonesAreBounded(t *testing.T) {
	r := New(nil)
	r.tombstones = 3
	for id := shape.RoomID(1); id <= 5; id++ {
		r.Forget(id)
	}
	r.Forget(5)
	assert.Len(t, r.forgotten, 3)
	assert.Equal(t, []shape.RoomID{3, 4, 5}, r.order)

	require.NoError(t, r.Join(1, newFakePeer("a", 1)))
	require.NoError(t, r.Join(2, newFakePeer("b", 1)))
	assert.ErrorIs(t, r.Join(3, newFakePeer("c", 1)), ErrRoomGone)
	assert.ErrorIs(t, r.Join(5, newFakePeer("d", 1)), ErrRoomGone)
}

func TestConcurrentMembership(t *testing.T) {
	r := New(nil)
	room := shape.RoomID(5)
	const n = 50

	peers := make([]*fakePeer, n)
	for i := range peers {
		peers[i] = newFakePeer(fmt.Sprintf("p%d", i), n*2)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(p *fakePeer) {
			defer wg.Done()
			_ = r.Join(room, p)
		}(peers[i])
		go func(i int) {
			defer wg.Done()
			r.Broadcast(room, []byte(fmt.Sprintf("%d", i)), "")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Members(room))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			r.Leave(room, p)
		}(peers[i])
	}
	wg.Wait()
	assert.Zero(t, r.Rooms())
}
