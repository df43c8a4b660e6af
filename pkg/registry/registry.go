// Package registry tracks which live peers are in which room. It is process memory only: a restart
// drops presence but never history.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/astromechza/drawroom/pkg/shape"
)

var ErrRoomGone = errors.New("room has been deleted")

// DefaultTombstones is how many deleted rooms are remembered. A tombstone only has to outlive joins
// that had already looked the room up before it was deleted; later joins fail the lookup itself.
const DefaultTombstones = 1024

// Peer is one live connection. Send must not block; returning false means the peer cannot keep up
// or is already closed.
type Peer interface {
	ID() string
	Send(frame []byte) bool
	Close()
}

type members struct {
	mu    sync.Mutex
	peers map[string]Peer
}

type Registry struct {
	mu        sync.RWMutex
	rooms     map[shape.RoomID]*members
	forgotten map[shape.RoomID]struct{}
	// order holds forgotten ids oldest first, capped at tombstones.
	order      []shape.RoomID
	tombstones int
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:      make(map[shape.RoomID]*members),
		forgotten:  make(map[shape.RoomID]struct{}),
		tombstones: DefaultTombstones,
		logger:     logger,
	}
}

// Join is idempotent. It fails only for rooms removed with Forget.
func (r *Registry) Join(roomID shape.RoomID, p Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, gone := r.forgotten[roomID]; gone {
		return ErrRoomGone
	}
	m, ok := r.rooms[roomID]
	if !ok {
		m = &members{peers: make(map[string]Peer)}
		r.rooms[roomID] = m
	}
	m.mu.Lock()
	m.peers[p.ID()] = p
	m.mu.Unlock()
	return nil
}

func (r *Registry) Leave(roomID shape.RoomID, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rooms[roomID]
	if !ok {
		return
	}
	m.mu.Lock()
	if current, ok := m.peers[p.ID()]; ok && current == p {
		delete(m.peers, p.ID())
	}
	empty := len(m.peers) == 0
	m.mu.Unlock()
	if empty {
		delete(r.rooms, roomID)
	}
}

// Broadcast hands frame to every member except excludeID and returns how many accepted it.
// Members that refuse are removed and closed; the rest are unaffected.
func (r *Registry) Broadcast(roomID shape.RoomID, frame []byte, excludeID string) int {
	r.mu.RLock()
	m, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	m.mu.Lock()
	targets := make([]Peer, 0, len(m.peers))
	for id, p := range m.peers {
		if id != excludeID {
			targets = append(targets, p)
		}
	}
	m.mu.Unlock()

	delivered := 0
	for _, p := range targets {
		if p.Send(frame) {
			delivered++
			continue
		}
		r.logger.Warn("dropping unreachable peer", "room", roomID, "conn", p.ID())
		r.Leave(roomID, p)
		p.Close()
	}
	return delivered
}

// Forget closes every member of a deleted room and refuses later joins to it.
func (r *Registry) Forget(roomID shape.RoomID) {
	r.mu.Lock()
	r.bury(roomID)
	m, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}

	m.mu.Lock()
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = map[string]Peer{}
	m.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	r.logger.Info("forgot room", "room", roomID, "disconnected", len(peers))
}

// bury records a tombstone, evicting the oldest past the cap. Callers hold r.mu.
func (r *Registry) bury(roomID shape.RoomID) {
	if _, ok := r.forgotten[roomID]; ok {
		return
	}
	r.forgotten[roomID] = struct{}{}
	r.order = append(r.order, roomID)
	for len(r.order) > r.tombstones {
		delete(r.forgotten, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *Registry) Members(roomID shape.RoomID) int {
	r.mu.RLock()
	m, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
