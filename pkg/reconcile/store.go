// Package reconcile keeps a peer's view of a room. It merges the bootstrap history read over HTTP with
// the live operations arriving over the relay connection and the peer's own optimistic submissions.
package reconcile

import (
	"github.com/astromechza/drawroom/pkg/shape"
)

// Entry is one shape in a peer's store. OriginID is the durable id from the log, or shape.NoOriginID
// for a local submission whose id was never learned.
type Entry struct {
	Shape    shape.Shape
	OriginID int64
}

func (e Entry) durable() bool {
	return e.OriginID > 0
}

// Store is an ordered entry set. It is not safe for concurrent use; the Reconciler owns one.
type Store struct {
	entries []Entry
	known   map[int64]struct{}
}

func NewStore() *Store {
	return &Store{known: make(map[int64]struct{})}
}

// Append adds an entry at the end. An entry whose durable id is already present is skipped and
// Append returns false.
func (s *Store) Append(e Entry) bool {
	if e.durable() {
		if _, ok := s.known[e.OriginID]; ok {
			return false
		}
		s.known[e.OriginID] = struct{}{}
	}
	s.entries = append(s.entries, e)
	return true
}

// Prepend inserts entries ahead of everything already stored, keeping their given order. Entries
// whose durable id is already present are skipped. It returns the number inserted.
func (s *Store) Prepend(entries []Entry) int {
	head := make([]Entry, 0, len(entries)+len(s.entries))
	for _, e := range entries {
		if e.durable() {
			if _, ok := s.known[e.OriginID]; ok {
				continue
			}
			s.known[e.OriginID] = struct{}{}
		}
		head = append(head, e)
	}
	added := len(head)
	s.entries = append(head, s.entries...)
	return added
}

// Compact drops entries that cannot be drawn and returns how many were removed.
func (s *Store) Compact() int {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if drawable(e.Shape) {
			kept = append(kept, e)
			continue
		}
		if e.durable() {
			delete(s.known, e.OriginID)
		}
	}
	dropped := len(s.entries) - len(kept)
	clear(s.entries[len(kept):])
	s.entries = kept
	return dropped
}

func drawable(s shape.Shape) bool {
	if s == nil {
		return false
	}
	switch s.Kind() {
	case shape.KindRect, shape.KindCircle, shape.KindLine:
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the entries in store order.
func (s *Store) Snapshot() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	return len(s.entries)
}
