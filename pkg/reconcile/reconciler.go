package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/astromechza/drawroom/pkg/shape"
)

var ErrStopped = errors.New("reconciler stopped")

type Options struct {
	// OnRedraw receives the compacted entries after every change. It runs on the reconciler goroutine
	// and must not call back into the Reconciler.
	OnRedraw func([]Entry)
	Logger   *slog.Logger
	// Queue bounds pending events. Producers block when it is full.
	Queue int
}

// Reconciler serializes every mutation of one Store through a single goroutine. Bootstrap results,
// live operations and local submissions are all events on the same channel, so they apply in one
// total order.
type Reconciler struct {
	store    *Store
	events   chan func(*Store) bool
	onRedraw func([]Entry)
	logger   *slog.Logger
	stopped  chan struct{}
}

func NewReconciler(opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	return &Reconciler{
		store:    NewStore(),
		events:   make(chan func(*Store) bool, opts.Queue),
		onRedraw: opts.OnRedraw,
		logger:   opts.Logger,
		stopped:  make(chan struct{}),
	}
}

// Run applies events until ctx is cancelled. Events submitted afterwards fail with ErrStopped.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case ev := <-r.events:
			if ev(r.store) {
				r.redraw()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) redraw() {
	if n := r.store.Compact(); n > 0 {
		r.logger.Warn("dropped undrawable entries", "count", n)
	}
	if r.onRedraw != nil {
		r.onRedraw(r.store.Snapshot())
	}
}

func (r *Reconciler) submit(ev func(*Store) bool) error {
	select {
	case <-r.stopped:
		return ErrStopped
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.stopped:
		return ErrStopped
	}
}

// Bootstrap seeds the store with a history read. The entries go ahead of any live or local entries
// that arrived first, in the order given.
func (r *Reconciler) Bootstrap(entries []Entry) error {
	entries = append([]Entry(nil), entries...)
	return r.submit(func(s *Store) bool {
		n := s.Prepend(entries)
		r.logger.Debug("applied bootstrap", "received", len(entries), "added", n)
		return n > 0
	})
}

// Live appends an operation relayed from another peer.
func (r *Reconciler) Live(e Entry) error {
	return r.submit(func(s *Store) bool {
		if !s.Append(e) {
			r.logger.Debug("skipped known operation", "id", e.OriginID)
			return false
		}
		return true
	})
}

// Local appends the peer's own submission. It has no durable id yet and keeps the sentinel.
func (r *Reconciler) Local(sh shape.Shape) error {
	return r.submit(func(s *Store) bool {
		return s.Append(Entry{Shape: sh, OriginID: shape.NoOriginID})
	})
}

// Snapshot returns the store contents after every event queued before it has been applied.
func (r *Reconciler) Snapshot(ctx context.Context) ([]Entry, error) {
	out := make(chan []Entry, 1)
	if err := r.submit(func(s *Store) bool {
		out <- s.Snapshot()
		return false
	}); err != nil {
		return nil, err
	}
	select {
	case entries := <-out:
		return entries, nil
	case <-r.stopped:
		select {
		case entries := <-out:
			return entries, nil
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
