package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/drawroom/pkg/shape"
)

func startReconciler(t *testing.T, opts Options) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(opts)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestBootstrapAndLiveInterleavingLosesNothing(t *testing.T) {
	history := []Entry{
		{shape.Line{EndX: 3}, 3},
		{shape.Line{EndX: 2}, 2},
		{shape.Line{EndX: 1}, 1},
	}
	live := []Entry{
		{shape.Circle{Radius: 4}, 4},
		{shape.Circle{Radius: 5}, 5},
		{shape.Circle{Radius: 6}, 6},
	}

	// the history read may land before, between or after any of the live operations
	for at := 0; at <= len(live); at++ {
		r := startReconciler(t, Options{})
		for i, e := range live {
			if i == at {
				require.NoError(t, r.Bootstrap(history))
			}
			require.NoError(t, r.Live(e))
		}
		if at == len(live) {
			require.NoError(t, r.Bootstrap(history))
		}

		got, err := r.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, append(append([]Entry{}, history...), live...), got, "bootstrap at %d", at)
	}
}

func TestOverlappingHistoryAndLiveAppearOnce(t *testing.T) {
	r := startReconciler(t, Options{})
	// id 4 was appended after the connection joined but before the history read ran
	require.NoError(t, r.Live(Entry{shape.Circle{Radius: 4}, 4}))
	require.NoError(t, r.Bootstrap([]Entry{{shape.Circle{Radius: 4}, 4}, {shape.Line{EndX: 1}, 1}}))
	require.NoError(t, r.Live(Entry{shape.Circle{Radius: 4}, 4}))

	got, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Entry{{shape.Line{EndX: 1}, 1}, {shape.Circle{Radius: 4}, 4}}, got)
}

func TestLocalSubmissionsKeepTheSentinel(t *testing.T) {
	r := startReconciler(t, Options{})
	rect := shape.Rectangle{X: 50, Y: 50, Width: -40, Height: -40}
	require.NoError(t, r.Local(rect))
	// a later history read carrying the same shape under its durable id is a separate entry
	require.NoError(t, r.Bootstrap([]Entry{{rect, 7}}))

	got, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Entry{{rect, 7}, {rect, shape.NoOriginID}}, got)
}

func TestRedrawFollowsEveryChange(t *testing.T) {
	var mu sync.Mutex
	var frames [][]Entry
	r := startReconciler(t, Options{OnRedraw: func(entries []Entry) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, entries)
	}})

	require.NoError(t, r.Bootstrap([]Entry{{shape.Rectangle{Width: 10, Height: 10}, 1}}))
	require.NoError(t, r.Live(Entry{shape.Rectangle{Width: 10, Height: 10}, 1}))
	require.NoError(t, r.Live(Entry{shape.Circle{Radius: 1}, 2}))
	require.NoError(t, r.Local(nil))
	_, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 3)
	assert.Len(t, frames[0], 1)
	assert.Len(t, frames[1], 2)
	// the nil shape is compacted away before the redraw sees it
	assert.Len(t, frames[2], 2)
}

func TestStoppedReconcilerRefusesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}

	assert.ErrorIs(t, r.Local(shape.Line{}), ErrStopped)
	_, err := r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
