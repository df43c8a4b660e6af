package viz

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/shape"
)

func TestRenderRoomToSvg(t *testing.T) {
	// newest first, the way the log reads them
	records := []oplog.Record{
		{ID: 9, RoomID: 1, Shape: shape.Line{EndX: 4, EndY: 4}},
		{ID: 3, RoomID: 1, Shape: shape.Rectangle{X: 50, Y: 50, Width: -40, Height: -40}},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderRoomToSvg(records, &buf))

	out := buf.String()
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "#3 rect (10,10)-(50,50)")
	assert.Contains(t, out, "#9 line (0,0)-(4,4)")
	assert.Contains(t, out, "3&#45;&gt;9")
}

func TestRenderToTemp(t *testing.T) {
	path, err := RenderToTemp([]oplog.Record{{ID: 1, RoomID: 1, Shape: shape.Circle{Radius: 2}}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(path) })

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "#1 circle")
}
