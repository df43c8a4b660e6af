package render

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/drawroom/pkg/reconcile"
	"github.com/astromechza/drawroom/pkg/shape"
)

func entries(shapes ...shape.Shape) []reconcile.Entry {
	out := make([]reconcile.Entry, len(shapes))
	for i, s := range shapes {
		out[i] = reconcile.Entry{Shape: s, OriginID: int64(i + 1)}
	}
	return out
}

func lit(img image.Image, x, y int) bool {
	r, g, b, _ := img.At(x, y).RGBA()
	return r > 0x8000 && g > 0x8000 && b > 0x8000
}

func TestNegativeExtentRendersLikePositive(t *testing.T) {
	opts := Options{Width: 64, Height: 64}
	dragged := Raster(entries(shape.Rectangle{X: 50, Y: 50, Width: -40, Height: -40}), nil, opts)
	drawn := Raster(entries(shape.Rectangle{X: 10, Y: 10, Width: 40, Height: 40}), nil, opts)
	assert.Equal(t, drawn, dragged)

	assert.True(t, lit(drawn, 30, 10))
	assert.True(t, lit(drawn, 10, 30))
	assert.False(t, lit(drawn, 30, 30))
	assert.False(t, lit(drawn, 2, 2))
}

func TestShapesAreStroked(t *testing.T) {
	img := Raster(entries(
		shape.Circle{CenterX: 32, CenterY: 32, Radius: 20},
		shape.Line{StartX: 0, StartY: 60, EndX: 63, EndY: 60},
	), nil, Options{Width: 64, Height: 64})

	assert.True(t, lit(img, 32, 12))
	assert.False(t, lit(img, 32, 32))
	assert.True(t, lit(img, 40, 60))
}

func TestPreviewIsDrawnLast(t *testing.T) {
	opts := Options{Width: 64, Height: 64}
	without := Raster(nil, nil, opts)
	with := Raster(nil, shape.Line{StartX: 0, StartY: 32, EndX: 63, EndY: 32}, opts)
	assert.False(t, lit(without, 20, 32))
	assert.True(t, lit(with, 20, 32))
}

func TestFitBringsShapesIntoView(t *testing.T) {
	far := entries(shape.Rectangle{X: 5000, Y: 5000, Width: 100, Height: 100})
	opts := Options{Width: 64, Height: 64, Margin: 4}

	assert.Equal(t, Raster(nil, nil, opts), Raster(far, nil, opts))

	opts.Fit = true
	img := Raster(far, nil, opts)
	assert.True(t, lit(img, 32, 4))
	assert.False(t, lit(img, 32, 32))
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, entries(shape.Line{EndX: 10, EndY: 10}), nil, Options{Width: 32, Height: 16}))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
}

func TestExportPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportPDF(&buf, entries(
		shape.Rectangle{X: 50, Y: 50, Width: -40, Height: -40},
		shape.Circle{CenterX: 10, CenterY: 10, Radius: 5},
		shape.Line{EndX: 10, EndY: 10},
	), Options{Fit: true}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}
