// Package render draws a room the way the browser canvas does: white strokes of width 2 on black.
package render

import (
	"fmt"
	"image"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/jung-kurt/gofpdf"

	"github.com/astromechza/drawroom/pkg/reconcile"
	"github.com/astromechza/drawroom/pkg/shape"
)

const strokeWidth = 2

type Options struct {
	Width  int
	Height int
	// Fit scales and moves the drawing so every shape is inside the canvas.
	Fit    bool
	Margin float64
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 768
	}
	if o.Margin <= 0 {
		o.Margin = 16
	}
	return o
}

type transform struct {
	scale, dx, dy float64
}

func (t transform) point(x, y float64) (float64, float64) {
	return x*t.scale + t.dx, y*t.scale + t.dy
}

func (t transform) length(l float64) float64 {
	return l * t.scale
}

func layout(shapes []shape.Shape, o Options) transform {
	identity := transform{scale: 1}
	if !o.Fit || len(shapes) == 0 {
		return identity
	}
	b := shape.Bounds(shapes[0])
	for _, s := range shapes[1:] {
		b = b.Union(shape.Bounds(s))
	}
	w, h := float64(o.Width)-2*o.Margin, float64(o.Height)-2*o.Margin
	scale := 1.0
	if b.Width() > 0 && b.Height() > 0 {
		scale = math.Min(w/b.Width(), h/b.Height())
	} else if b.Width() > 0 {
		scale = w / b.Width()
	} else if b.Height() > 0 {
		scale = h / b.Height()
	}
	return transform{scale: scale, dx: o.Margin - b.MinX*scale, dy: o.Margin - b.MinY*scale}
}

func collect(entries []reconcile.Entry, preview shape.Shape) []shape.Shape {
	out := make([]shape.Shape, 0, len(entries)+1)
	for _, e := range entries {
		if e.Shape != nil {
			out = append(out, e.Shape)
		}
	}
	if preview != nil {
		out = append(out, preview)
	}
	return out
}

// Raster draws the entries in order, then the preview if there is one.
func Raster(entries []reconcile.Entry, preview shape.Shape, opts Options) image.Image {
	return draw(collect(entries, preview), opts.withDefaults()).Image()
}

// WritePNG rasterizes the entries and encodes them as PNG.
func WritePNG(w io.Writer, entries []reconcile.Entry, preview shape.Shape, opts Options) error {
	dc := draw(collect(entries, preview), opts.withDefaults())
	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

func draw(shapes []shape.Shape, o Options) *gg.Context {
	dc := gg.NewContext(o.Width, o.Height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)
	dc.SetLineWidth(strokeWidth)

	t := layout(shapes, o)
	for _, s := range shapes {
		switch v := s.(type) {
		case shape.Rectangle:
			b := shape.Bounds(v)
			x, y := t.point(b.MinX, b.MinY)
			dc.DrawRectangle(x, y, t.length(b.Width()), t.length(b.Height()))
		case shape.Circle:
			x, y := t.point(v.CenterX, v.CenterY)
			dc.DrawCircle(x, y, t.length(math.Abs(v.Radius)))
		case shape.Line:
			x1, y1 := t.point(v.StartX, v.StartY)
			x2, y2 := t.point(v.EndX, v.EndY)
			dc.DrawLine(x1, y1, x2, y2)
		default:
			continue
		}
		dc.Stroke()
	}
	return dc
}

// ExportPDF writes the entries as a single page sized to the options, in points.
func ExportPDF(w io.Writer, entries []reconcile.Entry, opts Options) error {
	o := opts.withDefaults()
	shapes := collect(entries, nil)
	t := layout(shapes, o)

	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(o.Width), Ht: float64(o.Height)},
	})
	p.AddPage()
	p.SetFillColor(0, 0, 0)
	p.Rect(0, 0, float64(o.Width), float64(o.Height), "F")
	p.SetDrawColor(255, 255, 255)
	p.SetLineWidth(strokeWidth)

	for _, s := range shapes {
		switch v := s.(type) {
		case shape.Rectangle:
			b := shape.Bounds(v)
			x, y := t.point(b.MinX, b.MinY)
			p.Rect(x, y, t.length(b.Width()), t.length(b.Height()), "D")
		case shape.Circle:
			x, y := t.point(v.CenterX, v.CenterY)
			p.Circle(x, y, t.length(math.Abs(v.Radius)), "D")
		case shape.Line:
			x1, y1 := t.point(v.StartX, v.StartY)
			x2, y2 := t.point(v.EndX, v.EndY)
			p.Line(x1, y1, x2, y2)
		}
	}
	if err := p.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
