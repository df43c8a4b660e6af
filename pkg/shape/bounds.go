package shape

import "math"

// Rect is an axis-aligned box with Min <= Max on both axes.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Normalize returns the rectangle with non-negative extent covering the same area.
// It is for rendering only; stored rectangles keep their drag direction.
func Normalize(r Rectangle) Rectangle {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

func Bounds(s Shape) Rect {
	switch v := s.(type) {
	case Rectangle:
		n := Normalize(v)
		return Rect{MinX: n.X, MinY: n.Y, MaxX: n.X + n.Width, MaxY: n.Y + n.Height}
	case Circle:
		r := math.Abs(v.Radius)
		return Rect{MinX: v.CenterX - r, MinY: v.CenterY - r, MaxX: v.CenterX + r, MaxY: v.CenterY + r}
	case Line:
		return Rect{
			MinX: math.Min(v.StartX, v.EndX),
			MinY: math.Min(v.StartY, v.EndY),
			MaxX: math.Max(v.StartX, v.EndX),
			MaxY: math.Max(v.StartY, v.EndY),
		}
	}
	return Rect{}
}

// Union grows r to include o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}
