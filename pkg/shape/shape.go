// Package shape holds the drawable primitives shared by the relay and its clients, along with their wire encoding.
package shape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedShape = errors.New("malformed shape")

type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
)

// Shape is closed: only the types in this package implement it.
type Shape interface {
	Kind() Kind
	isShape()
}

type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

type Circle struct {
	CenterX float64
	CenterY float64
	Radius  float64
}

type Line struct {
	StartX float64
	StartY float64
	EndX   float64
	EndY   float64
}

func (Rectangle) Kind() Kind { return KindRect }
func (Circle) Kind() Kind    { return KindCircle }
func (Line) Kind() Kind      { return KindLine }

func (Rectangle) isShape() {}
func (Circle) isShape()    {}
func (Line) isShape()      {}

type rectWire struct {
	Type   Kind    `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type circleWire struct {
	Type    Kind    `json:"type"`
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Radius  float64 `json:"radius"`
}

type lineWire struct {
	Type   Kind    `json:"type"`
	StartX float64 `json:"startX"`
	StartY float64 `json:"startY"`
	EndX   float64 `json:"endX"`
	EndY   float64 `json:"endY"`
}

// Marshal encodes the shape as a flat object with its "type" tag first.
func Marshal(s Shape) ([]byte, error) {
	switch v := s.(type) {
	case Rectangle:
		return json.Marshal(rectWire{KindRect, v.X, v.Y, v.Width, v.Height})
	case Circle:
		return json.Marshal(circleWire{KindCircle, v.CenterX, v.CenterY, v.Radius})
	case Line:
		return json.Marshal(lineWire{KindLine, v.StartX, v.StartY, v.EndX, v.EndY})
	case nil:
		return nil, fmt.Errorf("%w: nil shape", ErrMalformedShape)
	default:
		return nil, fmt.Errorf("%w: unsupported shape %T", ErrMalformedShape, s)
	}
}

// Parse decodes an untrusted shape object. Every field of the tagged variant must be present and numeric.
func Parse(raw []byte) (Shape, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedShape, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedShape)
	}
	tagRaw, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedShape)
	}
	var tag Kind
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return nil, fmt.Errorf("%w: type is not a string", ErrMalformedShape)
	}

	r := fieldReader{fields: fields}
	switch tag {
	case KindRect:
		s := Rectangle{X: r.number("x"), Y: r.number("y"), Width: r.number("width"), Height: r.number("height")}
		return r.result(s)
	case KindCircle:
		s := Circle{CenterX: r.number("centerX"), CenterY: r.number("centerY"), Radius: r.number("radius")}
		return r.result(s)
	case KindLine:
		s := Line{StartX: r.number("startX"), StartY: r.number("startY"), EndX: r.number("endX"), EndY: r.number("endY")}
		return r.result(s)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedShape, tag)
	}
}

// fieldReader keeps the first error so the variant constructors above stay flat.
type fieldReader struct {
	fields map[string]json.RawMessage
	err    error
}

func (r *fieldReader) result(s Shape) (Shape, error) {
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

func (r *fieldReader) number(key string) float64 {
	if r.err != nil {
		return 0
	}
	raw, ok := r.fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		r.err = fmt.Errorf("%w: missing field %s", ErrMalformedShape, key)
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		r.err = fmt.Errorf("%w: field %s is not a number", ErrMalformedShape, key)
		return 0
	}
	return f
}

type payload struct {
	Shape json.RawMessage `json:"shape"`
}

// EncodePayload produces the inner message string carried by chat frames and stored in the log.
func EncodePayload(s Shape) (string, error) {
	inner, err := Marshal(s)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(payload{Shape: inner})
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(out), nil
}

func ParsePayload(message string) (Shape, error) {
	var p payload
	if err := json.Unmarshal([]byte(message), &p); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedShape, err)
	}
	if len(p.Shape) == 0 {
		return nil, fmt.Errorf("%w: payload has no shape", ErrMalformedShape)
	}
	return Parse(p.Shape)
}
