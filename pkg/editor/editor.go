// Package editor turns pointer gestures into shapes. A drag from pointer-down to pointer-up creates
// one shape; the moves in between produce previews that are never stored.
package editor

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/astromechza/drawroom/pkg/shape"
)

var ErrUnknownTool = errors.New("unknown tool")

type Tool string

const (
	ToolRect   Tool = "rect"
	ToolCircle Tool = "circle"
	ToolLine   Tool = "line"
	// ToolEraser and ToolSelect can be chosen but do nothing yet.
	ToolEraser Tool = "eraser"
	ToolSelect Tool = "select"
)

var Tools = []Tool{ToolRect, ToolCircle, ToolLine, ToolEraser, ToolSelect}

func ParseTool(s string) (Tool, error) {
	for _, t := range Tools {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
}

// Inert reports whether the tool never produces shapes.
func (t Tool) Inert() bool {
	return t == ToolEraser || t == ToolSelect
}

type State int

const (
	Idle State = iota
	Dragging
)

func (s State) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// Preview computes the shape a drag from the anchor to the pointer would create. Extents keep their
// sign; normalizing is left to rendering.
func Preview(tool Tool, anchorX, anchorY, x, y float64) (shape.Shape, bool) {
	width, height := x-anchorX, y-anchorY
	switch tool {
	case ToolRect:
		return shape.Rectangle{X: anchorX, Y: anchorY, Width: width, Height: height}, true
	case ToolCircle:
		return shape.Circle{
			CenterX: anchorX + width/2,
			CenterY: anchorY + height/2,
			Radius:  math.Max(math.Abs(width), math.Abs(height)) / 2,
		}, true
	case ToolLine:
		return shape.Line{StartX: anchorX, StartY: anchorY, EndX: x, EndY: y}, true
	default:
		return nil, false
	}
}

// Machine is the Idle/Dragging state machine. It is not safe for concurrent use.
type Machine struct {
	tool    Tool
	state   State
	anchorX float64
	anchorY float64
}

func NewMachine(tool Tool) *Machine {
	return &Machine{tool: tool}
}

func (m *Machine) Tool() Tool   { return m.tool }
func (m *Machine) State() State { return m.state }

// SetTool switches tools. A drag in progress continues and commits with the new tool on release.
func (m *Machine) SetTool(t Tool) {
	m.tool = t
}

func (m *Machine) PointerDown(x, y float64) {
	if m.tool.Inert() {
		return
	}
	m.state = Dragging
	m.anchorX, m.anchorY = x, y
}

func (m *Machine) PointerMove(x, y float64) (shape.Shape, bool) {
	if m.state != Dragging {
		return nil, false
	}
	return Preview(m.tool, m.anchorX, m.anchorY, x, y)
}

// PointerUp ends the drag and returns the shape to commit. A zero-size drag still yields a shape.
func (m *Machine) PointerUp(x, y float64) (shape.Shape, bool) {
	if m.state != Dragging {
		return nil, false
	}
	m.state = Idle
	return Preview(m.tool, m.anchorX, m.anchorY, x, y)
}

// Cancel drops a drag without committing.
func (m *Machine) Cancel() {
	m.state = Idle
}

// Editor binds a Machine to where its output goes. Commit receives each finished shape, typically a
// session's Submit. Preview receives every in-progress shape and nil once the drag ends.
type Editor struct {
	mu      sync.Mutex
	machine *Machine
	commit  func(shape.Shape) error
	preview func(shape.Shape)
}

func New(tool Tool, commit func(shape.Shape) error, preview func(shape.Shape)) *Editor {
	return &Editor{machine: NewMachine(tool), commit: commit, preview: preview}
}

func (e *Editor) SetTool(t Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.SetTool(t)
}

func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.State()
}

func (e *Editor) PointerDown(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.PointerDown(x, y)
}

func (e *Editor) PointerMove(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.machine.PointerMove(x, y); ok && e.preview != nil {
		e.preview(s)
	}
}

// PointerUp commits the finished shape and returns the commit error, if any.
func (e *Editor) PointerUp(x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasDragging := e.machine.State() == Dragging
	s, ok := e.machine.PointerUp(x, y)
	if wasDragging && e.preview != nil {
		e.preview(nil)
	}
	if !ok || e.commit == nil {
		return nil
	}
	if err := e.commit(s); err != nil {
		return fmt.Errorf("failed to commit %s: %w", s.Kind(), err)
	}
	return nil
}
