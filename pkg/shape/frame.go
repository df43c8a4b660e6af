package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformedFrame = errors.New("malformed frame")

// NoOriginID marks an operation whose durable id is not known yet.
const NoOriginID int64 = -1

type RoomID int64

func (r RoomID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// MarshalJSON emits the decimal string form that browser clients send.
func (r RoomID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts either a JSON number or a numeric string.
func (r *RoomID) UnmarshalJSON(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		text = strings.TrimSpace(s)
	}
	v, err := ParseRoomID(text)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func ParseRoomID(s string) (RoomID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid room id %q", ErrMalformedFrame, s)
	}
	return RoomID(v), nil
}

type Operation struct {
	Shape    Shape
	RoomID   RoomID
	OriginID int64
}

type FrameType string

const (
	FrameJoinRoom  FrameType = "join_room"
	FrameLeaveRoom FrameType = "leave_room"
	FrameChat      FrameType = "chat"
	FrameError     FrameType = "error"
	// FrameJoined acknowledges a join_room once the peer is receiving the room's operations.
	FrameJoined FrameType = "joined"
)

// Frame is the relay envelope. Message holds the double-encoded shape payload for chat frames.
type Frame struct {
	Type    FrameType `json:"type"`
	RoomID  RoomID    `json:"roomId,omitempty"`
	Message string    `json:"message,omitempty"`
	ID      *int64    `json:"id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// DecodeFrame parses and validates an inbound frame. It does not parse the chat payload.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameJoinRoom, FrameJoined:
		if f.RoomID <= 0 {
			return Frame{}, fmt.Errorf("%w: %s without roomId", ErrMalformedFrame, f.Type)
		}
	case FrameLeaveRoom, FrameError:
	case FrameChat:
		if f.RoomID <= 0 {
			return Frame{}, fmt.Errorf("%w: chat without roomId", ErrMalformedFrame)
		}
		if f.Message == "" {
			return Frame{}, fmt.Errorf("%w: chat without message", ErrMalformedFrame)
		}
	case "":
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}

// ChatFrame builds an outbound chat frame. A NoOriginID operation omits the id.
func ChatFrame(op Operation) (Frame, error) {
	msg, err := EncodePayload(op.Shape)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Type: FrameChat, RoomID: op.RoomID, Message: msg}
	if op.OriginID != NoOriginID {
		id := op.OriginID
		f.ID = &id
	}
	return f, nil
}

// Operation decodes the payload of a chat frame.
func (f Frame) Operation() (Operation, error) {
	if f.Type != FrameChat {
		return Operation{}, fmt.Errorf("%w: %s frame carries no operation", ErrMalformedFrame, f.Type)
	}
	s, err := ParsePayload(f.Message)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{Shape: s, RoomID: f.RoomID, OriginID: NoOriginID}
	if f.ID != nil {
		op.OriginID = *f.ID
	}
	return op, nil
}
