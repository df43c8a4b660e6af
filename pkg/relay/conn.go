package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/registry"
	"github.com/astromechza/drawroom/pkg/shape"
)

// conn is one authenticated peer. The read loop owns room; everything else is safe to call from any goroutine.
type conn struct {
	id     string
	userID string
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	room shape.RoomID
}

var _ registry.Peer = (*conn)(nil)

func newConn(s *Server, ws *websocket.Conn, userID string) *conn {
	id := uuid.NewString()
	return &conn{
		id:     id,
		userID: userID,
		server: s,
		ws:     ws,
		logger: s.logger.With("conn", id, "user", userID),
		send:   make(chan []byte, s.cfg.SendQueue),
		done:   make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) serve(ctx context.Context) {
	c.logger.Info("connected", "remote", c.ws.RemoteAddr().String())

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Close()
		c.writeLoop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Close()
		c.readLoop(ctx)
	}()

	wg.Wait()
	if c.room != 0 {
		c.server.registry.Leave(c.room, c)
	}
	c.logger.Info("disconnected", "room", c.room)
}

func (c *conn) readLoop(ctx context.Context) {
	cfg := c.server.cfg
	c.ws.SetReadLimit(cfg.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})
	for {
		_, p, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("connection lost", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		c.handle(ctx, p)
	}
}

func (c *conn) writeLoop() {
	cfg := c.server.cfg
	ping := time.NewTicker(cfg.pingPeriod())
	defer ping.Stop()
	defer c.ws.Close()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Warn("failed to write message", "err", err)
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.logger.Warn("failed to ping", "err", err)
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cfg.WriteTimeout),
			)
			return
		}
	}
}

// handle processes one inbound frame. Frames are handled in arrival order, so a peer's operations are
// appended and broadcast in the order it sent them.
func (c *conn) handle(ctx context.Context, raw []byte) {
	f, err := shape.DecodeFrame(raw)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "err", err)
		return
	}
	switch f.Type {
	case shape.FrameJoinRoom:
		c.join(ctx, f.RoomID)
	case shape.FrameLeaveRoom:
		c.leave()
	case shape.FrameChat:
		c.chat(ctx, f)
	default:
		c.logger.Warn("dropping unexpected frame", "type", f.Type)
	}
}

// join binds the connection to a room and acknowledges with a joined frame. Every operation appended
// after the ack reaches this peer, so a history read started on the ack misses nothing.
func (c *conn) join(ctx context.Context, roomID shape.RoomID) {
	if c.room == roomID {
		c.ack(roomID)
		return
	}
	if _, err := c.server.store.RoomByID(ctx, roomID); err != nil {
		if errors.Is(err, oplog.ErrRoomNotFound) {
			c.reply(roomID, "room not found")
		} else {
			c.logger.Error("failed to look up room", "room", roomID, "err", err)
			c.reply(roomID, "failed to join room")
		}
		return
	}
	c.leave()
	if err := c.server.registry.Join(roomID, c); err != nil {
		c.reply(roomID, "room not found")
		return
	}
	c.room = roomID
	c.logger.Info("joined", "room", roomID)
	c.ack(roomID)
}

func (c *conn) ack(roomID shape.RoomID) {
	raw, err := json.Marshal(shape.Frame{Type: shape.FrameJoined, RoomID: roomID})
	if err != nil {
		return
	}
	if !c.Send(raw) {
		c.logger.Warn("could not deliver join ack", "room", roomID)
	}
}

func (c *conn) leave() {
	if c.room == 0 {
		return
	}
	c.server.registry.Leave(c.room, c)
	c.logger.Info("left", "room", c.room)
	c.room = 0
}

func (c *conn) chat(ctx context.Context, f shape.Frame) {
	if c.room == 0 || f.RoomID != c.room {
		c.logger.Warn("dropping operation for a room not joined", "room", f.RoomID, "joined", c.room)
		return
	}
	op, err := f.Operation()
	if err != nil {
		c.logger.Warn("dropping malformed operation", "room", f.RoomID, "err", err)
		return
	}
	id, err := c.server.store.Append(ctx, c.room, op.Shape)
	if err != nil {
		c.logger.Error("failed to append operation", "room", c.room, "err", err)
		c.reply(c.room, "failed to persist operation")
		return
	}
	op.OriginID = id

	out, err := shape.ChatFrame(op)
	if err != nil {
		c.logger.Error("failed to encode operation", "err", err)
		return
	}
	raw, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("failed to encode frame", "err", err)
		return
	}
	n := c.server.registry.Broadcast(c.room, raw, c.id)
	c.logger.Debug("relayed operation", "room", c.room, "id", id, "kind", op.Shape.Kind(), "peers", n)
}

func (c *conn) reply(roomID shape.RoomID, text string) {
	raw, err := json.Marshal(shape.Frame{Type: shape.FrameError, RoomID: roomID, Error: text})
	if err != nil {
		return
	}
	if !c.Send(raw) {
		c.logger.Warn("could not deliver error frame", "error", text)
	}
}
