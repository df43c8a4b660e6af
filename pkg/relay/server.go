// Package relay is the gateway peers connect to. It authenticates websocket connections, binds them
// to rooms, persists each submitted operation and fans it out to the rest of the room. It also serves
// the bootstrap read path and the room routes over plain HTTP.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/drawroom/pkg/auth"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/registry"
	"github.com/astromechza/drawroom/pkg/shape"
)

type Config struct {
	// SendQueue bounds each connection's outbound frames. A peer that falls this far behind is dropped.
	SendQueue int
	// IdleTimeout closes connections that stop answering pings.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int64
}

func (c Config) withDefaults() Config {
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 64 * 1024
	}
	return c
}

func (c Config) pingPeriod() time.Duration {
	return c.IdleTimeout * 9 / 10
}

type Server struct {
	cfg      Config
	store    oplog.Store
	registry *registry.Registry
	verifier auth.Verifier
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func New(store oplog.Store, verifier auth.Verifier, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		store:    store,
		registry: registry.New(logger),
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// browsers connect from the frontend origin; the token is the only gate
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL.Path, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodGet).Path("/room/chats/{roomId}").HandlerFunc(s.requireUser(s.getChats))
	r.Methods(http.MethodDelete).Path("/room/chats/{roomId}").HandlerFunc(s.requireUser(s.deleteChats))
	r.Methods(http.MethodGet).Path("/room/user/rooms").HandlerFunc(s.requireUser(s.listRooms))
	r.Methods(http.MethodPost).Path("/room").HandlerFunc(s.requireUser(s.createRoom))
	r.Methods(http.MethodGet).Path("/room/{slug}").HandlerFunc(s.getRoom)
	r.Methods(http.MethodDelete).Path("/room/{roomId}").HandlerFunc(s.requireUser(s.deleteRoom))
	return r
}

// RoomDeleted purges a room's operations and disconnects its members. Call it when a room is removed
// outside this server.
func (s *Server) RoomDeleted(ctx context.Context, roomID shape.RoomID) error {
	if err := s.store.DeleteByRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to purge room %s: %w", roomID, err)
	}
	s.registry.Forget(roomID)
	return nil
}

// Members reports how many peers are joined to a room.
func (s *Server) Members(roomID shape.RoomID) int {
	return s.registry.Members(roomID)
}

// Rooms reports how many rooms have at least one peer.
func (s *Server) Rooms() int {
	return s.registry.Rooms()
}

// Close disconnects every live peer. http.Server.Close does not reach hijacked connections.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.logger.Info("closed connections", "count", len(conns))
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
