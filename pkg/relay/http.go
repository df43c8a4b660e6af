package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/astromechza/drawroom/pkg/auth"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/shape"
)

type userKey struct{}

func userFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

type message struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(writer http.ResponseWriter, status int, v any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		userID, err := s.verifier.Verify(request.Context(), auth.FromHeader(request))
		if err != nil {
			s.logger.Debug("rejected request", "url", request.URL.Path, "err", err)
			s.writeJSON(writer, http.StatusForbidden, message{"Invalid token"})
			return
		}
		next(writer, request.WithContext(context.WithValue(request.Context(), userKey{}, userID)))
	}
}

func roomIDVar(request *http.Request) (shape.RoomID, bool) {
	id, err := shape.ParseRoomID(mux.Vars(request)["roomId"])
	return id, err == nil
}

func (s *Server) serveWS(writer http.ResponseWriter, request *http.Request) {
	userID, err := s.verifier.Verify(request.Context(), request.URL.Query().Get("token"))
	if err != nil {
		s.logger.Warn("refused connection", "remote", request.RemoteAddr, "err", err)
		s.writeJSON(writer, http.StatusUnauthorized, message{"Unauthenticated"})
		return
	}
	ws, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	c := newConn(s, ws, userID)
	s.track(c)
	defer s.untrack(c)
	c.serve(request.Context())
}

type chatRecord struct {
	ID      int64  `json:"id"`
	RoomID  int64  `json:"roomId"`
	Message string `json:"message"`
}

func (s *Server) getChats(writer http.ResponseWriter, request *http.Request) {
	roomID, ok := roomIDVar(request)
	if !ok {
		s.writeJSON(writer, http.StatusBadRequest, message{"Invalid room id"})
		return
	}
	out := make([]chatRecord, 0)
	records, err := s.store.ReadRecent(request.Context(), roomID, oplog.MaxRecent)
	if err != nil {
		// readers get an empty history rather than an error page
		s.logger.Error("failed to read chats", "room", roomID, "err", err)
	}
	for _, r := range records {
		out = append(out, chatRecord{ID: r.ID, RoomID: int64(r.RoomID), Message: r.Message})
	}
	s.writeJSON(writer, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) deleteChats(writer http.ResponseWriter, request *http.Request) {
	roomID, ok := roomIDVar(request)
	if !ok {
		s.writeJSON(writer, http.StatusBadRequest, message{"Invalid room id"})
		return
	}
	var inputs struct {
		MessageIDs []int64 `json:"messageIds"`
	}
	if err := json.NewDecoder(request.Body).Decode(&inputs); err != nil || len(inputs.MessageIDs) == 0 {
		s.writeJSON(writer, http.StatusBadRequest, message{"Invalid message IDs"})
		return
	}
	n, err := s.store.DeleteMany(request.Context(), roomID, inputs.MessageIDs)
	if err != nil {
		s.logger.Error("failed to delete messages", "room", roomID, "err", err)
		s.writeJSON(writer, http.StatusInternalServerError, message{"Failed to delete messages"})
		return
	}
	s.logger.Info("deleted messages", "room", roomID, "user", userFrom(request.Context()), "count", n)
	s.writeJSON(writer, http.StatusOK, map[string]any{"message": "Messages deleted successfully", "deleted": n})
}

func (s *Server) createRoom(writer http.ResponseWriter, request *http.Request) {
	var inputs struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(request.Body).Decode(&inputs); err != nil || inputs.Name == "" {
		s.writeJSON(writer, http.StatusBadRequest, message{"Incorrect inputs"})
		return
	}
	room, err := s.store.CreateRoom(request.Context(), inputs.Name, userFrom(request.Context()))
	if err != nil {
		if errors.Is(err, oplog.ErrRoomExists) {
			s.writeJSON(writer, http.StatusLengthRequired, message{"Room Already exists with this Name"})
			return
		}
		s.logger.Error("failed to create room", "err", err)
		s.writeJSON(writer, http.StatusInternalServerError, message{"Failed to create room"})
		return
	}
	s.writeJSON(writer, http.StatusOK, map[string]any{"roomId": int64(room.ID)})
}

func (s *Server) getRoom(writer http.ResponseWriter, request *http.Request) {
	room, err := s.store.RoomBySlug(request.Context(), mux.Vars(request)["slug"])
	if err != nil {
		if errors.Is(err, oplog.ErrRoomNotFound) {
			s.writeJSON(writer, http.StatusNotFound, map[string]any{"room": nil, "message": "Room not found"})
			return
		}
		s.logger.Error("failed to look up room", "err", err)
		s.writeJSON(writer, http.StatusInternalServerError, message{"Failed to fetch room"})
		return
	}
	s.writeJSON(writer, http.StatusOK, map[string]any{"room": room})
}

func (s *Server) listRooms(writer http.ResponseWriter, request *http.Request) {
	rooms, err := s.store.RoomsByAdmin(request.Context(), userFrom(request.Context()))
	if err != nil {
		s.logger.Error("failed to fetch rooms", "err", err)
		s.writeJSON(writer, http.StatusInternalServerError, message{"Failed to fetch rooms"})
		return
	}
	s.writeJSON(writer, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) deleteRoom(writer http.ResponseWriter, request *http.Request) {
	roomID, ok := roomIDVar(request)
	if !ok {
		s.writeJSON(writer, http.StatusBadRequest, message{"Invalid room id"})
		return
	}
	if err := s.store.DeleteRoom(request.Context(), roomID, userFrom(request.Context())); err != nil {
		if errors.Is(err, oplog.ErrRoomNotFound) {
			s.writeJSON(writer, http.StatusNotFound, message{"Room not found"})
			return
		}
		s.logger.Error("failed to delete room", "room", roomID, "err", err)
		s.writeJSON(writer, http.StatusInternalServerError, message{"Failed to delete room"})
		return
	}
	s.registry.Forget(roomID)
	s.writeJSON(writer, http.StatusOK, message{"Room deleted successfully"})
}
