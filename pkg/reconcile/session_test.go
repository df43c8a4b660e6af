package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/drawroom/pkg/auth"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/relay"
	"github.com/astromechza/drawroom/pkg/shape"
)

type testRelay struct {
	t      *testing.T
	store  *oplog.SQLite
	server *relay.Server
	http   *httptest.Server
	auth   *auth.HMAC
	base   *url.URL
}

func newTestRelay(t *testing.T) *testRelay {
	return newWrappedTestRelay(t, nil)
}

func newWrappedTestRelay(t *testing.T, wrap func(oplog.Store) oplog.Store) *testRelay {
	store, err := oplog.OpenSQLite(filepath.Join(t.TempDir(), "session.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tr := &testRelay{t: t, store: store, auth: auth.NewHMAC("test-secret")}
	var served oplog.Store = store
	if wrap != nil {
		served = wrap(store)
	}
	tr.server = relay.New(served, tr.auth, relay.Config{}, nil)
	tr.http = httptest.NewServer(tr.server.Handler())
	t.Cleanup(func() {
		tr.server.Close()
		tr.http.Close()
	})
	tr.base, err = url.Parse(tr.http.URL)
	require.NoError(t, err)
	return tr
}

func (tr *testRelay) dial(user string, room shape.RoomID, onError func(shape.Frame)) *Session {
	token, err := tr.auth.Issue(user, time.Hour)
	require.NoError(tr.t, err)
	s, err := Dial(context.Background(), SessionConfig{BaseURL: tr.base, Token: token, RoomID: room, OnError: onError})
	require.NoError(tr.t, err)
	tr.t.Cleanup(s.Close)
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		tr.t.Fatal("history read did not finish")
	}
	return s
}

func eventuallyEntries(t *testing.T, s *Session, want []Entry) {
	require.Eventually(t, func() bool {
		got, err := s.Snapshot(context.Background())
		return err == nil && assert.ObjectsAreEqual(want, got)
	}, 2*time.Second, 10*time.Millisecond)
}

func shapesOf(entries []Entry) []shape.Shape {
	out := make([]shape.Shape, len(entries))
	for i, e := range entries {
		out[i] = e.Shape
	}
	return out
}

func TestJoinSeesHistoryThenLiveOperations(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	room, err := tr.store.CreateRoom(ctx, "abc", "alice")
	require.NoError(t, err)
	rect := shape.Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	rectID, err := tr.store.Append(ctx, room.ID, rect)
	require.NoError(t, err)

	a := tr.dial("alice", room.ID, nil)
	eventuallyEntries(t, a, []Entry{{rect, rectID}})
	assert.Equal(t, 1, tr.server.Members(room.ID))

	b := tr.dial("bob", room.ID, nil)
	circle := shape.Circle{CenterX: 20, CenterY: 20, Radius: 5}
	require.NoError(t, b.Submit(circle))

	require.Eventually(t, func() bool {
		got, err := a.Snapshot(ctx)
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)
	got, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []shape.Shape{rect, circle}, shapesOf(got))
	assert.Greater(t, got[1].OriginID, rectID)

	mine, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{rect, rectID}, {circle, shape.NoOriginID}}, mine)
}

// slowLookupStore delays room lookups, which is what stands between join_room and membership.
type slowLookupStore struct {
	oplog.Store
	delay time.Duration
}

func (s slowLookupStore) RoomByID(ctx context.Context, id shape.RoomID) (oplog.Room, error) {
	time.Sleep(s.delay)
	return s.Store.RoomByID(ctx, id)
}

func TestOperationRightAfterSlowJoinIsNotLost(t *testing.T) {
	tr := newWrappedTestRelay(t, func(s oplog.Store) oplog.Store {
		return slowLookupStore{Store: s, delay: 300 * time.Millisecond}
	})
	ctx := context.Background()
	room, err := tr.store.CreateRoom(ctx, "abc", "alice")
	require.NoError(t, err)

	b := tr.dial("bob", room.ID, nil)
	a := tr.dial("alice", room.ID, nil)
	assert.Equal(t, 2, tr.server.Members(room.ID))

	circle := shape.Circle{CenterX: 1, CenterY: 1, Radius: 1}
	require.NoError(t, b.Submit(circle))

	require.Eventually(t, func() bool {
		got, err := a.Snapshot(ctx)
		return err == nil && len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	got, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, circle, got[0].Shape)
	assert.Positive(t, got[0].OriginID)

	records, err := tr.store.ReadRecent(ctx, room.ID, oplog.MaxRecent)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// fakeRelay accepts any connection and serves a fixed history, including rows a client cannot parse.
func fakeRelay(t *testing.T, history string) *url.URL {
	upgrader := websocket.Upgrader{}
	r := mux.NewRouter()
	r.Path("/ws").HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		ws, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if f, err := shape.DecodeFrame(raw); err == nil && f.Type == shape.FrameJoinRoom {
				_ = ws.WriteJSON(shape.Frame{Type: shape.FrameJoined, RoomID: f.RoomID})
			}
		}
	})
	r.Path("/room/chats/{roomId}").HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "Bearer token", request.Header.Get("Authorization"))
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(history))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u
}

func TestMalformedHistoryRowsAreSkipped(t *testing.T) {
	base := fakeRelay(t, `{"messages":[
		{"id":3,"roomId":1,"message":"{\"shape\":{\"type\":\"line\",\"startX\":0,\"startY\":0,\"endX\":1,\"endY\":1}}"},
		{"id":2,"roomId":1,"message":"not json"},
		{"id":1,"roomId":1,"message":"{\"shape\":{\"type\":\"star\"}}"}
	]}`)
	s, err := Dial(context.Background(), SessionConfig{BaseURL: base, Token: "token", RoomID: 1})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	<-s.Ready()

	eventuallyEntries(t, s, []Entry{{shape.Line{EndX: 1, EndY: 1}, 3}})
	assert.NoError(t, s.Err())
}

func TestFailedHistoryReadEndsSession(t *testing.T) {
	base := fakeRelay(t, `{"messages":`)
	s, err := Dial(context.Background(), SessionConfig{BaseURL: base, Token: "token", RoomID: 1})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived a broken history read")
	}
	assert.ErrorContains(t, s.Err(), "failed to decode history")
}

func TestJoinUnknownRoomReportsError(t *testing.T) {
	tr := newTestRelay(t)
	var mu sync.Mutex
	var frames []shape.Frame
	s := tr.dial("alice", 77, func(f shape.Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, shape.FrameError, frames[0].Type)
	mu.Unlock()

	<-s.Done()
	assert.ErrorIs(t, s.Err(), ErrJoinRejected)
	got, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDisconnectIsTerminal(t *testing.T) {
	tr := newTestRelay(t)
	ctx := context.Background()
	room, err := tr.store.CreateRoom(ctx, "abc", "alice")
	require.NoError(t, err)
	s := tr.dial("alice", room.ID, nil)
	assert.Equal(t, 1, tr.server.Members(room.ID))

	tr.server.Close()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the disconnect")
	}
	assert.ErrorIs(t, s.Err(), ErrDisconnected)

	line := shape.Line{EndX: 5, EndY: 5}
	assert.ErrorIs(t, s.Submit(line), ErrDisconnected)
	got, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{line, shape.NoOriginID}}, got)

	records, err := tr.store.ReadRecent(ctx, room.ID, oplog.MaxRecent)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCloseIsClean(t *testing.T) {
	tr := newTestRelay(t)
	room, err := tr.store.CreateRoom(context.Background(), "abc", "alice")
	require.NoError(t, err)
	s := tr.dial("alice", room.ID, nil)
	s.Close()
	<-s.Done()
	assert.NoError(t, s.Err())
	s.Close()
}

func TestDialRejectsBadToken(t *testing.T) {
	tr := newTestRelay(t)
	_, err := Dial(context.Background(), SessionConfig{BaseURL: tr.base, Token: "nope", RoomID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
