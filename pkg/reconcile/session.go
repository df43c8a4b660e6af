package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/drawroom/pkg/shape"
)

var (
	ErrDisconnected = errors.New("disconnected")
	// ErrJoinRejected ends a session whose join_room the relay answered with an error.
	ErrJoinRejected = errors.New("join rejected")
)

type SessionConfig struct {
	// BaseURL is the relay's http(s) root.
	BaseURL *url.URL
	Token   string
	RoomID  shape.RoomID

	OnRedraw func([]Entry)
	// OnError receives error frames the relay sends back, such as a failed append.
	OnError func(shape.Frame)

	Logger     *slog.Logger
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Session is one peer's stay in one room. A lost connection ends it; joining again means a new
// Session with a fresh store and a full history read.
type Session struct {
	cfg    SessionConfig
	ws     *websocket.Conn
	rec    *Reconciler
	logger *slog.Logger

	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	err       error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func wsURL(base *url.URL, token string) string {
	u := base.JoinPath("ws")
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

// Dial connects to the relay and joins the room. The live stream starts straight away; the history
// read starts once the relay acknowledges the join, so nothing appended in between is missed.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger.With("room", cfg.RoomID)

	ws, resp, err := cfg.Dialer.DialContext(ctx, wsURL(cfg.BaseURL, cfg.Token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial: %w: status %d", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		ws:     ws,
		rec:    NewReconciler(Options{OnRedraw: cfg.OnRedraw, Logger: logger}),
		logger: logger,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		ctx:    runCtx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rec.Run(runCtx)
	}()

	if err := s.write(shape.Frame{Type: shape.FrameJoinRoom, RoomID: cfg.RoomID}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()
	return s, nil
}

// startBootstrap is called from the read loop, which holds its own count on wg.
func (s *Session) startBootstrap() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.markReady()
		if err := s.bootstrap(s.ctx); err != nil {
			s.fail(err)
		}
	}()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) bootstrap(ctx context.Context) error {
	u := s.cfg.BaseURL.JoinPath("room", "chats", s.cfg.RoomID.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build bootstrap request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to read history: unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		Messages []struct {
			ID      int64  `json:"id"`
			Message string `json:"message"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode history: %w", err)
	}
	entries := make([]Entry, 0, len(body.Messages))
	for _, m := range body.Messages {
		sh, err := shape.ParsePayload(m.Message)
		if err != nil {
			s.logger.Warn("skipping malformed history entry", "id", m.ID, "err", err)
			continue
		}
		entries = append(entries, Entry{Shape: sh, OriginID: m.ID})
	}
	if err := s.rec.Bootstrap(entries); err != nil {
		return err
	}
	s.logger.Info("loaded history", "count", len(entries))
	return nil
}

func (s *Session) readLoop() {
	joined := false
	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("%w: %w", ErrDisconnected, err))
			return
		}
		f, err := shape.DecodeFrame(raw)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		switch f.Type {
		case shape.FrameChat:
			if f.RoomID != s.cfg.RoomID {
				s.logger.Warn("dropping operation for another room", "other", f.RoomID)
				continue
			}
			op, err := f.Operation()
			if err != nil {
				s.logger.Warn("dropping malformed operation", "err", err)
				continue
			}
			if err := s.rec.Live(Entry{Shape: op.Shape, OriginID: op.OriginID}); err != nil {
				return
			}
		case shape.FrameJoined:
			if joined || f.RoomID != s.cfg.RoomID {
				continue
			}
			joined = true
			s.logger.Info("joined room")
			s.startBootstrap()
		case shape.FrameError:
			s.logger.Warn("relay reported an error", "error", f.Error)
			if s.cfg.OnError != nil {
				s.cfg.OnError(f)
			}
			if !joined && f.RoomID == s.cfg.RoomID {
				s.fail(fmt.Errorf("%w: %s", ErrJoinRejected, f.Error))
				return
			}
		default:
			s.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}

func (s *Session) write(f shape.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// fail ends the connection. The first cause wins; the store stays readable until Close.
func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
		s.markReady()
		_ = s.ws.Close()
		if err != nil {
			s.logger.Warn("session ended", "err", err)
		}
	})
}

// Submit appends the shape to the local store and sends it to the relay. When the connection is gone
// the local copy is kept, nothing is sent or queued, and ErrDisconnected is returned.
func (s *Session) Submit(sh shape.Shape) error {
	if err := s.rec.Local(sh); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrDisconnected
	default:
	}
	f, err := shape.ChatFrame(shape.Operation{Shape: sh, RoomID: s.cfg.RoomID, OriginID: shape.NoOriginID})
	if err != nil {
		return err
	}
	if err := s.write(f); err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrDisconnected, err))
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}
	return nil
}

// Snapshot returns the entries in draw order.
func (s *Session) Snapshot(ctx context.Context) ([]Entry, error) {
	return s.rec.Snapshot(ctx)
}

// Ready is closed once the history read has finished, or once the session ends without one.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when the connection ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the connection ended. It is nil while connected and after a clean Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close leaves the room and stops every goroutine of the session.
func (s *Session) Close() {
	select {
	case <-s.done:
	default:
		s.writeMu.Lock()
		_ = s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
	}
	s.fail(nil)
	s.cancel()
	s.wg.Wait()
}
