package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/drawroom/pkg/auth"
	"github.com/astromechza/drawroom/pkg/config"
	"github.com/astromechza/drawroom/pkg/discovery"
	"github.com/astromechza/drawroom/pkg/editor"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/reconcile"
	"github.com/astromechza/drawroom/pkg/render"
	"github.com/astromechza/drawroom/pkg/shape"
)

const (
	canvasWidth  = 1024
	canvasHeight = 768
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	var cfg config.Client
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := cfg.Addr
	if addr == "mdns" {
		if addr, err = discovery.First(ctx, 3*time.Second); err != nil {
			return err
		}
		slog.Info("discovered relay", "addr", addr)
	}
	baseUrl, err := url.Parse("http://" + addr)
	if err != nil {
		return err
	}

	token := cfg.Token
	if token == "" {
		if token, err = auth.NewHMAC(cfg.JWTSecret).Issue(cfg.User, 24*time.Hour); err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
	}

	roomID, err := resolveRoom(ctx, baseUrl, cfg.Room)
	if err != nil {
		return err
	}

	session, err := reconcile.Dial(ctx, reconcile.SessionConfig{
		BaseURL: baseUrl,
		Token:   token,
		RoomID:  roomID,
		OnRedraw: func(entries []reconcile.Entry) {
			slog.Debug("redraw", "shapes", len(entries))
		},
		OnError: func(f shape.Frame) {
			slog.Error("relay rejected an operation", "error", f.Error)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()
	<-session.Ready()
	if err := session.Err(); err != nil {
		return err
	}

	ed := editor.New(editor.ToolRect, session.Submit, nil)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		drawRandomlyContinuously(ctx, ed, cfg.Shapes, cfg.Interval)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-session.Done():
		slog.Error("disconnected", "err", session.Err())
	case <-ctx.Done():
		slog.Info("finished drawing")
	}
	cancel()
	wg.Wait()

	entries, err := session.Snapshot(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	slog.Info("final store", "shapes", len(entries))
	if cfg.Out != "" {
		if err := dump(cfg.Out, entries); err != nil {
			return err
		}
		slog.Info("dumped", "path", cfg.Out)
	}
	return session.Err()
}

// resolveRoom accepts a numeric id as is and looks anything else up as a slug.
func resolveRoom(ctx context.Context, baseUrl *url.URL, room string) (shape.RoomID, error) {
	if id, err := shape.ParseRoomID(room); err == nil {
		return id, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseUrl.JoinPath("room", room).String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to get: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return 0, fmt.Errorf("room %q not found", room)
	default:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var body struct {
		Room oplog.Room `json:"room"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode room: %w", err)
	}
	return body.Room.ID, nil
}

func drawRandomlyContinuously(ctx context.Context, ed *editor.Editor, limit int, interval time.Duration) {
	tools := []editor.Tool{editor.ToolRect, editor.ToolCircle, editor.ToolLine}
	for drawn := 0; limit == 0 || drawn < limit; {
		t := time.NewTimer(interval)
		select {
		case <-t.C:
			tool := tools[rand.Intn(len(tools))]
			ed.SetTool(tool)
			x, y := rand.Float64()*canvasWidth, rand.Float64()*canvasHeight
			ed.PointerDown(x, y)
			for i := 0; i < 3; i++ {
				x += rand.Float64()*120 - 60
				y += rand.Float64()*120 - 60
				ed.PointerMove(x, y)
			}
			if err := ed.PointerUp(x, y); err != nil {
				if errors.Is(err, reconcile.ErrDisconnected) {
					slog.Error("stopping: disconnected")
					return
				}
				slog.Error("failed to draw", "err", err)
				continue
			}
			drawn++
			slog.Info("drew", "tool", tool, "count", drawn)
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled drawing")
			return
		}
	}
}

func dump(path string, entries []reconcile.Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	opts := render.Options{Width: canvasWidth, Height: canvasHeight}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return render.ExportPDF(f, entries, opts)
	}
	return render.WritePNG(f, entries, nil, opts)
}
