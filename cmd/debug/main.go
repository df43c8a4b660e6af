package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/astromechza/drawroom/pkg/config"
	"github.com/astromechza/drawroom/pkg/oplog"
	"github.com/astromechza/drawroom/pkg/reconcile"
	"github.com/astromechza/drawroom/pkg/render"
	"github.com/astromechza/drawroom/pkg/shape"
	"github.com/astromechza/drawroom/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	dbVar := flag.String("db", config.EnvOrDefault("DATABASE_URL", "drawroom.sqlite3"), "a sqlite path or a postgres:// url")
	limitVar := flag.Int("limit", oplog.MaxRecent, "how many recent operations to read")
	pngVar := flag.String("png", "", "also rasterize the room to this file")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the room slug or id")
	}

	store, err := oplog.Open(*dbVar)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	room, err := lookupRoom(ctx, store, flag.Arg(0))
	if err != nil {
		return err
	}
	slog.Info("loaded room", "id", room.ID, "slug", room.Slug, "admin", room.AdminID, "created", room.CreatedAt)

	records, err := store.ReadRecent(ctx, room.ID, *limitVar)
	if err != nil {
		return err
	}
	slog.Info("operations:")
	for i, r := range records {
		slog.Info("operation", "i", fmt.Sprintf("%4d", i), "id", r.ID, "kind", r.Shape.Kind(), "bounds", shape.Bounds(r.Shape), "message", r.Message)
	}

	svgPath, err := viz.RenderToTemp(records)
	if err != nil {
		return fmt.Errorf("failed to render history: %w", err)
	}
	slog.Info("rendered", "path", "file://"+svgPath)

	if *pngVar != "" {
		// same order a joining peer draws its bootstrap in
		entries := make([]reconcile.Entry, 0, len(records))
		for _, r := range records {
			entries = append(entries, reconcile.Entry{Shape: r.Shape, OriginID: r.ID})
		}
		f, err := os.Create(*pngVar)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := render.WritePNG(f, entries, nil, render.Options{Fit: true}); err != nil {
			return err
		}
		slog.Info("rasterized", "path", *pngVar)
	}
	return nil
}

func lookupRoom(ctx context.Context, store oplog.Store, ref string) (oplog.Room, error) {
	if id, err := shape.ParseRoomID(ref); err == nil {
		room, err := store.RoomByID(ctx, id)
		if err == nil || !errors.Is(err, oplog.ErrRoomNotFound) {
			return room, err
		}
	}
	return store.RoomBySlug(ctx, ref)
}
