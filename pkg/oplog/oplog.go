// Package oplog is the durable, append-only record of drawing operations per room, plus the small room
// directory the operations hang off.
//
// Two backends satisfy [Store]: [SQLite] on database/sql for a single node, and [Postgres] on gorm for a
// shared database. [Open] picks one from a DSN.
package oplog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/astromechza/drawroom/pkg/shape"
)

var (
	ErrPersistence  = errors.New("persistence failure")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// MaxRecent caps every ReadRecent call.
const MaxRecent = 1000

// deleteChunk bounds the ids bound into one DELETE, well under the sqlite and postgres parameter limits.
const deleteChunk = 500

type Record struct {
	ID      int64
	RoomID  shape.RoomID
	Message string
	Shape   shape.Shape
}

type Room struct {
	ID        shape.RoomID `json:"id"`
	Slug      string       `json:"slug"`
	AdminID   string       `json:"adminId"`
	CreatedAt time.Time    `json:"createdAt"`
}

type Log interface {
	// Append stores the shape and returns its durable id. A failed append is never visible to readers.
	Append(ctx context.Context, roomID shape.RoomID, s shape.Shape) (int64, error)
	// ReadRecent returns up to limit records, newest first, skipping rows that no longer parse.
	ReadRecent(ctx context.Context, roomID shape.RoomID, limit int) ([]Record, error)
	DeleteMany(ctx context.Context, roomID shape.RoomID, ids []int64) (int64, error)
	DeleteByRoom(ctx context.Context, roomID shape.RoomID) error
}

type Directory interface {
	CreateRoom(ctx context.Context, slug, adminID string) (Room, error)
	RoomBySlug(ctx context.Context, slug string) (Room, error)
	RoomByID(ctx context.Context, id shape.RoomID) (Room, error)
	RoomsByAdmin(ctx context.Context, adminID string) ([]Room, error)
	// DeleteRoom removes the room's operations and then the room, atomically. Only the admin may do this.
	DeleteRoom(ctx context.Context, roomID shape.RoomID, adminID string) error
}

type Store interface {
	Log
	Directory
	Close() error
}

// Open selects a backend from the DSN: postgres URLs go to gorm, anything else is a sqlite path.
func Open(dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(dsn)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRecent {
		return MaxRecent
	}
	return limit
}

func chunks(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func persistence(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrPersistence, err)
}

// decodeRecords parses stored payloads, dropping any that are corrupt so one bad row cannot break a read.
func decodeRecords(logger *slog.Logger, roomID shape.RoomID, ids []int64, messages []string) []Record {
	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		s, err := shape.ParsePayload(messages[i])
		if err != nil {
			logger.Warn("skipping unreadable operation", "room", roomID, "id", id, "err", err)
			continue
		}
		out = append(out, Record{ID: id, RoomID: roomID, Message: messages[i], Shape: s})
	}
	return out
}
