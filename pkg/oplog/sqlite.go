package oplog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/astromechza/drawroom/pkg/shape"
)

type SQLite struct {
	database *sql.DB
	logger   *slog.Logger
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on"
	} else {
		dsn += "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY under concurrent appends
	db.SetMaxOpenConns(1)
	s := &SQLite{database: db, logger: slog.Default().With("store", "sqlite")}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS rooms (
		id integer not null primary key autoincrement,
		slug text not null unique,
		admin_id text not null,
		created_at timestamp not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS chats (
		id integer not null primary key autoincrement,
		room_id integer not null references rooms(id),
		message text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create chats table: %w", err)
	}
	if _, err := s.database.Exec(`CREATE INDEX IF NOT EXISTS chats_room_id ON chats (room_id, id)`); err != nil {
		return fmt.Errorf("failed to create chats index: %w", err)
	}
	s.logger.Info("Ensured tables exist")
	return nil
}

func (s *SQLite) Close() error {
	return s.database.Close()
}

func sqliteCode(err error) sqlite3.ErrNoExtended {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode
	}
	return 0
}

func (s *SQLite) Append(ctx context.Context, roomID shape.RoomID, sh shape.Shape) (int64, error) {
	message, err := shape.EncodePayload(sh)
	if err != nil {
		return 0, err
	}
	res, err := s.database.ExecContext(ctx, `INSERT INTO chats (room_id, message) VALUES (?, ?)`, int64(roomID), message)
	if err != nil {
		if sqliteCode(err) == sqlite3.ErrConstraintForeignKey {
			return 0, fmt.Errorf("failed to append to room %s: %w", roomID, ErrRoomNotFound)
		}
		return 0, persistence("append", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistence("read appended id", err)
	}
	return id, nil
}

func (s *SQLite) ReadRecent(ctx context.Context, roomID shape.RoomID, limit int) ([]Record, error) {
	rows, err := s.database.QueryContext(
		ctx, `SELECT id, message FROM chats WHERE room_id = ? ORDER BY id DESC LIMIT ?`,
		int64(roomID), clampLimit(limit),
	)
	if err != nil {
		return nil, persistence("query", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", "err", err)
		}
	}(rows)

	var ids []int64
	var messages []string
	for rows.Next() {
		var id int64
		var message string
		if err := rows.Scan(&id, &message); err != nil {
			return nil, persistence("scan", err)
		}
		ids = append(ids, id)
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate", err)
	}
	return decodeRecords(s.logger, roomID, ids, messages), nil
}

func (s *SQLite) DeleteMany(ctx context.Context, roomID shape.RoomID, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, persistence("start tx", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("failed to rollback", "err", err)
		}
	}()

	var total int64
	for _, chunk := range chunks(ids, deleteChunk) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, int64(roomID))
		for _, id := range chunk {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE room_id = ? AND id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, persistence("delete", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, persistence("commit", err)
	}
	return total, nil
}

func (s *SQLite) DeleteByRoom(ctx context.Context, roomID shape.RoomID) error {
	if _, err := s.database.ExecContext(ctx, `DELETE FROM chats WHERE room_id = ?`, int64(roomID)); err != nil {
		return persistence("delete room operations", err)
	}
	return nil
}

func (s *SQLite) CreateRoom(ctx context.Context, slug, adminID string) (Room, error) {
	r := Room{Slug: slug, AdminID: adminID, CreatedAt: time.Now().UTC()}
	res, err := s.database.ExecContext(
		ctx, `INSERT INTO rooms (slug, admin_id, created_at) VALUES (?, ?, ?)`,
		r.Slug, r.AdminID, r.CreatedAt,
	)
	if err != nil {
		if sqliteCode(err) == sqlite3.ErrConstraintUnique {
			return Room{}, fmt.Errorf("failed to create room %q: %w", slug, ErrRoomExists)
		}
		return Room{}, persistence("create room", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Room{}, persistence("read room id", err)
	}
	r.ID = shape.RoomID(id)
	return r, nil
}

func (s *SQLite) scanRoom(row *sql.Row) (Room, error) {
	var r Room
	var id int64
	if err := row.Scan(&id, &r.Slug, &r.AdminID, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, persistence("scan room", err)
	}
	r.ID = shape.RoomID(id)
	return r, nil
}

func (s *SQLite) RoomBySlug(ctx context.Context, slug string) (Room, error) {
	return s.scanRoom(s.database.QueryRowContext(
		ctx, `SELECT id, slug, admin_id, created_at FROM rooms WHERE slug = ?`, slug,
	))
}

func (s *SQLite) RoomByID(ctx context.Context, id shape.RoomID) (Room, error) {
	return s.scanRoom(s.database.QueryRowContext(
		ctx, `SELECT id, slug, admin_id, created_at FROM rooms WHERE id = ?`, int64(id),
	))
}

func (s *SQLite) RoomsByAdmin(ctx context.Context, adminID string) ([]Room, error) {
	rows, err := s.database.QueryContext(
		ctx, `SELECT id, slug, admin_id, created_at FROM rooms WHERE admin_id = ? ORDER BY created_at DESC, id DESC`, adminID,
	)
	if err != nil {
		return nil, persistence("query rooms", err)
	}
	defer rows.Close()
	out := make([]Room, 0)
	for rows.Next() {
		var r Room
		var id int64
		if err := rows.Scan(&id, &r.Slug, &r.AdminID, &r.CreatedAt); err != nil {
			return nil, persistence("scan room", err)
		}
		r.ID = shape.RoomID(id)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("iterate rooms", err)
	}
	return out, nil
}

func (s *SQLite) DeleteRoom(ctx context.Context, roomID shape.RoomID, adminID string) error {
	tx, err := s.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return persistence("start tx", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("failed to rollback", "err", err)
		}
	}()

	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT admin_id FROM rooms WHERE id = ?`, int64(roomID)).Scan(&owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		return persistence("lookup room", err)
	}
	if owner != adminID {
		return ErrRoomNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE room_id = ?`, int64(roomID)); err != nil {
		return persistence("delete room operations", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, int64(roomID)); err != nil {
		return persistence("delete room", err)
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}
