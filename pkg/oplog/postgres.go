package oplog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/astromechza/drawroom/pkg/shape"
)

type roomRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Slug      string    `gorm:"uniqueIndex;not null"`
	AdminID   string    `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
	Chats     []chatRow `gorm:"foreignKey:RoomID"`
}

func (roomRow) TableName() string { return "rooms" }

func (r roomRow) room() Room {
	return Room{ID: shape.RoomID(r.ID), Slug: r.Slug, AdminID: r.AdminID, CreatedAt: r.CreatedAt}
}

type chatRow struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	RoomID  int64  `gorm:"not null;index:idx_chats_room_id"`
	Message string `gorm:"type:text;not null"`
}

func (chatRow) TableName() string { return "chats" }

// Postgres stores the log through gorm. Each call is its own transaction.
type Postgres struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	p := &Postgres{db: db, logger: slog.Default().With("store", "postgres")}
	if err := p.Migrate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Migrate() error {
	if err := p.db.AutoMigrate(&roomRow{}, &chatRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	p.logger.Info("Ensured tables exist")
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) Append(ctx context.Context, roomID shape.RoomID, s shape.Shape) (int64, error) {
	message, err := shape.EncodePayload(s)
	if err != nil {
		return 0, err
	}
	row := chatRow{RoomID: int64(roomID), Message: message}
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&roomRow{}, int64(roomID)).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("failed to append to room %s: %w", roomID, ErrRoomNotFound)
		}
		return 0, persistence("append", err)
	}
	return row.ID, nil
}

func (p *Postgres) ReadRecent(ctx context.Context, roomID shape.RoomID, limit int) ([]Record, error) {
	var rows []chatRow
	if err := p.db.WithContext(ctx).
		Where("room_id = ?", int64(roomID)).
		Order("id desc").
		Limit(clampLimit(limit)).
		Find(&rows).Error; err != nil {
		return nil, persistence("query", err)
	}
	ids := make([]int64, len(rows))
	messages := make([]string, len(rows))
	for i, r := range rows {
		ids[i], messages[i] = r.ID, r.Message
	}
	return decodeRecords(p.logger, roomID, ids, messages), nil
}

func (p *Postgres) DeleteMany(ctx context.Context, roomID shape.RoomID, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, chunk := range chunks(ids, deleteChunk) {
			res := tx.Where("room_id = ? AND id IN ?", int64(roomID), chunk).Delete(&chatRow{})
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, persistence("delete", err)
	}
	return total, nil
}

func (p *Postgres) DeleteByRoom(ctx context.Context, roomID shape.RoomID) error {
	if err := p.db.WithContext(ctx).Where("room_id = ?", int64(roomID)).Delete(&chatRow{}).Error; err != nil {
		return persistence("delete room operations", err)
	}
	return nil
}

func (p *Postgres) CreateRoom(ctx context.Context, slug, adminID string) (Room, error) {
	row := roomRow{Slug: slug, AdminID: adminID, CreatedAt: time.Now().UTC()}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Room{}, fmt.Errorf("failed to create room %q: %w", slug, ErrRoomExists)
		}
		return Room{}, persistence("create room", err)
	}
	return row.room(), nil
}

func (p *Postgres) findRoom(ctx context.Context, query string, arg any) (Room, error) {
	var row roomRow
	if err := p.db.WithContext(ctx).Where(query, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Room{}, ErrRoomNotFound
		}
		return Room{}, persistence("lookup room", err)
	}
	return row.room(), nil
}

func (p *Postgres) RoomBySlug(ctx context.Context, slug string) (Room, error) {
	return p.findRoom(ctx, "slug = ?", slug)
}

func (p *Postgres) RoomByID(ctx context.Context, id shape.RoomID) (Room, error) {
	return p.findRoom(ctx, "id = ?", int64(id))
}

func (p *Postgres) RoomsByAdmin(ctx context.Context, adminID string) ([]Room, error) {
	var rows []roomRow
	if err := p.db.WithContext(ctx).Where("admin_id = ?", adminID).Order("created_at desc, id desc").Find(&rows).Error; err != nil {
		return nil, persistence("query rooms", err)
	}
	out := make([]Room, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.room())
	}
	return out, nil
}

func (p *Postgres) DeleteRoom(ctx context.Context, roomID shape.RoomID, adminID string) error {
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row roomRow
		if err := tx.Where("id = ? AND admin_id = ?", int64(roomID), adminID).First(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", row.ID).Delete(&chatRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return persistence("delete room", err)
	}
	return nil
}
