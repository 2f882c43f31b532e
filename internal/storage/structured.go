// internal/storage/structured.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// itemRecord is the row layout of the embedded structured store.
type itemRecord struct {
	ID           string         `gorm:"primaryKey"`
	AppID        string         `gorm:"index;not null"`
	Type         string         `gorm:"not null"`
	URL          string         `gorm:"not null"`
	ThumbnailURL string
	Title        string
	Description  string
	Tags         datatypes.JSON
	Created      int64 `gorm:"column:created_at;index"` // Epoch ms; not gorm's auto timestamp
	Width        int
	Height       int
}

func (itemRecord) TableName() string { return "media_items" }

func recordFromItem(item model.MediaItem) (itemRecord, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return itemRecord{}, err
	}
	return itemRecord{
		ID:           item.ID,
		AppID:        item.AppID,
		Type:         string(item.Type),
		URL:          item.URL,
		ThumbnailURL: item.ThumbnailURL,
		Title:        item.Title,
		Description:  item.Description,
		Tags:         datatypes.JSON(encoded),
		Created:      item.CreatedAt,
		Width:        item.Width,
		Height:       item.Height,
	}, nil
}

func (r itemRecord) item() (model.MediaItem, error) {
	tags, err := decodeTags(r.Tags)
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("item %s: %w", r.ID, err)
	}
	return model.MediaItem{
		ID:           r.ID,
		AppID:        r.AppID,
		Type:         model.MediaType(r.Type),
		URL:          r.URL,
		ThumbnailURL: r.ThumbnailURL,
		Title:        r.Title,
		Description:  r.Description,
		Tags:         tags,
		CreatedAt:    r.Created,
		Width:        r.Width,
		Height:       r.Height,
	}, nil
}

// structured is an embedded SQLite store keyed by item id.
// The database is opened on first use; if opening fails, reads degrade to an
// empty list and writes fail, and the next call tries again.
type structured struct {
	mu   sync.Mutex
	dsn  string
	db   *gorm.DB
	open func(dsn string) (*gorm.DB, error)
}

// NewStructured returns a Store over the SQLite database at dsn.
// dsn can be a file path or ":memory:".
func NewStructured(dsn string) Store {
	return &structured{dsn: dsn, open: openSQLite}
}

func openSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent across calls
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&itemRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *structured) Name() string { return "structured" }

func (s *structured) conn(ctx context.Context) (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := s.open(s.dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.dsn, err)
		}
		s.db = db
	}
	return s.db.WithContext(ctx), nil
}

func (s *structured) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return []model.MediaItem{}, err
	}

	var rows []itemRecord
	if err := db.Order("created_at desc").Order("id asc").Find(&rows).Error; err != nil {
		return []model.MediaItem{}, err
	}
	items := make([]model.MediaItem, 0, len(rows))
	for _, r := range rows {
		item, err := r.item()
		if err != nil {
			return []model.MediaItem{}, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *structured) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return model.MediaItem{}, err
	}

	rec, err := recordFromItem(item)
	if err != nil {
		return model.MediaItem{}, err
	}
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
		return model.MediaItem{}, err
	}
	return cloneItem(item), nil
}

func (s *structured) DeleteItem(ctx context.Context, id string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Delete(&itemRecord{}, "id = ?", id).Error
}

func (s *structured) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	return sqlDB.Close()
}
