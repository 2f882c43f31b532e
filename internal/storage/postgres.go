// internal/storage/postgres.go
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/media"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// tagsColumn records how an existing media_items table stores tags.
type tagsColumn int

const (
	tagsJSON  tagsColumn = iota // json or jsonb
	tagsArray                   // text[]
	tagsText                    // JSON encoded text
)

// postgres talks to a media_items table directly.
// Inline payloads are pushed through the uploader before the row is written.
type postgres struct {
	db       *pgxpool.Pool
	uploader media.Uploader // nil keeps inline payloads in the url column

	mu    sync.Mutex
	ready bool
	tags  tagsColumn
}

// NewPostgres creates a connection pool for dsn.
// The pool connects lazily, so an unreachable server surfaces on the first
// operation, where the chain can fall back, rather than at startup.
func NewPostgres(dsn string, uploader media.Uploader) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 0
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	return &postgres{db: pool, uploader: uploader}, nil
}

// ensureSchema creates the table if needed and detects the tags column type.
// It runs until it succeeds once.
func (p *postgres) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return nil
	}

	schema := `
		CREATE TABLE IF NOT EXISTS media_items (
		    id TEXT PRIMARY KEY,
		    app_id TEXT NOT NULL,
		    type TEXT NOT NULL,
		    url TEXT NOT NULL,
		    thumbnail_url TEXT,
		    title TEXT NOT NULL DEFAULT '',
		    description TEXT NOT NULL DEFAULT '',
		    tags JSONB NOT NULL DEFAULT '[]'::jsonb,
		    created_at BIGINT NOT NULL,
		    width INTEGER,
		    height INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_media_items_created ON media_items(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_media_items_app ON media_items(app_id);
	`
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: initialize schema: %v", ErrUnavailable, err)
	}

	var dataType string
	err := p.db.QueryRow(ctx,
		`SELECT data_type FROM information_schema.columns WHERE table_name = 'media_items' AND column_name = 'tags' LIMIT 1`,
	).Scan(&dataType)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("%w: inspect tags column: %v", ErrUnavailable, err)
	}
	switch dataType {
	case "ARRAY":
		p.tags = tagsArray
	case "json", "jsonb", "":
		p.tags = tagsJSON
	default:
		p.tags = tagsText
	}

	p.ready = true
	return nil
}

func (p *postgres) Name() string { return "postgres" }

// Close closes the database connection pool.
func (p *postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *postgres) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return []model.MediaItem{}, err
	}

	// to_jsonb normalizes text[], jsonb and text columns into one JSON value;
	// created_at is read as text so bigint, numeric and text columns all scan.
	rows, err := p.db.Query(ctx, `
		SELECT id, app_id, type, url, COALESCE(thumbnail_url, ''), COALESCE(title, ''),
		       COALESCE(description, ''), COALESCE(to_jsonb(tags)::text, '[]'), created_at::text,
		       COALESCE(width, 0), COALESCE(height, 0)
		FROM media_items
		ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return []model.MediaItem{}, fmt.Errorf("query media_items: %w", err)
	}
	defer rows.Close()

	items := []model.MediaItem{}
	for rows.Next() {
		var (
			item            model.MediaItem
			typ, tags, made string
		)
		if err := rows.Scan(&item.ID, &item.AppID, &typ, &item.URL, &item.ThumbnailURL, &item.Title,
			&item.Description, &tags, &made, &item.Width, &item.Height); err != nil {
			return []model.MediaItem{}, fmt.Errorf("scan media_items: %w", err)
		}
		item.Type = model.MediaType(typ)
		if item.Tags, err = decodeTags([]byte(tags)); err != nil {
			return []model.MediaItem{}, fmt.Errorf("item %s: %w", item.ID, err)
		}
		item.CreatedAt = decodeCreatedAt([]byte(made))
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return []model.MediaItem{}, err
	}

	sortNewestFirst(items)
	return items, nil
}

func (p *postgres) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return model.MediaItem{}, err
	}

	item, err := uploadInline(ctx, p.uploader, item)
	if err != nil {
		return model.MediaItem{}, err
	}

	var tags interface{}
	switch p.tags {
	case tagsArray:
		tags = append([]string{}, item.Tags...)
	default:
		tags = string(encodeTags(item.Tags))
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO media_items (id, app_id, type, url, thumbnail_url, title, description, tags, created_at, width, height)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9::bigint, NULLIF($10, 0), NULLIF($11, 0))
		ON CONFLICT (id) DO UPDATE SET
		    type = EXCLUDED.type,
		    url = EXCLUDED.url,
		    thumbnail_url = EXCLUDED.thumbnail_url,
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    tags = EXCLUDED.tags,
		    width = EXCLUDED.width,
		    height = EXCLUDED.height`,
		item.ID, item.AppID, string(item.Type), item.URL, item.ThumbnailURL, item.Title, item.Description,
		tags, item.CreatedAt, item.Width, item.Height)
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("upsert media_items: %w", err)
	}
	return cloneItem(item), nil
}

func (p *postgres) DeleteItem(ctx context.Context, id string) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM media_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete media_items: %w", err)
	}
	return nil
}

// uploadInline replaces an inline url with the uploaded object's address.
// Without an uploader, or for remote urls, the item is returned unchanged.
func uploadInline(ctx context.Context, uploader media.Uploader, item model.MediaItem) (model.MediaItem, error) {
	if uploader == nil || !datauri.IsInline(item.URL) {
		return item, nil
	}
	url, err := uploader.Upload(ctx, item.URL, datauri.ObjectPath(item.AppID, item.ID, item.Type))
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	item.URL = url
	return item, nil
}
