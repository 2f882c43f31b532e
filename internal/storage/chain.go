// internal/storage/chain.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/event"
	"github.com/purrfectlabs/purrfect-admin-go/internal/media"
	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/telemetry"
)

// Validation errors returned by Chain.Save.
var (
	ErrInvalidItem   = errors.New("invalid media item")
	ErrTypeImmutable = errors.New("media type cannot change on edit")
)

// ReadResult is what a chain read returns. Reads never fail; Fallback tells
// whether the items came from the local backend because the remote one failed.
type ReadResult struct {
	Items    []model.MediaItem
	Backend  string
	Fallback bool
}

// SaveResult describes where an item ended up.
// Degraded means the remote backend failed and the item exists only locally,
// so companion apps reading the remote source will not see it.
type SaveResult struct {
	Item     model.MediaItem
	Backend  string
	Degraded bool
	Cause    error // Remote failure behind a degraded save
}

// DeleteResult describes a delete. Degraded means the remote record may still exist.
type DeleteResult struct {
	Backend  string
	Degraded bool
	Cause    error
}

// RemoteBuilder constructs the remote Store for a backend configuration.
type RemoteBuilder func(ctx context.Context, cfg config.Backend) (Store, error)

// Chain holds one local Store and at most one remote Store built from an
// explicit configuration. The remote one is primary whenever it is configured.
type Chain struct {
	mu     sync.RWMutex
	cfg    config.Backend
	local  Store
	remote Store // nil when no remote backend is configured

	buildRemote RemoteBuilder
	pub         event.Publisher
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// Option customizes a Chain.
type Option func(*Chain)

// WithPublisher sets the event publisher (default: no-op).
func WithPublisher(p event.Publisher) Option { return func(c *Chain) { c.pub = p } }

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(c *Chain) { c.logger = l } }

// WithClock sets the time source for new items' CreatedAt.
func WithClock(now func() time.Time) Option { return func(c *Chain) { c.now = now } }

// WithIDs sets the id generator for new items.
func WithIDs(newID func() string) Option { return func(c *Chain) { c.newID = newID } }

// WithRemoteBuilder replaces NewRemote, mainly for tests.
func WithRemoteBuilder(b RemoteBuilder) Option { return func(c *Chain) { c.buildRemote = b } }

// NewChain builds a chain over local with the remote backend cfg selects.
func NewChain(ctx context.Context, cfg config.Backend, local Store, opts ...Option) *Chain {
	c := &Chain{
		local:       local,
		buildRemote: NewRemote,
		pub:         event.NewNoop(),
		metrics:     metrics.NewMetrics(),
		tracer:      telemetry.Tracer("storage"),
		logger:      slog.Default(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = cfg
	c.remote = c.build(ctx, cfg)
	return c
}

// Reconfigure swaps in a remote backend built from cfg and closes the old one.
// Calls already in flight finish against the client they started with.
func (c *Chain) Reconfigure(ctx context.Context, cfg config.Backend) {
	next := c.build(ctx, cfg)

	c.mu.Lock()
	old := c.remote
	c.remote = next
	c.cfg = cfg
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Warn("closing previous remote backend failed", "backend", old.Name(), "error", err)
		}
	}
	c.logger.Info("storage reconfigured", "primary", c.Primary())
}

// Config returns the configuration the current remote backend was built from.
func (c *Chain) Config() config.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Primary names the backend tried first.
func (c *Chain) Primary() string {
	local, remote := c.stores()
	if remote != nil {
		return remote.Name()
	}
	return local.Name()
}

// Close releases both backends.
func (c *Chain) Close() error {
	local, remote := c.stores()
	var errs []error
	if remote != nil {
		errs = append(errs, remote.Close())
	}
	errs = append(errs, local.Close())
	return errors.Join(errs...)
}

func (c *Chain) stores() (Store, Store) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local, c.remote
}

// build returns nil when cfg selects no remote backend. A remote that cannot be
// constructed still counts as configured: it fails every call so saves are
// reported as degraded instead of silently going local.
func (c *Chain) build(ctx context.Context, cfg config.Backend) Store {
	kind := cfg.Remote()
	if kind == config.RemoteNone {
		return nil
	}
	s, err := c.buildRemote(ctx, cfg)
	if err != nil {
		c.logger.Error("remote backend unusable", "backend", kind, "error", err)
		return &broken{name: kind, err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	return s
}

// GetAllItems reads from the primary backend, then the local one, then gives
// up with an empty list. Failures are logged and never returned.
func (c *Chain) GetAllItems(ctx context.Context) ReadResult {
	ctx, span := c.tracer.Start(ctx, "storage.GetAllItems")
	defer span.End()

	local, remote := c.stores()
	fallback := false
	if remote != nil {
		items, err := c.getAll(ctx, remote)
		if err == nil {
			span.SetAttributes(attribute.String("backend", remote.Name()))
			return ReadResult{Items: items, Backend: remote.Name()}
		}
		span.RecordError(err)
		c.metrics.StorageFallbackTotal.WithLabelValues("read").Inc()
		c.logger.Warn("remote read failed, serving local items", "backend", remote.Name(), "error", err)
		fallback = true
	}

	items, err := c.getAll(ctx, local)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("local read failed, serving no items", "backend", local.Name(), "error", err)
		items = []model.MediaItem{}
	}
	span.SetAttributes(attribute.String("backend", local.Name()), attribute.Bool("fallback", fallback))
	return ReadResult{Items: items, Backend: local.Name(), Fallback: fallback}
}

func (c *Chain) getAll(ctx context.Context, s Store) ([]model.MediaItem, error) {
	started := time.Now()
	items, err := s.GetAllItems(ctx)
	c.metrics.ObserveStorage(s.Name(), "get_all", started, err)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []model.MediaItem{}
	}
	sortNewestFirst(items)
	return items, nil
}

// Save creates or updates an item from a form draft.
// With existing set the draft updates that item and its ID, AppID and CreatedAt
// are kept; without it a new ID and the current time are assigned.
func (c *Chain) Save(ctx context.Context, draft model.MediaDraft, existing *model.MediaItem) (SaveResult, error) {
	var item model.MediaItem
	if existing != nil {
		if draft.Type == "" {
			draft.Type = existing.Type
		} else if draft.Type != existing.Type {
			return SaveResult{}, ErrTypeImmutable
		}
		if err := draft.Validate(); err != nil {
			return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		item = draft.Apply(*existing)
	} else {
		if err := draft.Validate(); err != nil {
			return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		if strings.TrimSpace(draft.AppID) == "" {
			return SaveResult{}, fmt.Errorf("%w: appId is required", ErrInvalidItem)
		}
		item = draft.Apply(model.MediaItem{
			ID:        c.newID(),
			AppID:     draft.AppID,
			CreatedAt: c.now().UnixMilli(),
		})
	}
	return c.SaveItem(ctx, item)
}

// SaveItem upserts a complete item on the primary backend and falls back to the
// local backend when the remote save fails. A failed local save is an error.
func (c *Chain) SaveItem(ctx context.Context, item model.MediaItem) (SaveResult, error) {
	ctx, span := c.tracer.Start(ctx, "storage.SaveItem", trace.WithAttributes(attribute.String("item.id", item.ID)))
	defer span.End()

	local, remote := c.stores()
	var cause error
	if remote != nil {
		started := time.Now()
		saved, err := remote.SaveItem(ctx, item)
		c.metrics.ObserveStorage(remote.Name(), "save", started, err)
		if err == nil {
			span.SetAttributes(attribute.String("backend", remote.Name()))
			c.publishSaved(ctx, saved, remote.Name(), false)
			return SaveResult{Item: saved, Backend: remote.Name()}, nil
		}
		cause = err
		span.RecordError(err)
		c.metrics.StorageFallbackTotal.WithLabelValues("save").Inc()
		c.logger.Warn("remote save failed, saving locally", "backend", remote.Name(), "item", item.ID, "error", err)
	}

	started := time.Now()
	saved, err := local.SaveItem(ctx, item)
	c.metrics.ObserveStorage(local.Name(), "save", started, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if cause != nil {
			return SaveResult{}, fmt.Errorf("remote save failed (%v) and local save failed: %w", cause, err)
		}
		return SaveResult{}, err
	}

	degraded := cause != nil
	span.SetAttributes(attribute.String("backend", local.Name()), attribute.Bool("degraded", degraded))
	c.publishSaved(ctx, saved, local.Name(), degraded)
	return SaveResult{Item: saved, Backend: local.Name(), Degraded: degraded, Cause: cause}, nil
}

// Delete removes the item from the primary backend and always from the local
// backend too, so a fallback-saved copy does not linger. It fails only when no
// backend that held the authoritative record confirmed the delete.
func (c *Chain) Delete(ctx context.Context, id string) (DeleteResult, error) {
	ctx, span := c.tracer.Start(ctx, "storage.DeleteItem", trace.WithAttributes(attribute.String("item.id", id)))
	defer span.End()

	local, remote := c.stores()
	var cause error
	if remote != nil {
		started := time.Now()
		cause = remote.DeleteItem(ctx, id)
		c.metrics.ObserveStorage(remote.Name(), "delete", started, cause)
		if cause != nil {
			span.RecordError(cause)
			c.metrics.StorageFallbackTotal.WithLabelValues("delete").Inc()
			c.logger.Warn("remote delete failed, deleting locally", "backend", remote.Name(), "item", id, "error", cause)
		}
	}

	started := time.Now()
	err := local.DeleteItem(ctx, id)
	c.metrics.ObserveStorage(local.Name(), "delete", started, err)

	switch {
	case remote != nil && cause == nil:
		if err != nil {
			c.logger.Warn("local copy cleanup failed", "backend", local.Name(), "item", id, "error", err)
		}
		c.publishDeleted(ctx, id, remote.Name(), false)
		return DeleteResult{Backend: remote.Name()}, nil
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		if cause != nil {
			return DeleteResult{}, fmt.Errorf("remote delete failed (%v) and local delete failed: %w", cause, err)
		}
		return DeleteResult{}, err
	default:
		degraded := cause != nil
		span.SetAttributes(attribute.Bool("degraded", degraded))
		c.publishDeleted(ctx, id, local.Name(), degraded)
		return DeleteResult{Backend: local.Name(), Degraded: degraded, Cause: cause}, nil
	}
}

func (c *Chain) publishSaved(ctx context.Context, item model.MediaItem, backend string, degraded bool) {
	if err := c.pub.PublishItemSaved(ctx, item, backend, degraded); err != nil {
		c.logger.Warn("publish item saved failed", "item", item.ID, "error", err)
	}
}

func (c *Chain) publishDeleted(ctx context.Context, id, backend string, degraded bool) {
	if err := c.pub.PublishItemDeleted(ctx, id, backend, degraded); err != nil {
		c.logger.Warn("publish item deleted failed", "item", id, "error", err)
	}
}

// NewLocal returns the local Store cfg selects. The key-value store shares kv
// with the settings so both live in one document.
func NewLocal(cfg config.Backend, kv *KeyValue) Store {
	if cfg.Local == config.LocalStructured {
		return NewStructured(filepath.Join(cfg.DataDir, "purrfect.db"))
	}
	return NewKVStore(kv)
}

// NewRemote builds the remote Store cfg selects, wiring its object uploader.
func NewRemote(ctx context.Context, cfg config.Backend) (Store, error) {
	switch cfg.Remote() {
	case config.RemoteEndpoint:
		return NewEndpoint(cfg.CustomAPIURL, cfg.RemoteTimeout)
	case config.RemoteSupabase:
		up, err := media.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket, cfg.RemoteTimeout)
		if err != nil {
			return nil, err
		}
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, up, cfg.RemoteTimeout), nil
	case config.RemotePostgres:
		var up media.Uploader
		if cfg.S3Bucket != "" && (cfg.S3Endpoint != "" || cfg.S3AccessKey != "") {
			s3up, err := media.NewS3Uploader(ctx, media.S3Options{
				Endpoint:      cfg.S3Endpoint,
				Region:        cfg.S3Region,
				Bucket:        cfg.S3Bucket,
				AccessKey:     cfg.S3AccessKey,
				SecretKey:     cfg.S3SecretKey,
				PublicBaseURL: cfg.S3PublicBaseURL,
				MaxRetries:    2,
			})
			if err != nil {
				return nil, err
			}
			up = s3up
		}
		return NewPostgres(cfg.PostgresDSN, up)
	default:
		return nil, fmt.Errorf("no remote backend configured")
	}
}

// broken stands in for a configured remote backend that could not be built.
type broken struct {
	name string
	err  error
}

func (b *broken) Name() string { return b.name }
func (b *broken) GetAllItems(context.Context) ([]model.MediaItem, error) {
	return []model.MediaItem{}, b.err
}
func (b *broken) SaveItem(context.Context, model.MediaItem) (model.MediaItem, error) {
	return model.MediaItem{}, b.err
}
func (b *broken) DeleteItem(context.Context, string) error { return b.err }
func (b *broken) Close() error { return nil }
