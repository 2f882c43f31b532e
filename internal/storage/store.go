// internal/storage/store.go
// Package storage implements the media item persistence adapters and the
// backend selection chain that falls back from a remote backend to the local one.
package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrQuotaExceeded = errors.New("local storage quota exceeded")    // Key-value write would exceed its byte budget
	ErrUnavailable   = errors.New("storage backend unavailable")     // Backend could not be opened or reached
	ErrUpload        = errors.New("object upload failed")            // Binary was not stored; metadata was not written
	ErrRemoteStatus  = errors.New("remote backend reported failure") // Remote answered with a non-success status
	ErrBadResponse   = errors.New("malformed backend response")      // Remote answered with an unexpected shape
)

// Store is the contract every persistence adapter implements.
type Store interface {
	// Name identifies the concrete backend in logs, metrics and save results.
	Name() string

	// GetAllItems returns every item, newest first by CreatedAt.
	GetAllItems(ctx context.Context) ([]model.MediaItem, error)

	// SaveItem inserts or replaces the item with the same ID.
	// The returned item carries the URL that was actually persisted, which may be
	// a resolved remote address in place of an inline payload.
	SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error)

	// DeleteItem removes the metadata record. Deleting a missing id is not an error.
	// Binary objects in remote object storage are left in place.
	DeleteItem(ctx context.Context, id string) error

	// Close releases connections or files held by the adapter.
	Close() error
}

// sortNewestFirst orders items by CreatedAt descending, breaking ties by ID so
// the order is stable across backends.
func sortNewestFirst(items []model.MediaItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
}

// cloneItem copies an item so callers cannot mutate stored slices.
func cloneItem(item model.MediaItem) model.MediaItem {
	item.Tags = append([]string{}, item.Tags...)
	return item
}
