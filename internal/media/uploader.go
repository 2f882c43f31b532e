// Package media uploads inline media payloads to remote object stores.
package media

import (
	"context"
	"errors"
)

// Uploader stores a decoded data URI at path and returns its public address.
// Uploading to an existing path overwrites the object.
type Uploader interface {
	Upload(ctx context.Context, dataURI, path string) (string, error)
}

// ErrNotConfigured is returned by uploaders missing a bucket or credentials.
var ErrNotConfigured = errors.New("object store not configured")

// cacheControl matches the one hour browser cache the companion apps expect.
const cacheControl = "max-age=3600"
