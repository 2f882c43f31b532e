// internal/datauri/datauri.go
// Package datauri is the single place where inline base64 payloads are encoded and decoded.
// Both the upload helpers and the storage adapters go through it.
package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// ErrNotInline is returned when a value is not a base64 data URI.
var ErrNotInline = errors.New("not an inline data uri")

const prefix = "data:"

// IsInline reports whether url carries an inline payload rather than a remote address.
func IsInline(url string) bool {
	return strings.HasPrefix(url, prefix)
}

// Parse splits a base64 data URI into its MIME type and decoded bytes.
// When the header carries no MIME type the bytes are sniffed; unknown content
// falls back to image/png.
func Parse(uri string) (string, []byte, error) {
	if !IsInline(uri) {
		return "", nil, ErrNotInline
	}
	header, payload, ok := strings.Cut(uri[len(prefix):], ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data uri: missing payload separator")
	}
	mime, params, _ := strings.Cut(header, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, fmt.Errorf("malformed data uri: only base64 payloads are supported")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some producers strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, fmt.Errorf("malformed data uri: %w", err)
		}
	}

	if mime == "" {
		mime = Sniff(data)
	}
	return mime, data, nil
}

// Encode builds a base64 data URI.
func Encode(mime string, data []byte) string {
	if mime == "" {
		mime = Sniff(data)
	}
	return prefix + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Sniff guesses the MIME type of data from its magic bytes.
func Sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "image/png"
	}
	return kind.MIME.Value
}

// Extension returns the file extension used for stored objects of the given type.
func Extension(t model.MediaType) string {
	if t == model.MediaVideo {
		return "mp4"
	}
	return "png"
}

// ObjectPath returns the object store path for an item: {appId}/{itemId}.{ext}
func ObjectPath(appID, itemID string, t model.MediaType) string {
	return fmt.Sprintf("%s/%s.%s", appID, itemID, Extension(t))
}

// FileName returns the upload file name for an item: {itemId}.{ext}
func FileName(itemID string, t model.MediaType) string {
	return itemID + "." + Extension(t)
}
