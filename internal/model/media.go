// internal/model/media.go
// Package model defines the data structures used throughout the admin service.
// These structures represent the core domain objects for app profiles and media items.
package model

import (
	"fmt"
	"strings"
)

// MediaType identifies the kind of asset a MediaItem holds.
// It is fixed at creation; changing the type means creating a new item.
type MediaType string

const (
	MediaImage MediaType = "IMAGE" // Still wallpaper
	MediaVideo MediaType = "VIDEO" // Short looping video
)

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	return t == MediaImage || t == MediaVideo
}

// ParseMediaType converts a case-insensitive string into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	t := MediaType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown media type %q", s)
	}
	return t, nil
}

// AppProfile represents a tenant of media items.
// Every MediaItem belongs to exactly one profile, and at least one profile always exists.
type AppProfile struct {
	ID          string `json:"id"`          // Opaque identifier, immutable after creation
	Name        string `json:"name"`        // Display name (e.g. "Cat Wallpapers")
	Description string `json:"description"` // Short description of the app niche
	AIContext   string `json:"aiContext"`   // Keywords passed to generation prompts
}

// MediaItem represents one stored image or video together with its metadata.
// URL holds either an inline data URI or a resolved remote address depending on the backend.
type MediaItem struct {
	ID           string    `json:"id"`                     // Unique item identifier
	AppID        string    `json:"appId"`                  // Owning AppProfile.ID
	Type         MediaType `json:"type"`                   // IMAGE or VIDEO
	URL          string    `json:"url"`                    // Data URI or public URL
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"` // Preview frame for videos
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Tags         []string  `json:"tags"`                   // Ordered, duplicates allowed
	CreatedAt    int64     `json:"createdAt"`              // Epoch milliseconds, never changed by edits
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
}

// MediaDraft carries the fields an upload or edit form submits.
// Identity fields (id, createdAt) are never taken from a draft.
type MediaDraft struct {
	AppID        string    `json:"appId"` // Used only when creating
	Type         MediaType `json:"type"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Tags         []string  `json:"tags"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
}

// Apply overlays the draft's mutable fields onto item and returns the result.
// ID, AppID and CreatedAt of item are left untouched.
func (d MediaDraft) Apply(item MediaItem) MediaItem {
	item.Type = d.Type
	item.URL = d.URL
	item.ThumbnailURL = d.ThumbnailURL
	item.Title = d.Title
	item.Description = d.Description
	item.Tags = append([]string{}, d.Tags...)
	item.Width = d.Width
	item.Height = d.Height
	return item
}

// Validate checks the fields every save needs.
func (d MediaDraft) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("invalid media type %q", d.Type)
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// AiMetadataResponse is the transient result of an analysis call.
// It is used to prefill a draft and never persisted on its own.
type AiMetadataResponse struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// APIPreview is the JSON document a companion app would read for one profile.
type APIPreview struct {
	Source  string      `json:"source"`
	Warning string      `json:"warning,omitempty"`
	App     AppProfile  `json:"app"`
	Count   int         `json:"count"`
	Items   []MediaItem `json:"items"`
}
