// internal/storage/mapping.go
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// itemRow is the snake_case shape remote relational backends use for media_items.
// tags and created_at stay raw because backends disagree on their types.
type itemRow struct {
	ID           string          `json:"id"`
	AppID        string          `json:"app_id"`
	Type         string          `json:"type"`
	URL          string          `json:"url"`
	ThumbnailURL *string         `json:"thumbnail_url,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Tags         json.RawMessage `json:"tags"`
	CreatedAt    json.RawMessage `json:"created_at"`
	Width        flexInt         `json:"width,omitempty"`
	Height       flexInt         `json:"height,omitempty"`
}

// flexInt decodes a JSON number, a numeric string or null.
// PDO-backed endpoints return every column as a string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrBadResponse, s)
	}
	*f = flexInt(n)
	return nil
}

// rowFromItem converts an item to its snake_case row with tags as a JSON array.
func rowFromItem(item model.MediaItem) itemRow {
	row := itemRow{
		ID:          item.ID,
		AppID:       item.AppID,
		Type:        string(item.Type),
		URL:         item.URL,
		Title:       item.Title,
		Description: item.Description,
		Tags:        encodeTags(item.Tags),
		CreatedAt:   json.RawMessage(strconv.FormatInt(item.CreatedAt, 10)),
	}
	if item.ThumbnailURL != "" {
		row.ThumbnailURL = &item.ThumbnailURL
	}
	row.Width = flexInt(item.Width)
	row.Height = flexInt(item.Height)
	return row
}

// item converts a row back to the camelCase model.
func (r itemRow) item() (model.MediaItem, error) {
	tags, err := decodeTags(r.Tags)
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("item %s: %w", r.ID, err)
	}
	item := model.MediaItem{
		ID:          r.ID,
		AppID:       r.AppID,
		Type:        model.MediaType(strings.ToUpper(r.Type)),
		URL:         r.URL,
		Title:       r.Title,
		Description: r.Description,
		Tags:        tags,
		CreatedAt:   decodeCreatedAt(r.CreatedAt),
		Width:       int(r.Width),
		Height:      int(r.Height),
	}
	if r.ThumbnailURL != nil {
		item.ThumbnailURL = *r.ThumbnailURL
	}
	return item, nil
}

// encodeTags renders tags as a JSON array, never null.
func encodeTags(tags []string) json.RawMessage {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return b
}

// decodeTags accepts a JSON array, a JSON string holding a JSON array (text
// columns), or null. Anything else is a malformed row.
func decodeTags(raw []byte) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []string{}, nil
	}

	switch raw[0] {
	case '[':
		var tags []string
		if err := json.Unmarshal(raw, &tags); err != nil {
			return nil, fmt.Errorf("%w: tags: %v", ErrBadResponse, err)
		}
		if tags == nil {
			tags = []string{}
		}
		return tags, nil
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("%w: tags: %v", ErrBadResponse, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return []string{}, nil
		}
		if !strings.HasPrefix(text, "[") {
			return nil, fmt.Errorf("%w: tags text %q is not a JSON array", ErrBadResponse, text)
		}
		return decodeTags([]byte(text))
	default:
		return nil, fmt.Errorf("%w: unexpected tags value %s", ErrBadResponse, raw)
	}
}

// decodeCreatedAt accepts a JSON number or numeric string of epoch milliseconds.
// Unparseable values fall back to the current time so the item still lists.
func decodeCreatedAt(raw []byte) int64 {
	text := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return int64(f)
	}
	return time.Now().UnixMilli()
}
