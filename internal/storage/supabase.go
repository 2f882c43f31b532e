// internal/storage/supabase.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/media"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// supabase stores rows in a hosted PostgREST table and binaries in Supabase Storage.
type supabase struct {
	baseURL    string // Project URL without trailing slash
	key        string
	uploader   media.Uploader
	httpClient *http.Client
}

// NewSupabase returns a Store for the media_items table of the project at baseURL.
func NewSupabase(baseURL, key string, uploader media.Uploader, timeout time.Duration) Store {
	return &supabase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		uploader:   uploader,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *supabase) Name() string { return "supabase" }

func (s *supabase) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

func (s *supabase) tableURL(query url.Values) string {
	return s.baseURL + "/rest/v1/media_items?" + query.Encode()
}

// do sends a PostgREST request and decodes a JSON array response into out.
func (s *supabase) do(ctx context.Context, method, target string, body interface{}, prefer string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: supabase %s: %v", ErrUnavailable, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: supabase %s returned %d: %s", ErrRemoteStatus, method, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func (s *supabase) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	var rows []itemRow
	q := url.Values{"select": {"*"}, "order": {"created_at.desc"}}
	if err := s.do(ctx, http.MethodGet, s.tableURL(q), nil, "", &rows); err != nil {
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
	sortNewestFirst(items)
	return items, nil
}

func (s *supabase) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	item, err := uploadInline(ctx, s.uploader, item)
	if err != nil {
		return model.MediaItem{}, err
	}

	var rows []itemRow
	q := url.Values{"on_conflict": {"id"}}
	err = s.do(ctx, http.MethodPost, s.tableURL(q), []itemRow{rowFromItem(item)},
		"resolution=merge-duplicates,return=representation", &rows)
	if err != nil {
		return model.MediaItem{}, err
	}
	if len(rows) > 0 {
		saved, err := rows[0].item()
		if err != nil {
			return model.MediaItem{}, err
		}
		return saved, nil
	}
	return cloneItem(item), nil
}

func (s *supabase) DeleteItem(ctx context.Context, id string) error {
	q := url.Values{"id": {"eq." + id}}
	return s.do(ctx, http.MethodDelete, s.tableURL(q), nil, "return=minimal", nil)
}
