// internal/media/supabase.go
// Supabase Storage uploader speaking the Storage REST API directly.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
)

// SupabaseStorage uploads objects into one public Supabase Storage bucket.
type SupabaseStorage struct {
	baseURL    string // Project URL without trailing slash
	key        string // anon or service key
	bucket     string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewSupabaseStorage creates an uploader for bucket on the project at baseURL.
func NewSupabaseStorage(baseURL, key, bucket string, timeout time.Duration) (*SupabaseStorage, error) {
	if baseURL == "" || key == "" || bucket == "" {
		return nil, ErrNotConfigured
	}
	return &SupabaseStorage{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics.NewMetrics(),
	}, nil
}

// Upload stores the decoded payload at path, replacing any existing object.
func (s *SupabaseStorage) Upload(ctx context.Context, dataURI, path string) (string, error) {
	url, err := s.upload(ctx, dataURI, path)
	s.metrics.UploadTotal.WithLabelValues("supabase", metrics.Status(err)).Inc()
	return url, err
}

func (s *SupabaseStorage) upload(ctx context.Context, dataURI, path string) (string, error) {
	mime, data, err := datauri.Parse(dataURI)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, escapePath(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("Content-Type", mime)
	req.Header.Set("Cache-Control", cacheControl)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("supabase storage upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("supabase storage upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return s.PublicURL(path), nil
}

// PublicURL returns the public address of the object at path.
func (s *SupabaseStorage) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, escapePath(path))
}
