// internal/storage/endpoint.go
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// Response schemas of the custom endpoint. Every answer carries a status;
// get_all adds items and save adds the stored url.
var (
	statusSchema = mustSchema(`{"type":"object","required":["status"],"properties":{"status":{"type":"string"},"message":{"type":"string"}}}`)
	getAllSchema = mustSchema(`{"type":"object","required":["status"],"properties":{"status":{"type":"string"},
		"items":{"type":"array","items":{"type":"object","required":["id","app_id","type","url"],
		"properties":{"id":{"type":"string"},"app_id":{"type":"string"},"type":{"type":"string"},"url":{"type":"string"},
		"created_at":{"type":["string","number","null"]}}}}}}`)
	saveSchema = mustSchema(`{"type":"object","required":["status"],"properties":{"status":{"type":"string"},"url":{"type":"string"}}}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid endpoint schema: %v", err))
	}
	return schema
}

// endpointResponse is the union of every custom endpoint answer.
type endpointResponse struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Items   *[]itemRow `json:"items"` // nil when the key is absent
	URL     string     `json:"url"`
}

// endpoint speaks the action-based contract of a self-hosted PHP/MySQL server.
type endpoint struct {
	base       *url.URL
	httpClient *http.Client
}

// NewEndpoint returns a Store for the custom endpoint at rawURL.
func NewEndpoint(rawURL string, timeout time.Duration) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid custom API url %q", rawURL)
	}
	return &endpoint{base: u, httpClient: &http.Client{Timeout: timeout}}, nil
}

func (e *endpoint) Name() string { return "endpoint" }

func (e *endpoint) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

// actionURL adds action and extra query parameters to the configured url.
func (e *endpoint) actionURL(action string, extra url.Values) string {
	u := *e.base
	q := u.Query()
	q.Set("action", action)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// roundTrip sends req, validates the body against schema and requires status "success".
func (e *endpoint) roundTrip(req *http.Request, schema *gojsonschema.Schema) (endpointResponse, error) {
	var out endpointResponse

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("%w: endpoint: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("%w: endpoint: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, fmt.Errorf("%w: endpoint returned %d", ErrRemoteStatus, resp.StatusCode)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return out, fmt.Errorf("%w: %s", ErrBadResponse, strings.Join(errs, "; "))
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Status != "success" {
		msg := out.Message
		if msg == "" {
			msg = "status " + strconv.Quote(out.Status)
		}
		return out, fmt.Errorf("%w: %s", ErrRemoteStatus, msg)
	}
	return out, nil
}

func (e *endpoint) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.actionURL("get_all", nil), nil)
	if err != nil {
		return []model.MediaItem{}, err
	}
	resp, err := e.roundTrip(req, getAllSchema)
	if err != nil {
		return []model.MediaItem{}, err
	}

	if resp.Items == nil {
		return []model.MediaItem{}, fmt.Errorf("%w: get_all response carries no items", ErrBadResponse)
	}

	items := make([]model.MediaItem, 0, len(*resp.Items))
	for _, r := range *resp.Items {
		item, err := r.item()
		if err != nil {
			return []model.MediaItem{}, err
		}
		items = append(items, item)
	}
	sortNewestFirst(items)
	return items, nil
}

// SaveItem posts the item as multipart form data. Inline payloads travel as a
// file part named {id}.{ext}; remote urls are sent back as existing_url.
func (e *endpoint) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"action", "save"},
		{"id", item.ID},
		{"app_id", item.AppID},
		{"type", string(item.Type)},
		{"title", item.Title},
		{"description", item.Description},
		{"tags", string(encodeTags(item.Tags))},
		{"created_at", strconv.FormatInt(item.CreatedAt, 10)},
	}
	if item.ThumbnailURL != "" && !datauri.IsInline(item.ThumbnailURL) {
		fields = append(fields, [2]string{"thumbnail_url", item.ThumbnailURL})
	}
	if item.Width > 0 && item.Height > 0 {
		fields = append(fields,
			[2]string{"width", strconv.Itoa(item.Width)},
			[2]string{"height", strconv.Itoa(item.Height)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return model.MediaItem{}, err
		}
	}

	inline := datauri.IsInline(item.URL)
	if inline {
		mime, data, err := datauri.Parse(item.URL)
		if err != nil {
			return model.MediaItem{}, err
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, datauri.FileName(item.ID, item.Type)))
		h.Set("Content-Type", mime)
		part, err := w.CreatePart(h)
		if err != nil {
			return model.MediaItem{}, err
		}
		if _, err := part.Write(data); err != nil {
			return model.MediaItem{}, err
		}
	} else if err := w.WriteField("existing_url", item.URL); err != nil {
		return model.MediaItem{}, err
	}
	if err := w.Close(); err != nil {
		return model.MediaItem{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base.String(), &buf)
	if err != nil {
		return model.MediaItem{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.roundTrip(req, saveSchema)
	if err != nil {
		return model.MediaItem{}, err
	}

	saved := cloneItem(item)
	switch {
	case resp.URL != "":
		saved.URL = resp.URL
	case inline:
		// The server stored a file but did not say where
		return model.MediaItem{}, fmt.Errorf("%w: save response carries no url for uploaded file", ErrBadResponse)
	}
	return saved, nil
}

func (e *endpoint) DeleteItem(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.actionURL("delete", url.Values{"id": {id}}), nil)
	if err != nil {
		return err
	}
	_, err = e.roundTrip(req, statusSchema)
	return err
}
