// Package genai talks to the Gemini REST API to describe uploaded media and to
// generate wallpapers and looping videos for an app profile.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
)

// Models used for each call.
const (
	TextModel  = "gemini-2.5-flash"
	ImageModel = "gemini-3-pro-image-preview"
	VideoModel = "veo-3.1-fast-generate-preview"
)

var (
	ErrMissingKey = errors.New("API key is missing, add it in Settings")
	ErrFailed     = errors.New("generation failed")
	ErrNoContent  = errors.New("generation returned no content")
)

// KeySource returns the API key to use for the next call.
// Keys can be changed in settings at runtime, so they are not captured once.
type KeySource func() string

// Client is a Gemini REST client.
type Client struct {
	baseURL    string
	key        KeySource
	poll       time.Duration
	maxPolls   uint64
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithMaxPolls caps how many times a video operation is polled.
func WithMaxPolls(n uint64) Option { return func(c *Client) { c.maxPolls = n } }

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a client for baseURL (e.g. https://generativelanguage.googleapis.com/v1beta).
// poll is the interval between video operation checks.
func New(baseURL string, key KeySource, poll time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		poll:       poll,
		maxPolls:   120,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		metrics:    metrics.NewMetrics(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) apiKey() (string, error) {
	if c.key == nil {
		return "", ErrMissingKey
	}
	k := strings.TrimSpace(c.key())
	if k == "" {
		return "", ErrMissingKey
	}
	return k, nil
}

// Wire types of the generateContent endpoint.
type (
	inlineData struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inlineData,omitempty"`
	}

	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	imageConfig struct {
		AspectRatio string `json:"aspectRatio,omitempty"`
		ImageSize   string `json:"imageSize,omitempty"`
	}

	generationConfig struct {
		ResponseMimeType string          `json:"responseMimeType,omitempty"`
		ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
		Temperature      *float64        `json:"temperature,omitempty"`
		ImageConfig      *imageConfig    `json:"imageConfig,omitempty"`
	}

	generateRequest struct {
		Contents          []content         `json:"contents"`
		SystemInstruction *content          `json:"systemInstruction,omitempty"`
		GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	}

	generateResponse struct {
		Candidates []struct {
			Content      content `json:"content"`
			FinishReason string  `json:"finishReason"`
		} `json:"candidates"`
	}

	apiError struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
)

// post sends body as JSON to {baseURL}/{path} and decodes the answer into out.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	key, err := c.apiKey()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)
	return c.do(req, out)
}

// get fetches {baseURL}/{path} and decodes the answer into out.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	key, err := c.apiKey()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", key)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: %d %s", ErrFailed, resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("%w: status %d", ErrFailed, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrFailed, err)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, model string, req generateRequest) (generateResponse, error) {
	var resp generateResponse
	err := c.post(ctx, "models/"+model+":generateContent", req, &resp)
	return resp, err
}

// text joins the text parts of the first candidate.
func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

// inline returns the first inline binary part of the first candidate.
func (r generateResponse) inline() *inlineData {
	if len(r.Candidates) == 0 {
		return nil
	}
	for _, p := range r.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			return p.InlineData
		}
	}
	return nil
}

func textContent(s string) content {
	return content{Parts: []part{{Text: s}}}
}
