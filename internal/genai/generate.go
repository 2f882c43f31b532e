package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// maxVideoBytes bounds a downloaded video.
const maxVideoBytes = 200 << 20

// metadataSchema is sent as the response schema and used to validate the reply.
const metadataSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string", "description": "A catchy, short title for the wallpaper or video."},
		"description": {"type": "string", "description": "A warm, engaging description suitable for the app audience."},
		"tags": {"type": "array", "items": {"type": "string"}, "description": "5-7 relevant tags for search functionality."}
	},
	"required": ["title", "description", "tags"]
}`

var metadataValidator = mustSchema(metadataSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid metadata schema: %v", err))
	}
	return s
}

// GenerateMetadata asks the text model for a title, description and tags for
// an inline image or video frame, in the voice of app.
func (c *Client) GenerateMetadata(ctx context.Context, dataURI string, app model.AppProfile) (out model.AiMetadataResponse, err error) {
	defer c.observe("metadata", time.Now(), &err)

	mime, data, err := datauri.Parse(dataURI)
	if err != nil {
		return out, err
	}

	name := firstNonEmpty(app.Name, "General Wallpaper App")
	desc := firstNonEmpty(app.Description, "mobile wallpapers")
	prompt := fmt.Sprintf("Analyze this image. It is content for an Android application named '%s' which is about: %s. "+
		"Generate a creative title, a short description, and relevant tags in JSON format that fits this specific app's theme.", name, desc)
	system := fmt.Sprintf("You are a content manager for '%s'. Your tone should match the app's niche "+
		"(e.g., funny for memes, serene for nature, cute for pets).", name)

	req := generateRequest{
		Contents: []content{{Parts: []part{
			{InlineData: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(data)}},
			{Text: prompt},
		}}},
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   json.RawMessage(metadataSchema),
		},
	}
	resp, err := c.generate(ctx, TextModel, req)
	if err != nil {
		return out, err
	}

	text := resp.text()
	if text == "" {
		return out, ErrNoContent
	}
	result, err := metadataValidator.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return out, fmt.Errorf("%w: metadata is not JSON: %v", ErrFailed, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return out, fmt.Errorf("%w: %s", ErrFailed, strings.Join(errs, "; "))
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return out, nil
}

// CreativePrompt asks the text model for a fresh generation prompt that fits app.
func (c *Client) CreativePrompt(ctx context.Context, kind model.MediaType, app model.AppProfile) (prompt string, err error) {
	defer c.observe("prompt", time.Now(), &err)

	name := firstNonEmpty(app.Name, "Mobile Wallpaper")
	keywords := firstNonEmpty(app.AIContext, "aesthetic, beautiful, 4k")

	var system string
	if kind == model.MediaVideo {
		system = fmt.Sprintf("You are an expert prompt engineer for AI Video Generators. The user is managing an app called '%s' "+
			"focusing on: %s. Create a single, descriptive prompt for a short, looping vertical video that fits this specific app theme. "+
			"Focus on movement and atmosphere. Keep it under 60 words. Output ONLY the prompt text.", name, keywords)
	} else {
		system = fmt.Sprintf("You are an expert prompt engineer for AI Image Generators. The user is managing an app called '%s' "+
			"focusing on: %s. Create a single, highly detailed, artistic, and visually stunning prompt for a mobile wallpaper "+
			"that fits this specific app theme perfectly. Keep it under 60 words. Output ONLY the prompt text.", name, keywords)
	}

	temperature := 1.2
	resp, err := c.generate(ctx, TextModel, generateRequest{
		Contents:          []content{textContent(fmt.Sprintf("Generate a random, creative prompt for the '%s' app now.", name))},
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		GenerationConfig:  &generationConfig{Temperature: &temperature},
	})
	if err != nil {
		return "", err
	}
	return resp.text(), nil
}

// GenerateWallpaper renders a 9:16 2K image for prompt and returns it as a PNG data URI.
func (c *Client) GenerateWallpaper(ctx context.Context, prompt string) (uri string, err error) {
	defer c.observe("wallpaper", time.Now(), &err)

	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", ErrFailed)
	}
	enhanced := fmt.Sprintf("Ultra-realistic 2K mobile wallpaper (9:16 vertical): %s. "+
		"Masterpiece, hyper-detailed, cinematic lighting, sharp focus, 8k resolution.", prompt)

	resp, err := c.generate(ctx, ImageModel, generateRequest{
		Contents:         []content{textContent(enhanced)},
		GenerationConfig: &generationConfig{ImageConfig: &imageConfig{AspectRatio: "9:16", ImageSize: "2K"}},
	})
	if err != nil {
		return "", err
	}
	img := resp.inline()
	if img == nil {
		return "", fmt.Errorf("%w: no image data found in response", ErrNoContent)
	}
	return "data:image/png;base64," + img.Data, nil
}

// Wire types of the long-running video endpoint.
type (
	videoRequest struct {
		Instances  []videoInstance `json:"instances"`
		Parameters videoParameters `json:"parameters"`
	}

	videoInstance struct {
		Prompt string `json:"prompt"`
	}

	videoParameters struct {
		AspectRatio string `json:"aspectRatio"`
		Resolution  string `json:"resolution"`
		SampleCount int    `json:"sampleCount"`
	}

	operationError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	generatedSample struct {
		Video struct {
			URI string `json:"uri"`
		} `json:"video"`
	}

	operationResponse struct {
		GenerateVideoResponse struct {
			GeneratedSamples []generatedSample `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	}

	operation struct {
		Name     string            `json:"name"`
		Done     bool              `json:"done"`
		Error    *operationError   `json:"error,omitempty"`
		Response operationResponse `json:"response"`
	}
)

var errNotDone = errors.New("video operation still running")

// GenerateVideo starts a 720p 9:16 video for prompt, polls the operation until
// it completes, downloads the result and returns it as an MP4 data URI.
func (c *Client) GenerateVideo(ctx context.Context, prompt string) (uri string, err error) {
	defer c.observe("video", time.Now(), &err)

	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is empty", ErrFailed)
	}
	enhanced := fmt.Sprintf("A short, looping cinematic vertical video: %s. "+
		"High quality, slow motion, photorealistic, suitable for phone live wallpaper.", prompt)

	var op operation
	err = c.post(ctx, "models/"+VideoModel+":predictLongRunning", videoRequest{
		Instances:  []videoInstance{{Prompt: enhanced}},
		Parameters: videoParameters{AspectRatio: "9:16", Resolution: "720p", SampleCount: 1},
	}, &op)
	if err != nil {
		return "", err
	}
	if op.Name == "" && !op.Done {
		return "", fmt.Errorf("%w: operation has no name", ErrFailed)
	}
	c.logger.Info("video generation started", "operation", op.Name)

	check := func() error {
		if op.Done {
			return nil
		}
		var next operation
		if err := c.get(ctx, op.Name, &next); err != nil {
			if errors.Is(err, ErrMissingKey) {
				return backoff.Permanent(err)
			}
			return err
		}
		if next.Name == "" {
			next.Name = op.Name
		}
		op = next
		if !op.Done {
			c.logger.Debug("waiting for video generation", "operation", op.Name)
			return errNotDone
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.poll), c.maxPolls), ctx)
	if err := backoff.Retry(check, b); err != nil {
		if errors.Is(err, errNotDone) {
			return "", fmt.Errorf("%w: video not ready after %d checks", ErrFailed, c.maxPolls)
		}
		return "", err
	}

	if op.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrFailed, op.Error.Message)
	}
	samples := op.Response.GenerateVideoResponse.GeneratedSamples
	if len(samples) == 0 || samples[0].Video.URI == "" {
		return "", fmt.Errorf("%w: video generation completed but no URI returned", ErrNoContent)
	}
	return c.download(ctx, samples[0].Video.URI)
}

// download fetches a generated file. The file service requires the API key as
// a query parameter.
func (c *Client) download(ctx context.Context, rawURI string) (string, error) {
	key, err := c.apiKey()
	if err != nil {
		return "", err
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("%w: bad video uri: %v", ErrFailed, err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download video: %v", ErrFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: failed to download generated video: status %d", ErrFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: download video: %v", ErrFailed, err)
	}
	if len(data) > maxVideoBytes {
		return "", fmt.Errorf("%w: video exceeds %d bytes", ErrFailed, maxVideoBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "video/") {
		mime = "video/mp4"
	}
	return datauri.Encode(mime, data), nil
}

func (c *Client) observe(kind string, started time.Time, err *error) {
	c.metrics.ObserveGeneration(kind, started, *err)
	if *err != nil {
		c.logger.Warn("generation failed", "kind", kind, "error", *err)
	}
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
