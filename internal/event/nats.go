// internal/event/nats.go
// Package event publishes media lifecycle events to NATS JetStream.
// Companion apps and audit consumers subscribe to these instead of polling the backends.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// Subjects published by the admin service.
const (
	StreamName            = "PURRFECT_MEDIA"
	SubjectItemSaved      = "purrfect.items.saved"
	SubjectItemDeleted    = "purrfect.items.deleted"
	SubjectProfileDeleted = "purrfect.apps.deleted"
)

// Publisher is the event sink used by the storage chain and the controller.
type Publisher interface {
	PublishItemSaved(ctx context.Context, item model.MediaItem, backend string, degraded bool) error
	PublishItemDeleted(ctx context.Context, itemID, backend string, degraded bool) error
	PublishProfileDeleted(ctx context.Context, profile model.AppProfile, removedItems int) error
	Close() error
}

// ItemSaved is the payload of SubjectItemSaved.
// Inline payloads are stripped so events stay small.
type ItemSaved struct {
	Item     model.MediaItem `json:"item"`
	Backend  string          `json:"backend"`
	Degraded bool            `json:"degraded"` // Saved locally only
}

// ItemDeleted is the payload of SubjectItemDeleted.
type ItemDeleted struct {
	ID       string `json:"id"`
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// ProfileDeleted is the payload of SubjectProfileDeleted.
type ProfileDeleted struct {
	App          model.AppProfile `json:"app"`
	RemovedItems int              `json:"removedItems"`
}

// EventEnvelope represents the standard event envelope structure.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Also used as the JetStream message id
	Payload       interface{} `json:"payload"`
}

// noop is used when NATS is not configured or unreachable.
type noop struct{}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noop{} }

func (noop) PublishItemSaved(context.Context, model.MediaItem, string, bool) error { return nil }
func (noop) PublishItemDeleted(context.Context, string, string, bool) error { return nil }
func (noop) PublishProfileDeleted(context.Context, model.AppProfile, int) error { return nil }
func (noop) Close() error { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	metrics *metrics.Metrics
}

// NewPublisher connects to url and makes sure the media stream exists.
// An empty url, or any connection problem, yields the no-op publisher.
func NewPublisher(url string) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("purrfect-admin"), nats.Timeout(2*time.Second))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	if err := initStream(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	return &natsPub{nc: nc, js: js, metrics: metrics.NewMetrics()}
}

// initStream creates the media stream if it is missing.
// Duplicate publishes inside the window are dropped by JetStream using the message id.
func initStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"purrfect.items.*", "purrfect.apps.*"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Discard:    nats.DiscardOld,
		Storage:    nats.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create %s stream: %w", StreamName, err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) PublishItemSaved(ctx context.Context, item model.MediaItem, backend string, degraded bool) error {
	if datauri.IsInline(item.URL) {
		item.URL = ""
	}
	if datauri.IsInline(item.ThumbnailURL) {
		item.ThumbnailURL = ""
	}
	return p.publish(ctx, SubjectItemSaved, ItemSaved{Item: item, Backend: backend, Degraded: degraded})
}

func (p *natsPub) PublishItemDeleted(ctx context.Context, itemID, backend string, degraded bool) error {
	return p.publish(ctx, SubjectItemDeleted, ItemDeleted{ID: itemID, Backend: backend, Degraded: degraded})
}

func (p *natsPub) PublishProfileDeleted(ctx context.Context, profile model.AppProfile, removedItems int) error {
	return p.publish(ctx, SubjectProfileDeleted, ProfileDeleted{App: profile, RemovedItems: removedItems})
}

func (p *natsPub) publish(ctx context.Context, subject string, payload interface{}) error {
	envelope := EventEnvelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, b, nats.Context(ctx), nats.MsgId(envelope.CorrelationID))
	p.metrics.EventPublishTotal.WithLabelValues(subject, metrics.Status(err)).Inc()
	return err
}
