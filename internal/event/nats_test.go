package event

import (
	"context"
	"testing"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	pub := NewPublisher("")
	if _, ok := pub.(noop); !ok {
		t.Fatalf("NewPublisher(\"\") got %T want noop", pub)
	}
	ctx := context.Background()
	if err := pub.PublishItemSaved(ctx, model.MediaItem{ID: "m1"}, "kv", false); err != nil {
		t.Errorf("PublishItemSaved: %v", err)
	}
	if err := pub.PublishItemDeleted(ctx, "m1", "kv", true); err != nil {
		t.Errorf("PublishItemDeleted: %v", err)
	}
	if err := pub.PublishProfileDeleted(ctx, model.AppProfile{ID: "app1"}, 3); err != nil {
		t.Errorf("PublishProfileDeleted: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewPublisherUnreachableFallsBack(t *testing.T) {
	pub := NewPublisher("nats://127.0.0.1:1")
	if _, ok := pub.(noop); !ok {
		t.Errorf("unreachable server got %T want noop", pub)
	}
}
