// Package conformance verifies that a storage adapter honours the Store contract
// the fallback chain relies on.
package conformance

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

// Opener returns a fresh store for one subtest. Stores that are shared with
// other data are fine: the harness only looks at items it created.
type Opener func(t *testing.T) storage.Store

// Harness runs the Store contract suite against one adapter.
type Harness struct {
	name   string
	open   Opener
	prefix string
}

// NewHarness creates a harness for the adapter that open builds.
func NewHarness(name string, open Opener) *Harness {
	return &Harness{
		name:   name,
		open:   open,
		prefix: "conf_" + strings.ToLower(ulid.Make().String()) + "_",
	}
}

// RunConformanceTests runs the full contract suite.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("Name", h.testName)
	t.Run("SaveAndRead", h.testSaveAndRead)
	t.Run("Upsert", h.testUpsert)
	t.Run("NewestFirst", h.testNewestFirst)
	t.Run("TagShapes", h.testTagShapes)
	t.Run("IdempotentDelete", h.testIdempotentDelete)
	t.Run("ReturnedCopies", h.testReturnedCopies)
}

func (h *Harness) store(t *testing.T) storage.Store {
	t.Helper()
	s := h.open(t)
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close %s: %v", h.name, err)
		}
	})
	return s
}

func (h *Harness) item(suffix string, createdAt int64) model.MediaItem {
	return model.MediaItem{
		ID:          h.prefix + suffix,
		AppID:       "app_conformance",
		Type:        model.MediaImage,
		URL:         "https://cdn.example/" + suffix + ".png",
		Title:       "Item " + suffix,
		Description: "conformance item",
		Tags:        []string{"cat", "wallpaper"},
		CreatedAt:   createdAt,
	}
}

// owned returns the items this harness created, in store order.
func (h *Harness) owned(t *testing.T, s storage.Store) []model.MediaItem {
	t.Helper()
	items, err := s.GetAllItems(context.Background())
	if err != nil {
		t.Fatalf("%s GetAllItems: %v", h.name, err)
	}
	if items == nil {
		t.Fatalf("%s GetAllItems returned a nil slice", h.name)
	}
	var out []model.MediaItem
	for _, it := range items {
		if strings.HasPrefix(it.ID, h.prefix) {
			out = append(out, it)
		}
	}
	return out
}

func (h *Harness) cleanup(t *testing.T, s storage.Store, ids ...string) {
	t.Cleanup(func() {
		for _, id := range ids {
			_ = s.DeleteItem(context.Background(), h.prefix+id)
		}
	})
}

func (h *Harness) testName(t *testing.T) {
	if h.store(t).Name() == "" {
		t.Error("store has an empty name")
	}
}

func (h *Harness) testSaveAndRead(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()
	h.cleanup(t, s, "a")

	in := h.item("a", time.Now().UnixMilli())
	in.ThumbnailURL = "https://cdn.example/a-thumb.png"
	in.Width, in.Height = 1080, 1920
	saved, err := s.SaveItem(ctx, in)
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if saved.ID != in.ID || saved.URL == "" {
		t.Fatalf("saved = %+v", saved)
	}

	got := h.owned(t, s)
	if len(got) != 1 {
		t.Fatalf("read %d items, want 1", len(got))
	}
	it := got[0]
	if it.AppID != in.AppID || it.Type != in.Type || it.Title != in.Title || it.Description != in.Description {
		t.Errorf("read back %+v, want %+v", it, in)
	}
	if it.CreatedAt != in.CreatedAt {
		t.Errorf("createdAt = %d, want %d", it.CreatedAt, in.CreatedAt)
	}
	if fmt.Sprint(it.Tags) != fmt.Sprint(in.Tags) {
		t.Errorf("tags = %v, want %v", it.Tags, in.Tags)
	}
}

func (h *Harness) testUpsert(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()
	h.cleanup(t, s, "u")

	first := h.item("u", 1000)
	if _, err := s.SaveItem(ctx, first); err != nil {
		t.Fatal(err)
	}
	edited := first
	edited.Title = "Edited"
	edited.Tags = []string{"only"}
	if _, err := s.SaveItem(ctx, edited); err != nil {
		t.Fatal(err)
	}

	got := h.owned(t, s)
	if len(got) != 1 {
		t.Fatalf("upsert produced %d items", len(got))
	}
	if got[0].Title != "Edited" || len(got[0].Tags) != 1 || got[0].CreatedAt != 1000 {
		t.Errorf("after upsert = %+v", got[0])
	}
}

func (h *Harness) testNewestFirst(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()
	h.cleanup(t, s, "old", "mid", "new")

	for _, it := range []model.MediaItem{h.item("mid", 2000), h.item("old", 1000), h.item("new", 3000)} {
		if _, err := s.SaveItem(ctx, it); err != nil {
			t.Fatal(err)
		}
	}
	got := h.owned(t, s)
	var ids []string
	for _, it := range got {
		ids = append(ids, strings.TrimPrefix(it.ID, h.prefix))
	}
	if strings.Join(ids, ",") != "new,mid,old" {
		t.Errorf("order = %v, want new,mid,old", ids)
	}
}

func (h *Harness) testTagShapes(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()
	cases := map[string][]string{
		"none":   {},
		"one":    {"solo"},
		"quoted": {`say "meow"`, "a,b"},
	}
	for suffix := range cases {
		h.cleanup(t, s, "tags_"+suffix)
	}

	for suffix, tags := range cases {
		it := h.item("tags_"+suffix, 500)
		it.Tags = tags
		if _, err := s.SaveItem(ctx, it); err != nil {
			t.Fatalf("save %s: %v", suffix, err)
		}
	}
	for _, it := range h.owned(t, s) {
		want := cases[strings.TrimPrefix(it.ID, h.prefix+"tags_")]
		if it.Tags == nil {
			t.Errorf("%s: tags decoded as nil", it.ID)
			continue
		}
		if fmt.Sprintf("%q", it.Tags) != fmt.Sprintf("%q", want) {
			t.Errorf("%s: tags = %q, want %q", it.ID, it.Tags, want)
		}
	}
}

func (h *Harness) testIdempotentDelete(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()

	if _, err := s.SaveItem(ctx, h.item("d", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteItem(ctx, h.prefix+"d"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if err := s.DeleteItem(ctx, h.prefix+"d"); err != nil {
		t.Fatalf("second DeleteItem: %v", err)
	}
	if err := s.DeleteItem(ctx, h.prefix+"never-saved"); err != nil {
		t.Fatalf("DeleteItem of a missing id: %v", err)
	}
	if got := h.owned(t, s); len(got) != 0 {
		t.Errorf("%d items left after delete", len(got))
	}
}

func (h *Harness) testReturnedCopies(t *testing.T) {
	s := h.store(t)
	ctx := context.Background()
	h.cleanup(t, s, "c")

	if _, err := s.SaveItem(ctx, h.item("c", 1)); err != nil {
		t.Fatal(err)
	}
	first := h.owned(t, s)
	first[0].Tags[0] = "mutated"
	if again := h.owned(t, s); again[0].Tags[0] != "cat" {
		t.Errorf("store shares tag slices with callers: %v", again[0].Tags)
	}
}
