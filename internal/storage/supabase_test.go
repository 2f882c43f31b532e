package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

type stubUploader struct {
	paths []string
	err   error
}

func (u *stubUploader) Upload(_ context.Context, _ string, path string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, path)
	return "https://cdn.example/" + path, nil
}

// fakePostgREST serves the media_items table with tags stored as a text column.
func fakePostgREST(t *testing.T) *httptest.Server {
	var mu sync.Mutex
	rows := map[string]map[string]interface{}{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.Header.Get("apikey") != "anon" || r.Header.Get("Authorization") != "Bearer anon" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/rest/v1/media_items" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			out := make([]map[string]interface{}, 0, len(rows))
			for _, row := range rows {
				out = append(out, row)
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			if !strings.Contains(r.Header.Get("Prefer"), "merge-duplicates") || r.URL.Query().Get("on_conflict") != "id" {
				w.WriteHeader(http.StatusConflict)
				return
			}
			var in []map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("decode body: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			for _, row := range in {
				tags, _ := json.Marshal(row["tags"])
				row["tags"] = string(tags)
				rows[row["id"].(string)] = row
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(in)
		case http.MethodDelete:
			delete(rows, strings.TrimPrefix(r.URL.Query().Get("id"), "eq."))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
}

func TestSupabaseLifecycle(t *testing.T) {
	srv := fakePostgREST(t)
	defer srv.Close()

	up := &stubUploader{}
	s := NewSupabase(srv.URL+"/", "anon", up, 5*time.Second)
	ctx := context.Background()

	saved, err := s.SaveItem(ctx, model.MediaItem{
		ID: "m1", AppID: "app1", Type: model.MediaVideo, URL: "data:video/mp4;base64,AAAA",
		Tags: []string{"cat"}, CreatedAt: 2000,
	})
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if saved.URL != "https://cdn.example/app1/m1.mp4" {
		t.Errorf("saved URL = %q", saved.URL)
	}
	if len(up.paths) != 1 || up.paths[0] != "app1/m1.mp4" {
		t.Errorf("upload paths = %v", up.paths)
	}

	if _, err := s.SaveItem(ctx, model.MediaItem{ID: "m2", AppID: "app1", Type: model.MediaImage, URL: "https://x/y.png", CreatedAt: 3000}); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if len(up.paths) != 1 {
		t.Error("remote url must not be uploaded again")
	}

	items, err := s.GetAllItems(ctx)
	if err != nil {
		t.Fatalf("GetAllItems: %v", err)
	}
	if len(items) != 2 || items[0].ID != "m2" || items[1].ID != "m1" {
		t.Fatalf("unexpected items %+v", items)
	}
	if len(items[1].Tags) != 1 || items[1].Tags[0] != "cat" {
		t.Errorf("tags = %v", items[1].Tags)
	}
	if len(items[0].Tags) != 0 {
		t.Errorf("empty tags came back as %v", items[0].Tags)
	}

	if err := s.DeleteItem(ctx, "m1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	items, _ = s.GetAllItems(ctx)
	if len(items) != 1 {
		t.Errorf("got %d items after delete", len(items))
	}
}

func TestSupabaseUploadFailureStopsSave(t *testing.T) {
	posted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "anon", &stubUploader{err: errors.New("bucket missing")}, time.Second)
	_, err := s.SaveItem(context.Background(), model.MediaItem{ID: "m1", AppID: "a", Type: model.MediaImage, URL: "data:image/png;base64,AAAA"})
	if !errors.Is(err, ErrUpload) {
		t.Fatalf("SaveItem() error = %v, want ErrUpload", err)
	}
	if posted {
		t.Error("metadata written despite failed upload")
	}
}

func TestSupabaseRejectedKey(t *testing.T) {
	srv := fakePostgREST(t)
	defer srv.Close()

	s := NewSupabase(srv.URL, "wrong", nil, time.Second)
	if _, err := s.GetAllItems(context.Background()); !errors.Is(err, ErrRemoteStatus) {
		t.Fatalf("GetAllItems() error = %v, want ErrRemoteStatus", err)
	}
}
