// internal/storage/kv.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
)

// Keys used in the shared key-value file.
const (
	KeyItems     = "purrfect_items"
	KeyApps      = "purrfect_apps"
	KeyActiveApp = "purrfect_active_app"
	KeyGeminiKey = "gemini_api_key"
	KeySupaURL   = "supabase_url"
	KeySupaKey   = "supabase_key"
	KeyCustomAPI = "custom_api_url"
)

// KeyValue is a small JSON document persisted to a single file.
// Every write rewrites the file atomically and is checked against a byte quota,
// so running out of space shows up as ErrQuotaExceeded instead of a torn file.
type KeyValue struct {
	mu       sync.Mutex
	path     string                     // File location; empty keeps data in memory only
	maxBytes int64                      // Quota for the encoded document; 0 disables it
	data     map[string]json.RawMessage // Current contents
}

// OpenKeyValue loads the document at path, creating an empty one if the file is missing.
func OpenKeyValue(path string, maxBytes int64) (*KeyValue, error) {
	kv := &KeyValue{path: path, maxBytes: maxBytes, data: make(map[string]json.RawMessage)}
	if path == "" {
		return kv, nil
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return kv, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &kv.data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return kv, nil
}

// Get decodes the value stored under key into dst.
// It reports false when the key is absent.
func (kv *KeyValue) Get(key string, dst interface{}) (bool, error) {
	kv.mu.Lock()
	raw, ok := kv.data[key]
	kv.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (kv *KeyValue) GetString(key string) string {
	var s string
	if ok, err := kv.Get(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

// Set stores v under key. The document is left unchanged when the write fails.
func (kv *KeyValue) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	next := make(map[string]json.RawMessage, len(kv.data)+1)
	for k, v := range kv.data {
		next[k] = v
	}
	next[key] = raw
	if err := kv.commit(next); err != nil {
		return err
	}
	kv.data = next
	return nil
}

// Delete removes key. Removing a missing key is a no-op.
func (kv *KeyValue) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if _, ok := kv.data[key]; !ok {
		return nil
	}
	next := make(map[string]json.RawMessage, len(kv.data))
	for k, v := range kv.data {
		if k != key {
			next[k] = v
		}
	}
	if err := kv.commit(next); err != nil {
		return err
	}
	kv.data = next
	return nil
}

// Size returns the encoded size of the document in bytes.
func (kv *KeyValue) Size() int64 {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	doc, _ := json.Marshal(kv.data)
	return int64(len(doc))
}

// commit enforces the quota and writes doc to disk. Callers hold kv.mu.
func (kv *KeyValue) commit(doc map[string]json.RawMessage) error {
	encoded, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if kv.maxBytes > 0 && int64(len(encoded)) > kv.maxBytes {
		return fmt.Errorf("%w: %d bytes over a %d byte budget", ErrQuotaExceeded, len(encoded), kv.maxBytes)
	}
	if kv.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(kv.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := kv.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, kv.path); err != nil {
		return fmt.Errorf("replace %s: %w", kv.path, err)
	}
	return nil
}

// kvStore keeps all items as one JSON array under KeyItems.
type kvStore struct {
	mu sync.Mutex // Serializes read-modify-write of the items array
	kv *KeyValue
}

// NewKVStore returns a Store backed by the shared key-value document.
func NewKVStore(kv *KeyValue) Store {
	return &kvStore{kv: kv}
}

func (s *kvStore) Name() string { return "kv" }

func (s *kvStore) load() ([]model.MediaItem, error) {
	var items []model.MediaItem
	if _, err := s.kv.Get(KeyItems, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *kvStore) GetAllItems(ctx context.Context) ([]model.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return []model.MediaItem{}, err
	}
	if items == nil {
		items = []model.MediaItem{}
	}
	sortNewestFirst(items)
	return items, nil
}

func (s *kvStore) SaveItem(ctx context.Context, item model.MediaItem) (model.MediaItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return model.MediaItem{}, err
	}

	item = cloneItem(item)
	replaced := false
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append([]model.MediaItem{item}, items...)
	}

	if err := s.kv.Set(KeyItems, items); err != nil {
		return model.MediaItem{}, err
	}
	return item, nil
}

func (s *kvStore) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load()
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return nil
	}
	return s.kv.Set(KeyItems, kept)
}

func (s *kvStore) Close() error { return nil }
