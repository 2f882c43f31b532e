// Package settings persists admin preferences in the shared key-value document:
// app profiles, the active profile, remote backend overrides and the AI key.
package settings

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

var (
	ErrProfileNotFound = errors.New("app profile not found")
	ErrLastProfile     = errors.New("cannot delete the last app profile")
	ErrInvalidProfile  = errors.New("invalid app profile")
)

// DefaultProfile seeds an empty profile list.
var DefaultProfile = model.AppProfile{
	ID:          "app_cat_default",
	Name:        "Cat Wallpapers",
	Description: "A collection of cute, funny and artistic cat wallpapers.",
	AIContext:   "cat, kitten, feline, pet, meow, furry, paws",
}

// BackendOverrides are the remote backend fields an operator can change at runtime.
// An empty field clears the override and falls back to the environment value.
type BackendOverrides struct {
	CustomAPIURL string `json:"customApiUrl"`
	SupabaseURL  string `json:"supabaseUrl"`
	SupabaseKey  string `json:"supabaseKey"`
}

// Settings reads and writes preferences. Profile mutations are serialized.
type Settings struct {
	mu    sync.Mutex
	kv    *storage.KeyValue
	newID func() string
}

// New returns Settings over kv.
func New(kv *storage.KeyValue) *Settings {
	return &Settings{kv: kv, newID: newProfileID}
}

func newProfileID() string {
	return "app_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// Profiles returns every profile in insertion order. An empty or unreadable
// list is replaced by DefaultProfile so at least one profile always exists.
func (s *Settings) Profiles() ([]model.AppProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles()
}

func (s *Settings) profiles() ([]model.AppProfile, error) {
	var apps []model.AppProfile
	ok, err := s.kv.Get(storage.KeyApps, &apps)
	if ok && err == nil && len(apps) > 0 {
		return apps, nil
	}
	apps = []model.AppProfile{DefaultProfile}
	if err := s.kv.Set(storage.KeyApps, apps); err != nil {
		return apps, fmt.Errorf("seed default profile: %w", err)
	}
	return apps, nil
}

// Profile returns the profile with id.
func (s *Settings) Profile(id string) (model.AppProfile, error) {
	apps, err := s.Profiles()
	if err != nil {
		return model.AppProfile{}, err
	}
	for _, a := range apps {
		if a.ID == id {
			return a, nil
		}
	}
	return model.AppProfile{}, ErrProfileNotFound
}

// AddProfile appends a new profile. AIContext defaults to the name.
func (s *Settings) AddProfile(name, description, aiContext string) (model.AppProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.AppProfile{}, fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if strings.TrimSpace(aiContext) == "" {
		aiContext = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.profiles()
	if err != nil {
		return model.AppProfile{}, err
	}
	app := model.AppProfile{
		ID:          s.newID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		AIContext:   strings.TrimSpace(aiContext),
	}
	if err := s.kv.Set(storage.KeyApps, append(apps, app)); err != nil {
		return model.AppProfile{}, err
	}
	return app, nil
}

// RemoveProfile deletes the profile with id. The last remaining profile cannot
// be removed. If it was active, the first remaining profile becomes active and
// is returned as next.
func (s *Settings) RemoveProfile(id string) (next string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.profiles()
	if err != nil {
		return "", err
	}
	idx := -1
	for i, a := range apps {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", ErrProfileNotFound
	}
	if len(apps) == 1 {
		return "", ErrLastProfile
	}

	kept := append(append([]model.AppProfile{}, apps[:idx]...), apps[idx+1:]...)
	if err := s.kv.Set(storage.KeyApps, kept); err != nil {
		return "", err
	}

	active := s.kv.GetString(storage.KeyActiveApp)
	if active == id || active == "" {
		active = kept[0].ID
		if err := s.kv.Set(storage.KeyActiveApp, active); err != nil {
			return "", err
		}
	}
	return active, nil
}

// ActiveApp returns the active profile, falling back to the first one when the
// stored id is missing or dangling.
func (s *Settings) ActiveApp() (model.AppProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.profiles()
	if err != nil {
		return apps[0], err
	}
	active := s.kv.GetString(storage.KeyActiveApp)
	for _, a := range apps {
		if a.ID == active {
			return a, nil
		}
	}
	return apps[0], nil
}

// SetActiveApp makes id the active profile.
func (s *Settings) SetActiveApp(id string) error {
	if _, err := s.Profile(id); err != nil {
		return err
	}
	return s.kv.Set(storage.KeyActiveApp, id)
}

// Overrides returns the stored backend overrides.
func (s *Settings) Overrides() BackendOverrides {
	return BackendOverrides{
		CustomAPIURL: s.kv.GetString(storage.KeyCustomAPI),
		SupabaseURL:  s.kv.GetString(storage.KeySupaURL),
		SupabaseKey:  s.kv.GetString(storage.KeySupaKey),
	}
}

// SetOverrides stores o. Empty fields remove their key.
func (s *Settings) SetOverrides(o BackendOverrides) error {
	for key, v := range map[string]string{
		storage.KeyCustomAPI: strings.TrimSpace(o.CustomAPIURL),
		storage.KeySupaURL:   strings.TrimSpace(o.SupabaseURL),
		storage.KeySupaKey:   strings.TrimSpace(o.SupabaseKey),
	} {
		var err error
		if v == "" {
			err = s.kv.Delete(key)
		} else {
			err = s.kv.Set(key, v)
		}
		if err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	return nil
}

// Backend layers the stored overrides onto base.
// A custom API url override wins over any hosted table, as it does in base.
func (s *Settings) Backend(base config.Backend) config.Backend {
	o := s.Overrides()
	if o.CustomAPIURL != "" {
		base.CustomAPIURL = o.CustomAPIURL
	}
	if o.SupabaseURL != "" && o.SupabaseKey != "" {
		base.SupabaseURL = o.SupabaseURL
		base.SupabaseKey = o.SupabaseKey
	}
	return base
}

// GeminiKey returns the stored AI key, or fallback when none is stored.
func (s *Settings) GeminiKey(fallback string) string {
	if k := s.kv.GetString(storage.KeyGeminiKey); k != "" {
		return k
	}
	return fallback
}

// SetGeminiKey stores key. An empty key removes the stored one.
func (s *Settings) SetGeminiKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return s.kv.Delete(storage.KeyGeminiKey)
	}
	return s.kv.Set(storage.KeyGeminiKey, key)
}
