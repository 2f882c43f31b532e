package admin

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/event"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

var (
	ErrNotConfirmed  = errors.New("action was not confirmed")
	ErrItemNotFound  = errors.New("media item not found")
	ErrTitleRequired = errors.New("title is required")
)

// Confirmer asks the operator to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// Notice levels.
const (
	NoticeInfo    = "info"
	NoticeWarning = "warning"
)

// Notice is a message for the operator after a write.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// State is a snapshot of the panel.
type State struct {
	View      View               `json:"view"`
	Mode      string             `json:"mode"` // "create" or "edit" while in upload
	Selected  *model.MediaItem   `json:"selected,omitempty"`
	ActiveApp model.AppProfile   `json:"activeApp"`
	Apps      []model.AppProfile `json:"apps"`
	Items     []model.MediaItem  `json:"items"` // Items of the active app
	Backend   string             `json:"backend"`
	Fallback  bool               `json:"fallback"` // Items were read from local storage because the remote failed
}

// SaveOutcome is the result of SaveItem.
type SaveOutcome struct {
	Item     model.MediaItem `json:"item"`
	Backend  string          `json:"backend"`
	Degraded bool            `json:"degraded"` // Saved locally because the remote backend failed
	Notice   Notice          `json:"notice"`
}

// DeleteAppOutcome is the result of DeleteApp.
type DeleteAppOutcome struct {
	Removed   int              `json:"removed"`
	ActiveApp model.AppProfile `json:"activeApp"`
	Notices   []Notice         `json:"notices,omitempty"`
}

var policy = bluemonday.StrictPolicy()

// sanitizeInput strips markup from a plain text field.
func sanitizeInput(input string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(input)))
}

// Controller coordinates navigation and persistence for one admin session.
// Its own state is guarded by mu; storage calls run without holding it.
type Controller struct {
	mu       sync.Mutex
	view     View
	selected *model.MediaItem
	items    []model.MediaItem
	backend  string
	fallback bool

	chain    *storage.Chain
	settings *settings.Settings
	base     config.Backend
	pub      event.Publisher
	logger   *slog.Logger
}

// New creates a controller over chain and st. base is the environment backend
// configuration that settings overrides are layered onto.
func New(chain *storage.Chain, st *settings.Settings, base config.Backend, pub event.Publisher, logger *slog.Logger) *Controller {
	if pub == nil {
		pub = event.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		view:     ViewDashboard,
		items:    []model.MediaItem{},
		chain:    chain,
		settings: st,
		base:     base,
		pub:      pub,
		logger:   logger,
	}
}

// Reload replaces the in-memory list with a fresh read from storage.
func (c *Controller) Reload(ctx context.Context) storage.ReadResult {
	res := c.chain.GetAllItems(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append([]model.MediaItem{}, res.Items...)
	c.backend = res.Backend
	c.fallback = res.Fallback
	return res
}

// Navigate switches screens. Leaving upload drops the selected item, so
// entering upload from anywhere else always starts in create mode.
func (c *Controller) Navigate(v View) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v {
	case ViewDashboard, ViewUpload, ViewAIGenerator, ViewAPIPreview, ViewSettings:
	default:
		return fmt.Errorf("unknown view %d", v)
	}
	if c.view == ViewUpload && v != ViewUpload {
		c.selected = nil
	}
	c.view = v
	return nil
}

// BeginEdit selects the item with id and opens upload in edit mode.
func (c *Controller) BeginEdit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, it := range c.items {
		if it.ID == id {
			sel := it
			c.selected = &sel
			c.view = ViewUpload
			return nil
		}
	}
	return ErrItemNotFound
}

// Cancel abandons the current upload or edit.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = nil
	c.view = ViewDashboard
}

// SaveItem persists draft. With an item selected the draft updates it;
// otherwise a new item is created under draft.AppID or the active app.
// The in-memory list changes only after storage accepted the item.
func (c *Controller) SaveItem(ctx context.Context, draft model.MediaDraft) (SaveOutcome, error) {
	draft.Title = sanitizeInput(draft.Title)
	draft.Description = sanitizeInput(draft.Description)
	tags := make([]string, 0, len(draft.Tags))
	for _, t := range draft.Tags {
		if t = sanitizeInput(t); t != "" {
			tags = append(tags, t)
		}
	}
	draft.Tags = tags
	if draft.Title == "" {
		return SaveOutcome{}, ErrTitleRequired
	}

	c.mu.Lock()
	var existing *model.MediaItem
	if c.selected != nil {
		sel := *c.selected
		existing = &sel
	}
	c.mu.Unlock()

	if existing == nil && draft.AppID == "" {
		app, err := c.settings.ActiveApp()
		if err != nil {
			c.logger.Warn("reading active app failed", "error", err)
		}
		draft.AppID = app.ID
	}

	res, err := c.chain.Save(ctx, draft, existing)
	if err != nil {
		return SaveOutcome{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := false
	for i := range c.items {
		if c.items[i].ID == res.Item.ID {
			c.items[i] = res.Item
			replaced = true
			break
		}
	}
	if !replaced {
		c.items = append([]model.MediaItem{res.Item}, c.items...)
	}
	c.selected = nil
	if c.view == ViewUpload {
		c.view = ViewDashboard
	}

	return SaveOutcome{Item: res.Item, Backend: res.Backend, Degraded: res.Degraded, Notice: saveNotice(res)}, nil
}

func saveNotice(res storage.SaveResult) Notice {
	if res.Degraded {
		msg := fmt.Sprintf("Saved locally only (%s): the remote backend failed with %v. "+
			"Companion apps will not see this item until it is saved again.", res.Backend, res.Cause)
		return Notice{Level: NoticeWarning, Message: msg}
	}
	return Notice{Level: NoticeInfo, Message: fmt.Sprintf("Saved to %s.", res.Backend)}
}

// DeleteItem removes the item with id after confirm approves it.
// The item leaves the in-memory list only when storage confirmed the delete.
func (c *Controller) DeleteItem(ctx context.Context, id string, confirm Confirmer) (Notice, error) {
	if confirm == nil || !confirm.Confirm(ctx, fmt.Sprintf("Delete media item %s?", id)) {
		return Notice{}, ErrNotConfirmed
	}

	res, err := c.chain.Delete(ctx, id)
	if err != nil {
		return Notice{}, err
	}

	c.mu.Lock()
	c.removeItems(func(it model.MediaItem) bool { return it.ID == id })
	c.mu.Unlock()

	return deleteNotice(res), nil
}

func deleteNotice(res storage.DeleteResult) Notice {
	if res.Degraded {
		return Notice{
			Level:   NoticeWarning,
			Message: fmt.Sprintf("Deleted locally only (%s): the remote record may still exist (%v).", res.Backend, res.Cause),
		}
	}
	return Notice{Level: NoticeInfo, Message: fmt.Sprintf("Deleted from %s.", res.Backend)}
}

// removeItems drops matching items and the selection if it matches. Callers hold mu.
func (c *Controller) removeItems(match func(model.MediaItem) bool) {
	kept := c.items[:0]
	for _, it := range c.items {
		if !match(it) {
			kept = append(kept, it)
		}
	}
	c.items = kept
	if c.selected != nil && match(*c.selected) {
		c.selected = nil
	}
}

// AddApp creates a profile.
func (c *Controller) AddApp(name, description, aiContext string) (model.AppProfile, error) {
	return c.settings.AddProfile(sanitizeInput(name), sanitizeInput(description), sanitizeInput(aiContext))
}

// DeleteApp removes a profile together with every item it owns.
// The last profile is never removed. Items are deleted first; if any delete
// fails outright the profile is kept so the operator can retry.
func (c *Controller) DeleteApp(ctx context.Context, id string, confirm Confirmer) (DeleteAppOutcome, error) {
	apps, err := c.settings.Profiles()
	if err != nil {
		return DeleteAppOutcome{}, err
	}
	if len(apps) <= 1 {
		return DeleteAppOutcome{}, settings.ErrLastProfile
	}
	var app model.AppProfile
	found := false
	for _, a := range apps {
		if a.ID == id {
			app, found = a, true
			break
		}
	}
	if !found {
		return DeleteAppOutcome{}, settings.ErrProfileNotFound
	}
	if confirm == nil || !confirm.Confirm(ctx, fmt.Sprintf("Delete app %q and all of its media?", app.Name)) {
		return DeleteAppOutcome{}, ErrNotConfirmed
	}

	// Storage is authoritative; the in-memory list may be stale.
	owned := map[string]struct{}{}
	for _, it := range c.chain.GetAllItems(ctx).Items {
		if it.AppID == id {
			owned[it.ID] = struct{}{}
		}
	}
	c.mu.Lock()
	for _, it := range c.items {
		if it.AppID == id {
			owned[it.ID] = struct{}{}
		}
	}
	c.mu.Unlock()

	out := DeleteAppOutcome{}
	for itemID := range owned {
		res, err := c.chain.Delete(ctx, itemID)
		if err != nil {
			return out, fmt.Errorf("delete item %s of app %s: %w", itemID, id, err)
		}
		c.mu.Lock()
		c.removeItems(func(it model.MediaItem) bool { return it.ID == itemID })
		c.mu.Unlock()
		out.Removed++
		if res.Degraded {
			out.Notices = append(out.Notices, deleteNotice(res))
		}
	}

	if _, err := c.settings.RemoveProfile(id); err != nil {
		return out, err
	}
	c.mu.Lock()
	c.removeItems(func(it model.MediaItem) bool { return it.AppID == id })
	c.mu.Unlock()

	active, err := c.settings.ActiveApp()
	if err != nil {
		c.logger.Warn("reading active app failed", "error", err)
	}
	out.ActiveApp = active

	if err := c.pub.PublishProfileDeleted(ctx, app, out.Removed); err != nil {
		c.logger.Warn("publish profile deleted failed", "app", id, "error", err)
	}
	c.logger.Info("app profile deleted", "app", id, "removed_items", out.Removed)
	return out, nil
}

// SetActiveApp switches the active profile.
func (c *Controller) SetActiveApp(id string) error {
	return c.settings.SetActiveApp(id)
}

// ConfigureBackend stores remote backend overrides, rebuilds the storage chain
// from them and reloads the item list from the new primary backend.
func (c *Controller) ConfigureBackend(ctx context.Context, o settings.BackendOverrides) (storage.ReadResult, error) {
	if err := c.settings.SetOverrides(o); err != nil {
		return storage.ReadResult{}, err
	}
	c.chain.Reconfigure(ctx, c.settings.Backend(c.base))
	return c.Reload(ctx), nil
}

// VisibleItems returns the items of the active profile, newest first.
func (c *Controller) VisibleItems() []model.MediaItem {
	app, err := c.settings.ActiveApp()
	if err != nil {
		c.logger.Warn("reading active app failed", "error", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible(app.ID)
}

func (c *Controller) visible(appID string) []model.MediaItem {
	out := []model.MediaItem{}
	for _, it := range c.items {
		if it.AppID == appID {
			out = append(out, it)
		}
	}
	return out
}

// State returns a snapshot of the panel.
func (c *Controller) State() State {
	apps, err := c.settings.Profiles()
	if err != nil {
		c.logger.Warn("reading app profiles failed", "error", err)
	}
	active, _ := c.settings.ActiveApp()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		View:      c.view,
		ActiveApp: active,
		Apps:      apps,
		Items:     c.visible(active.ID),
		Backend:   c.backend,
		Fallback:  c.fallback,
	}
	if c.view == ViewUpload {
		s.Mode = "create"
		if c.selected != nil {
			sel := *c.selected
			s.Selected = &sel
			s.Mode = "edit"
		}
	}
	return s
}

// APIPreview renders what a companion app reading the active profile would get.
func (c *Controller) APIPreview() model.APIPreview {
	items := c.VisibleItems()
	active, _ := c.settings.ActiveApp()

	preview := model.APIPreview{App: active, Count: len(items), Items: items}
	switch c.chain.Config().Remote() {
	case config.RemoteEndpoint:
		preview.Source = "Custom API"
	case config.RemoteSupabase:
		preview.Source = "Supabase Cloud"
	case config.RemotePostgres:
		preview.Source = "Postgres"
	default:
		preview.Source = "Local Storage (Not accessible to companion apps)"
		preview.Warning = "Connect a remote backend in Settings so companion apps can read these items."
	}

	c.mu.Lock()
	fallback := c.fallback
	c.mu.Unlock()
	if fallback && preview.Warning == "" {
		preview.Warning = "The remote backend is unreachable; these items come from local storage."
	}
	return preview
}
