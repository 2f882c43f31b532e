package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

var (
	yes = ConfirmFunc(func(context.Context, string) bool { return true })
	no  = ConfirmFunc(func(context.Context, string) bool { return false })

	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// downStore is a remote backend that cannot be reached.
type downStore struct{}

var errUnreachable = errors.New("connection refused")

func (downStore) Name() string { return "endpoint" }
func (downStore) GetAllItems(context.Context) ([]model.MediaItem, error) {
	return []model.MediaItem{}, errUnreachable
}
func (downStore) SaveItem(context.Context, model.MediaItem) (model.MediaItem, error) {
	return model.MediaItem{}, errUnreachable
}
func (downStore) DeleteItem(context.Context, string) error { return errUnreachable }
func (downStore) Close() error { return nil }

// failingDeletes accepts everything but deletes.
type failingDeletes struct{ storage.Store }

func (failingDeletes) DeleteItem(context.Context, string) error { return errors.New("disk full") }

type fixture struct {
	ctl      *Controller
	settings *settings.Settings
	local    storage.Store
}

func newFixture(t *testing.T, base config.Backend, local storage.Store, remote storage.Store) fixture {
	t.Helper()
	kv, err := storage.OpenKeyValue("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if local == nil {
		local = storage.NewKVStore(kv)
	}
	st := settings.New(kv)
	chain := storage.NewChain(context.Background(), base, local,
		storage.WithLogger(quiet),
		storage.WithRemoteBuilder(func(context.Context, config.Backend) (storage.Store, error) { return remote, nil }))
	ctl := New(chain, st, base, nil, quiet)
	ctl.Reload(context.Background())
	return fixture{ctl: ctl, settings: st, local: local}
}

func imageDraft(title string) model.MediaDraft {
	return model.MediaDraft{Type: model.MediaImage, URL: "data:image/png;base64,iVBORw0KGgo=", Title: title, Tags: []string{"x", "y"}}
}

func TestNavigation(t *testing.T) {
	f := newFixture(t, config.Backend{}, nil, nil)
	ctx := context.Background()

	saved, err := f.ctl.SaveItem(ctx, imageDraft("A"))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.ctl.BeginEdit(saved.Item.ID); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	s := f.ctl.State()
	if s.View != ViewUpload || s.Mode != "edit" || s.Selected == nil || s.Selected.ID != saved.Item.ID {
		t.Fatalf("state after BeginEdit = %+v", s)
	}

	// Dead-end screens need explicit navigation and leaving upload drops the selection
	if err := f.ctl.Navigate(ViewAIGenerator); err != nil {
		t.Fatal(err)
	}
	if err := f.ctl.Navigate(ViewUpload); err != nil {
		t.Fatal(err)
	}
	if s := f.ctl.State(); s.Mode != "create" || s.Selected != nil {
		t.Errorf("re-entering upload = %+v, want create mode", s)
	}

	f.ctl.BeginEdit(saved.Item.ID)
	f.ctl.Cancel()
	if s := f.ctl.State(); s.View != ViewDashboard || s.Selected != nil {
		t.Errorf("state after Cancel = %+v", s)
	}

	if err := f.ctl.Navigate(View(42)); err == nil {
		t.Error("Navigate accepted an unknown view")
	}
	if err := f.ctl.BeginEdit("ghost"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("BeginEdit(ghost) = %v", err)
	}
}

func TestSaveCreateAndEdit(t *testing.T) {
	f := newFixture(t, config.Backend{}, nil, nil)
	ctx := context.Background()

	f.ctl.Navigate(ViewUpload)
	created, err := f.ctl.SaveItem(ctx, imageDraft("<b>Sleepy</b> cat & friends"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Item.AppID != settings.DefaultProfile.ID {
		t.Errorf("new item app = %q, want the active app", created.Item.AppID)
	}
	if created.Item.Title != "Sleepy cat & friends" {
		t.Errorf("title = %q", created.Item.Title)
	}
	if created.Notice.Level != NoticeInfo {
		t.Errorf("notice = %+v", created.Notice)
	}
	if f.ctl.State().View != ViewDashboard {
		t.Error("save did not return to the dashboard")
	}

	f.ctl.BeginEdit(created.Item.ID)
	draft := imageDraft("Renamed")
	draft.AppID = "someone-else"
	edited, err := f.ctl.SaveItem(ctx, draft)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	got := edited.Item
	if got.ID != created.Item.ID || got.AppID != created.Item.AppID || got.CreatedAt != created.Item.CreatedAt {
		t.Errorf("edit changed identity: %+v vs %+v", got, created.Item)
	}

	items := f.ctl.VisibleItems()
	if len(items) != 1 || items[0].Title != "Renamed" {
		t.Errorf("visible items = %+v", items)
	}
	stored, _ := f.local.GetAllItems(ctx)
	if len(stored) != 1 {
		t.Errorf("stored %d items, want 1", len(stored))
	}

	if _, err := f.ctl.SaveItem(ctx, imageDraft("  <i></i> ")); !errors.Is(err, ErrTitleRequired) {
		t.Errorf("blank title error = %v", err)
	}
}

func TestSaveReportsDegradedFallback(t *testing.T) {
	base := config.Backend{Local: config.LocalKV, CustomAPIURL: "https://api.example/api.php"}
	f := newFixture(t, base, nil, downStore{})
	ctx := context.Background()

	f.ctl.Navigate(ViewUpload)
	out, err := f.ctl.SaveItem(ctx, imageDraft("A"))
	if err != nil {
		t.Fatalf("SaveItem: %v", err)
	}
	if out.Notice.Level != NoticeWarning || !out.Degraded {
		t.Errorf("outcome = %+v, want a degraded warning", out)
	}
	if out.Item.URL != imageDraft("A").URL {
		t.Errorf("url = %q, want the inline payload", out.Item.URL)
	}

	res := f.ctl.Reload(ctx)
	if !res.Fallback || len(res.Items) != 1 {
		t.Errorf("reload = %+v", res)
	}
	if p := f.ctl.APIPreview(); p.Source != "Custom API" || p.Warning == "" || p.Count != 1 {
		t.Errorf("preview = %+v", p)
	}
}

func TestDeleteItemOrdering(t *testing.T) {
	ctx := context.Background()

	t.Run("not confirmed", func(t *testing.T) {
		f := newFixture(t, config.Backend{}, nil, nil)
		saved, _ := f.ctl.SaveItem(ctx, imageDraft("A"))
		if _, err := f.ctl.DeleteItem(ctx, saved.Item.ID, no); !errors.Is(err, ErrNotConfirmed) {
			t.Fatalf("DeleteItem() = %v", err)
		}
		if len(f.ctl.VisibleItems()) != 1 {
			t.Error("unconfirmed delete removed the item")
		}
	})

	t.Run("storage failure keeps item", func(t *testing.T) {
		kv, _ := storage.OpenKeyValue("", 0)
		f := newFixture(t, config.Backend{}, failingDeletes{storage.NewKVStore(kv)}, nil)
		saved, _ := f.ctl.SaveItem(ctx, imageDraft("A"))
		if _, err := f.ctl.DeleteItem(ctx, saved.Item.ID, yes); err == nil {
			t.Fatal("DeleteItem() succeeded against a failing store")
		}
		if len(f.ctl.VisibleItems()) != 1 {
			t.Error("item removed from memory although storage kept it")
		}
	})

	t.Run("success", func(t *testing.T) {
		f := newFixture(t, config.Backend{}, nil, nil)
		saved, _ := f.ctl.SaveItem(ctx, imageDraft("A"))
		if _, err := f.ctl.DeleteItem(ctx, saved.Item.ID, yes); err != nil {
			t.Fatalf("DeleteItem: %v", err)
		}
		if len(f.ctl.VisibleItems()) != 0 {
			t.Error("item still visible")
		}
	})
}

func TestDeleteAppCascades(t *testing.T) {
	f := newFixture(t, config.Backend{}, nil, nil)
	ctx := context.Background()

	dogs, err := f.ctl.AddApp("Dogs", "dog walls", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.ctl.SetActiveApp(dogs.ID); err != nil {
		t.Fatal(err)
	}
	for _, title := range []string{"a", "b", "c"} {
		if _, err := f.ctl.SaveItem(ctx, imageDraft(title)); err != nil {
			t.Fatal(err)
		}
	}
	catDraft := imageDraft("cat")
	catDraft.AppID = settings.DefaultProfile.ID
	f.ctl.SaveItem(ctx, catDraft)

	out, err := f.ctl.DeleteApp(ctx, dogs.ID, yes)
	if err != nil {
		t.Fatalf("DeleteApp: %v", err)
	}
	if out.Removed != 3 || out.ActiveApp.ID != settings.DefaultProfile.ID {
		t.Errorf("outcome = %+v", out)
	}

	stored, _ := f.local.GetAllItems(ctx)
	for _, it := range stored {
		if it.AppID == dogs.ID {
			t.Errorf("item %s of deleted app survived", it.ID)
		}
	}
	if len(stored) != 1 {
		t.Errorf("stored %d items, want the cat item only", len(stored))
	}
	if _, err := f.settings.Profile(dogs.ID); !errors.Is(err, settings.ErrProfileNotFound) {
		t.Errorf("profile still present: %v", err)
	}
}

func TestDeleteLastAppIsRejected(t *testing.T) {
	f := newFixture(t, config.Backend{}, nil, nil)
	ctx := context.Background()
	f.ctl.SaveItem(ctx, imageDraft("A"))

	asked := false
	confirm := ConfirmFunc(func(context.Context, string) bool { asked = true; return true })
	if _, err := f.ctl.DeleteApp(ctx, settings.DefaultProfile.ID, confirm); !errors.Is(err, settings.ErrLastProfile) {
		t.Fatalf("DeleteApp() = %v, want ErrLastProfile", err)
	}
	if asked {
		t.Error("confirmation requested before the last-profile guard")
	}
	apps, _ := f.settings.Profiles()
	if len(apps) != 1 || len(f.ctl.VisibleItems()) != 1 {
		t.Error("state changed after rejected delete")
	}
}

func TestDeleteAppAbortsOnItemFailure(t *testing.T) {
	kv, _ := storage.OpenKeyValue("", 0)
	f := newFixture(t, config.Backend{}, failingDeletes{storage.NewKVStore(kv)}, nil)
	ctx := context.Background()

	dogs, _ := f.ctl.AddApp("Dogs", "", "")
	d := imageDraft("a")
	d.AppID = dogs.ID
	f.ctl.SaveItem(ctx, d)

	if _, err := f.ctl.DeleteApp(ctx, dogs.ID, yes); err == nil {
		t.Fatal("DeleteApp() succeeded although an item delete failed")
	}
	if _, err := f.settings.Profile(dogs.ID); err != nil {
		t.Errorf("profile removed after aborted cascade: %v", err)
	}
}

func TestAPIPreviewLocal(t *testing.T) {
	f := newFixture(t, config.Backend{}, nil, nil)
	f.ctl.SaveItem(context.Background(), imageDraft("A"))

	p := f.ctl.APIPreview()
	if p.App.ID != settings.DefaultProfile.ID || p.Count != 1 || len(p.Items) != 1 {
		t.Errorf("preview = %+v", p)
	}
	if p.Warning == "" {
		t.Error("local preview must warn that companion apps cannot read it")
	}
}

func TestParseView(t *testing.T) {
	for _, name := range []string{"dashboard", "upload", "ai-generator", "api-preview", "settings"} {
		v, err := ParseView(name)
		if err != nil || v.String() != name {
			t.Errorf("ParseView(%q) = %v, %v", name, v, err)
		}
	}
	if _, err := ParseView("edit"); err == nil {
		t.Error("ParseView accepted edit, which is upload with a selection")
	}
}
