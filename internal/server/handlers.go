package server

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/purrfectlabs/purrfect-admin-go/internal/admin"
	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	errordefs "github.com/purrfectlabs/purrfect-admin-go/internal/errors"
	"github.com/purrfectlabs/purrfect-admin-go/internal/model"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
)

// adminSubject is the subject of every session: the panel has one operator.
const adminSubject = "admin"

type loginRequest struct {
	Password string `json:"password"`
}

func (m *Mux) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if !m.gate.Check(req.Password) {
		m.writeErrorDef(w, r, errordefs.New(errordefs.PA_AUTHN, "incorrect password", ""))
		return
	}
	token, exp, err := m.sessions.Issue(adminSubject)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresAt": exp.UTC(),
	})
}

func (m *Mux) handleState(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.ctl.State())
}

type navigateRequest struct {
	View admin.View `json:"view"`
}

func (m *Mux) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if err := m.ctl.Navigate(req.View); err != nil {
		m.writeErrorDef(w, r, errordefs.Wrap(errordefs.PA_VALIDATION, err))
		return
	}
	m.writeSuccess(w, http.StatusOK, m.ctl.State())
}

func (m *Mux) handlePreview(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.ctl.APIPreview())
}

// handleListItems re-reads storage and returns the active app's items.
func (m *Mux) handleListItems(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleListItems")
	defer span.End()

	res := m.ctl.Reload(ctx)
	span.SetAttributes(attribute.String("backend", res.Backend), attribute.Bool("fallback", res.Fallback))

	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"items":    m.ctl.VisibleItems(),
		"backend":  res.Backend,
		"fallback": res.Fallback,
	})
}

func (m *Mux) handleSaveItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleSaveItem")
	defer span.End()

	var draft model.MediaDraft
	if err := decode(r, &draft); err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("type", string(draft.Type)), attribute.Bool("inline", datauri.IsInline(draft.URL)))

	out, err := m.ctl.SaveItem(ctx, draft)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.failAs(w, r, err, errordefs.PA_SAVE)
		return
	}
	span.SetAttributes(attribute.String("item.id", out.Item.ID), attribute.Bool("degraded", out.Degraded))
	m.writeSuccess(w, http.StatusOK, out)
}

func (m *Mux) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	if err := m.ctl.BeginEdit(r.PathValue("id")); err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, m.ctl.State())
}

func (m *Mux) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	m.ctl.Cancel()
	m.writeSuccess(w, http.StatusOK, m.ctl.State())
}

// confirmed approves a destructive action when the request carries confirm=true.
func confirmed(r *http.Request) admin.Confirmer {
	ok := strings.EqualFold(r.URL.Query().Get("confirm"), "true")
	return admin.ConfirmFunc(func(_ context.Context, _ string) bool { return ok })
}

func (m *Mux) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleDeleteItem")
	defer span.End()

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("item.id", id))

	notice, err := m.ctl.DeleteItem(ctx, id, confirmed(r))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.failAs(w, r, err, errordefs.PA_DELETE)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"id": id, "notice": notice})
}

func (m *Mux) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := m.settings.Profiles()
	if err != nil {
		m.fail(w, r, err)
		return
	}
	active, _ := m.settings.ActiveApp()
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"apps": apps, "activeApp": active.ID})
}

type addAppRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AIContext   string `json:"aiContext"`
}

func (m *Mux) handleAddApp(w http.ResponseWriter, r *http.Request) {
	var req addAppRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	app, err := m.ctl.AddApp(req.Name, req.Description, req.AIContext)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, app)
}

type setActiveAppRequest struct {
	ID string `json:"id"`
}

func (m *Mux) handleSetActiveApp(w http.ResponseWriter, r *http.Request) {
	var req setActiveAppRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if err := m.ctl.SetActiveApp(req.ID); err != nil {
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, m.ctl.State())
}

func (m *Mux) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleDeleteApp")
	defer span.End()

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("app.id", id))

	out, err := m.ctl.DeleteApp(ctx, id, confirmed(r))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.failAs(w, r, err, errordefs.PA_DELETE)
		return
	}
	span.SetAttributes(attribute.Int("removed_items", out.Removed))
	m.writeSuccess(w, http.StatusOK, out)
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

type backendSettings struct {
	CustomAPIURL string `json:"customApiUrl"`
	SupabaseURL  string `json:"supabaseUrl"`
	SupabaseKey  string `json:"supabaseKey"`
}

func (m *Mux) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	o := m.settings.Overrides()
	m.writeSuccess(w, http.StatusOK, backendSettings{
		CustomAPIURL: o.CustomAPIURL,
		SupabaseURL:  o.SupabaseURL,
		SupabaseKey:  maskSecret(o.SupabaseKey),
	})
}

// handlePutBackend stores new overrides, rebuilds the storage chain and
// reloads the items from the new primary backend.
func (m *Mux) handlePutBackend(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handlePutBackend")
	defer span.End()

	var req backendSettings
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	// A masked key echoed back from GET keeps the stored one.
	if current := m.settings.Overrides().SupabaseKey; req.SupabaseKey != "" && req.SupabaseKey == maskSecret(current) {
		req.SupabaseKey = current
	}
	res, err := m.ctl.ConfigureBackend(ctx, settings.BackendOverrides{
		CustomAPIURL: req.CustomAPIURL,
		SupabaseURL:  strings.TrimRight(req.SupabaseURL, "/"),
		SupabaseKey:  req.SupabaseKey,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("backend", res.Backend), attribute.Bool("fallback", res.Fallback))
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"backend":  res.Backend,
		"fallback": res.Fallback,
		"count":    len(res.Items),
	})
}

func (m *Mux) handleGetAIKey(w http.ResponseWriter, r *http.Request) {
	key := m.settings.GeminiKey(m.envGeminiKey)
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{
		"configured": key != "",
		"apiKey":     maskSecret(key),
	})
}

type aiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func (m *Mux) handlePutAIKey(w http.ResponseWriter, r *http.Request) {
	var req aiKeyRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if err := m.settings.SetGeminiKey(req.APIKey); err != nil {
		m.fail(w, r, err)
		return
	}
	key := m.settings.GeminiKey(m.envGeminiKey)
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"configured": key != ""})
}

// profileFor resolves the app a generation call speaks for.
func (m *Mux) profileFor(appID string) (model.AppProfile, error) {
	if appID == "" {
		return m.settings.ActiveApp()
	}
	return m.settings.Profile(appID)
}

// requireAI rejects generation calls when no client is wired.
func (m *Mux) requireAI(w http.ResponseWriter, r *http.Request) bool {
	if m.ai == nil {
		m.writeErrorDef(w, r, errordefs.New(errordefs.PA_UNAVAILABLE, "AI generation is not configured", ""))
		return false
	}
	return true
}

type metadataRequest struct {
	DataURI string `json:"dataUri"`
	AppID   string `json:"appId,omitempty"`
}

func (m *Mux) handleGenerateMetadata(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleGenerateMetadata")
	defer span.End()

	if !m.requireAI(w, r) {
		return
	}
	var req metadataRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if _, _, err := datauri.Parse(req.DataURI); err != nil {
		m.writeErrorDef(w, r, errordefs.Wrap(errordefs.PA_VALIDATION, err))
		return
	}
	app, err := m.profileFor(req.AppID)
	if err != nil {
		m.fail(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("app.id", app.ID))

	meta, err := m.ai.GenerateMetadata(ctx, req.DataURI, app)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, meta)
}

type promptRequest struct {
	Type  model.MediaType `json:"type"`
	AppID string          `json:"appId,omitempty"`
}

func (m *Mux) handleCreativePrompt(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleCreativePrompt")
	defer span.End()

	if !m.requireAI(w, r) {
		return
	}
	var req promptRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	kind := model.MediaImage
	if req.Type != "" {
		parsed, err := model.ParseMediaType(string(req.Type))
		if err != nil {
			m.writeErrorDef(w, r, errordefs.Wrap(errordefs.PA_VALIDATION, err))
			return
		}
		kind = parsed
	}
	app, err := m.profileFor(req.AppID)
	if err != nil {
		m.fail(w, r, err)
		return
	}

	prompt, err := m.ai.CreativePrompt(ctx, kind, app)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"prompt": prompt})
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (m *Mux) handleGenerateWallpaper(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleGenerateWallpaper")
	defer span.End()

	if !m.requireAI(w, r) {
		return
	}
	var req generateRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		m.writeErrorDef(w, r, errordefs.New(errordefs.PA_VALIDATION, "prompt is required", ""))
		return
	}

	uri, err := m.ai.GenerateWallpaper(ctx, req.Prompt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"type": model.MediaImage, "url": uri})
}

func (m *Mux) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleGenerateVideo")
	defer span.End()

	if !m.requireAI(w, r) {
		return
	}
	var req generateRequest
	if err := decode(r, &req); err != nil {
		m.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		m.writeErrorDef(w, r, errordefs.New(errordefs.PA_VALIDATION, "prompt is required", ""))
		return
	}

	uri, err := m.ai.GenerateVideo(ctx, req.Prompt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.fail(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"type": model.MediaVideo, "url": uri})
}
