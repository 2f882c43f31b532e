package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/admin"
	"github.com/purrfectlabs/purrfect-admin-go/internal/auth"
	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/genai"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

const testPassword = "admin123"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	h        http.Handler
	settings *settings.Settings
	sessions *auth.Sessions
}

// newTestServer wires the API over an in-memory key-value store with no remote backend.
func newTestServer(t *testing.T, mutate func(*Options)) testServer {
	t.Helper()
	kv, err := storage.OpenKeyValue("", 0)
	if err != nil {
		t.Fatal(err)
	}
	base := config.Backend{Local: config.LocalKV, RemoteTimeout: time.Second}
	st := settings.New(kv)
	chain := storage.NewChain(context.Background(), base, storage.NewKVStore(kv), storage.WithLogger(quiet))
	t.Cleanup(func() { chain.Close() })
	ctl := admin.New(chain, st, base, nil, quiet)
	ctl.Reload(context.Background())

	sessions, err := auth.NewSessions("test-issuer", "test-audience", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Controller:   ctl,
		Settings:     st,
		AI:           genai.New("http://127.0.0.1:1", func() string { return st.GeminiKey("") }, time.Millisecond, genai.WithLogger(quiet)),
		Gate:         auth.NewGate(auth.Encode(testPassword)),
		Sessions:     sessions,
		LoginRate:    "100-M",
		MaxBodyBytes: 1 << 20,
		Logger:       quiet,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := NewMux(opts)
	if err != nil {
		t.Fatalf("NewMux: %v", err)
	}
	return testServer{h: h, settings: st, sessions: sessions}
}

func (s testServer) token(t *testing.T) string {
	t.Helper()
	tok, _, err := s.sessions.Issue(adminSubject)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// do sends a request with an optional JSON body and session token.
func (s testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rr.Body.String(), err)
	}
	if data != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("invalid data %s: %v", env.Data, err)
		}
	}
	return env
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	env := decodeEnvelope(t, rr, nil)
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", env.Error, code)
	}
	if env.Error.CorrelationID == "" {
		t.Error("error response has no correlation id")
	}
}

func TestHealthzEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("readyz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestCorrelationIDIsEchoed(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-Id"); got != "corr-123" {
		t.Errorf("X-Correlation-Id = %q", got)
	}

	rr = s.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Header().Get("X-Correlation-Id") == "" {
		t.Error("no correlation id generated")
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s := newTestServer(t, nil)

	expectError(t, s.do(t, http.MethodGet, "/v1/state", "", nil), http.StatusUnauthorized, "PA_AUTHN")
	expectError(t, s.do(t, http.MethodGet, "/v1/state", "not-a-jwt", nil), http.StatusUnauthorized, "PA_JWT_INVALID")

	other, err := auth.NewSessions("test-issuer", "test-audience", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, err := other.Issue(adminSubject)
	if err != nil {
		t.Fatal(err)
	}
	expectError(t, s.do(t, http.MethodGet, "/v1/items", foreign, nil), http.StatusUnauthorized, "PA_JWT_INVALID")
}

func TestLoginIssuesUsableSession(t *testing.T) {
	s := newTestServer(t, nil)

	expectError(t, s.do(t, http.MethodPost, "/v1/login", "", loginRequest{Password: "wrong"}), http.StatusUnauthorized, "PA_AUTHN")

	rr := s.do(t, http.MethodPost, "/v1/login", "", loginRequest{Password: testPassword})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	decodeEnvelope(t, rr, &out)
	if out.Token == "" || !out.ExpiresAt.After(time.Now()) {
		t.Fatalf("login response = %+v", out)
	}

	rr = s.do(t, http.MethodGet, "/v1/state", out.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("state status = %d: %s", rr.Code, rr.Body.String())
	}
	var state admin.State
	decodeEnvelope(t, rr, &state)
	if state.View != admin.ViewDashboard || state.ActiveApp.ID != settings.DefaultProfile.ID {
		t.Errorf("state = %+v", state)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.LoginRate = "2-M" })

	for i := 0; i < 2; i++ {
		rr := s.do(t, http.MethodPost, "/v1/login", "", loginRequest{Password: "guess"})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i+1, rr.Code)
		}
	}
	rr := s.do(t, http.MethodPost, "/v1/login", "", loginRequest{Password: testPassword})
	expectError(t, rr, http.StatusTooManyRequests, "PA_RATE_LIMIT")
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestNewMuxRejectsBadRate(t *testing.T) {
	kv, _ := storage.OpenKeyValue("", 0)
	st := settings.New(kv)
	chain := storage.NewChain(context.Background(), config.Backend{}, storage.NewKVStore(kv), storage.WithLogger(quiet))
	sessions, _ := auth.NewSessions("i", "a", time.Hour)
	_, err := NewMux(Options{
		Controller: admin.New(chain, st, config.Backend{}, nil, quiet),
		Settings:   st,
		Gate:       auth.NewGate("x"),
		Sessions:   sessions,
		LoginRate:  "lots",
	})
	if err == nil {
		t.Fatal("expected an error for a malformed rate")
	}
}

func TestItemLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	rr := s.do(t, http.MethodPost, "/v1/items", tok, map[string]interface{}{
		"type":  "IMAGE",
		"url":   "data:image/png;base64,iVBORw0KGgo=",
		"title": "<b>Sleepy</b> Cat",
		"tags":  []string{"cat", "nap"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rr.Code, rr.Body.String())
	}
	var saved admin.SaveOutcome
	decodeEnvelope(t, rr, &saved)
	if saved.Item.ID == "" || saved.Item.Title != "Sleepy Cat" || saved.Item.AppID != settings.DefaultProfile.ID {
		t.Fatalf("saved = %+v", saved.Item)
	}
	if saved.Notice.Level != admin.NoticeInfo {
		t.Errorf("notice = %+v", saved.Notice)
	}

	var list struct {
		Items    []json.RawMessage `json:"items"`
		Backend  string            `json:"backend"`
		Fallback bool              `json:"fallback"`
	}
	decodeEnvelope(t, s.do(t, http.MethodGet, "/v1/items", tok, nil), &list)
	if len(list.Items) != 1 || list.Backend != "kv" || list.Fallback {
		t.Fatalf("list = %+v", list)
	}

	rr = s.do(t, http.MethodPost, "/v1/items/"+saved.Item.ID+"/edit", tok, nil)
	var state admin.State
	decodeEnvelope(t, rr, &state)
	if state.View != admin.ViewUpload || state.Mode != "edit" || state.Selected == nil {
		t.Fatalf("edit state = %+v", state)
	}
	state = admin.State{}
	decodeEnvelope(t, s.do(t, http.MethodPost, "/v1/items/cancel", tok, nil), &state)
	if state.View != admin.ViewDashboard || state.Selected != nil {
		t.Fatalf("cancel state = %+v", state)
	}

	path := "/v1/items/" + saved.Item.ID
	expectError(t, s.do(t, http.MethodDelete, path, tok, nil), http.StatusBadRequest, "PA_UNCONFIRMED")
	rr = s.do(t, http.MethodDelete, path+"?confirm=true", tok, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rr.Code, rr.Body.String())
	}
	decodeEnvelope(t, s.do(t, http.MethodGet, "/v1/items", tok, nil), &list)
	if len(list.Items) != 0 {
		t.Errorf("items after delete = %d", len(list.Items))
	}
}

func TestSaveItemValidation(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	expectError(t, s.do(t, http.MethodPost, "/v1/items", tok, map[string]interface{}{
		"type": "IMAGE", "url": "https://cdn.example/cat.png", "title": "   ",
	}), http.StatusBadRequest, "PA_VALIDATION")
	expectError(t, s.do(t, http.MethodPost, "/v1/items", tok, map[string]interface{}{
		"type": "GIF", "url": "https://cdn.example/cat.gif", "title": "Cat",
	}), http.StatusBadRequest, "PA_VALIDATION")
	expectError(t, s.do(t, http.MethodPost, "/v1/items/missing/edit", tok, nil), http.StatusNotFound, "PA_NOT_FOUND")

	req := httptest.NewRequest(http.MethodPost, "/v1/items", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	expectError(t, rr, http.StatusBadRequest, "PA_BAD_REQUEST")
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.MaxBodyBytes = 64 })
	tok := s.token(t)
	rr := s.do(t, http.MethodPost, "/v1/items", tok, map[string]interface{}{
		"type": "IMAGE", "url": "data:image/png;base64," + strings.Repeat("A", 256), "title": "Big",
	})
	expectError(t, rr, http.StatusBadRequest, "PA_VALIDATION")
}

func TestNavigate(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	var state admin.State
	decodeEnvelope(t, s.do(t, http.MethodPost, "/v1/view", tok, map[string]string{"view": "settings"}), &state)
	if state.View != admin.ViewSettings {
		t.Errorf("view = %v", state.View)
	}
	expectError(t, s.do(t, http.MethodPost, "/v1/view", tok, map[string]string{"view": "nope"}), http.StatusBadRequest, "PA_BAD_REQUEST")
}

func TestAppProfiles(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	expectError(t, s.do(t, http.MethodDelete, "/v1/apps/"+settings.DefaultProfile.ID+"?confirm=true", tok, nil),
		http.StatusConflict, "PA_LAST_PROFILE")

	rr := s.do(t, http.MethodPost, "/v1/apps", tok, addAppRequest{Name: "Dog Videos", Description: "dogs"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rr.Code, rr.Body.String())
	}
	var app struct {
		ID        string `json:"id"`
		AIContext string `json:"aiContext"`
	}
	decodeEnvelope(t, rr, &app)
	if app.ID == "" || app.AIContext != "Dog Videos" {
		t.Fatalf("app = %+v", app)
	}

	var state admin.State
	decodeEnvelope(t, s.do(t, http.MethodPost, "/v1/apps/active", tok, setActiveAppRequest{ID: app.ID}), &state)
	if state.ActiveApp.ID != app.ID || len(state.Apps) != 2 {
		t.Fatalf("state = %+v", state)
	}
	expectError(t, s.do(t, http.MethodPost, "/v1/apps/active", tok, setActiveAppRequest{ID: "app_missing"}), http.StatusNotFound, "PA_NOT_FOUND")

	rr = s.do(t, http.MethodDelete, "/v1/apps/"+app.ID+"?confirm=true", tok, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rr.Code, rr.Body.String())
	}
	var out admin.DeleteAppOutcome
	decodeEnvelope(t, rr, &out)
	if out.ActiveApp.ID != settings.DefaultProfile.ID {
		t.Errorf("active after delete = %s", out.ActiveApp.ID)
	}
}

func TestBackendSettings(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL + "/api.php"
	supaURL := down.URL
	down.Close()

	rr := s.do(t, http.MethodPut, "/v1/settings/backend", tok, backendSettings{
		CustomAPIURL: downURL,
		SupabaseURL:  supaURL + "/",
		SupabaseKey:  "anon-key-abcd",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Backend  string `json:"backend"`
		Fallback bool   `json:"fallback"`
	}
	decodeEnvelope(t, rr, &res)
	if res.Backend != "kv" || !res.Fallback {
		t.Errorf("reconfigured = %+v, want local fallback", res)
	}

	var got backendSettings
	decodeEnvelope(t, s.do(t, http.MethodGet, "/v1/settings/backend", tok, nil), &got)
	if got.SupabaseKey != "*********abcd" || got.SupabaseURL != supaURL || got.CustomAPIURL != downURL {
		t.Fatalf("settings = %+v", got)
	}

	// Echoing the masked key back keeps the stored secret.
	got.CustomAPIURL = ""
	s.do(t, http.MethodPut, "/v1/settings/backend", tok, got)
	if key := s.settings.Overrides().SupabaseKey; key != "anon-key-abcd" {
		t.Errorf("stored key = %q", key)
	}

	var preview struct {
		Source string `json:"source"`
	}
	decodeEnvelope(t, s.do(t, http.MethodGet, "/v1/preview", tok, nil), &preview)
	if preview.Source != "Supabase Cloud" {
		t.Errorf("preview source = %q", preview.Source)
	}
}

func TestAIKeySettings(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.token(t)

	expectError(t, s.do(t, http.MethodPost, "/v1/ai/prompt", tok, promptRequest{Type: "IMAGE"}),
		http.StatusPreconditionFailed, "PA_AI_KEY_MISSING")

	var status struct {
		Configured bool   `json:"configured"`
		APIKey     string `json:"apiKey"`
	}
	decodeEnvelope(t, s.do(t, http.MethodPut, "/v1/settings/ai-key", tok, aiKeyRequest{APIKey: "AIza-secret"}), &status)
	if !status.Configured {
		t.Fatal("key not stored")
	}
	decodeEnvelope(t, s.do(t, http.MethodGet, "/v1/settings/ai-key", tok, nil), &status)
	if status.APIKey != "*******cret" {
		t.Errorf("masked key = %q", status.APIKey)
	}
}

func TestGenerateWallpaperEndpoint(t *testing.T) {
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"iVBORw0KGgo="}}]}}]}`)
	}))
	defer gemini.Close()

	s := newTestServer(t, func(o *Options) {
		o.AI = genai.New(gemini.URL, func() string { return "k" }, time.Millisecond, genai.WithLogger(quiet))
	})
	tok := s.token(t)

	expectError(t, s.do(t, http.MethodPost, "/v1/ai/wallpaper", tok, generateRequest{Prompt: " "}), http.StatusBadRequest, "PA_VALIDATION")

	rr := s.do(t, http.MethodPost, "/v1/ai/wallpaper", tok, generateRequest{Prompt: "a cat on the moon"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
	decodeEnvelope(t, rr, &out)
	if out.Type != "IMAGE" || out.URL != "data:image/png;base64,iVBORw0KGgo=" {
		t.Errorf("out = %+v", out)
	}

	expectError(t, s.do(t, http.MethodPost, "/v1/ai/metadata", tok, metadataRequest{DataURI: "https://cdn.example/cat.png"}),
		http.StatusBadRequest, "PA_VALIDATION")
}

func TestAIUnavailableWithoutClient(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.AI = nil })
	expectError(t, s.do(t, http.MethodPost, "/v1/ai/video", s.token(t), generateRequest{Prompt: "cats"}),
		http.StatusServiceUnavailable, "PA_UNAVAILABLE")
}

func TestJWKSEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	var set auth.JWKS
	if err := json.Unmarshal(rr.Body.Bytes(), &set); err != nil {
		t.Fatal(err)
	}
	if len(set.Keys) != 1 || set.Keys[0].Kty != "OKP" {
		t.Errorf("jwks = %+v", set)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.CORSAllowedOrigins = []string{"https://admin.example"} })

	req := httptest.NewRequest(http.MethodOptions, "/v1/items", nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{"": "", "abc": "****", "abcdefgh": "****efgh"}
	for in, want := range cases {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
