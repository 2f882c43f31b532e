// Package server implements the HTTP API of the admin panel.
// It exposes the view controller, app profiles, backend settings and AI
// generation behind a session token issued by the login endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/purrfectlabs/purrfect-admin-go/internal/admin"
	"github.com/purrfectlabs/purrfect-admin-go/internal/auth"
	"github.com/purrfectlabs/purrfect-admin-go/internal/datauri"
	errordefs "github.com/purrfectlabs/purrfect-admin-go/internal/errors"
	"github.com/purrfectlabs/purrfect-admin-go/internal/genai"
	"github.com/purrfectlabs/purrfect-admin-go/internal/metrics"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	ContextKeySubject       ContextKey = "sub"           // Session subject from the JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

const tracerName = "purrfect-admin"

// Options wires the dependencies of the API.
type Options struct {
	Controller *admin.Controller
	Settings   *settings.Settings
	AI         *genai.Client
	Gate       *auth.Gate
	Sessions   *auth.Sessions

	LoginRate          string   // ulule/limiter formatted rate for POST /v1/login, e.g. "5-M"
	MaxBodyBytes       int64    // Upper bound of a request body; 0 disables the limit
	CORSAllowedOrigins []string // Empty means no CORS headers are sent
	GeminiKeyFallback  string   // Environment key reported when no key is stored in settings

	Logger *slog.Logger
}

// Mux handles HTTP requests for the admin API.
type Mux struct {
	mux      *http.ServeMux
	ctl      *admin.Controller
	settings *settings.Settings
	ai       *genai.Client
	gate     *auth.Gate
	sessions *auth.Sessions
	login    *limiter.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	maxBodyBytes int64
	envGeminiKey string
}

// NewMux builds the API handler with all routes and middleware registered.
func NewMux(opts Options) (http.Handler, error) {
	if opts.Controller == nil || opts.Settings == nil || opts.Gate == nil || opts.Sessions == nil {
		return nil, errors.New("server: controller, settings, gate and sessions are required")
	}
	if opts.LoginRate == "" {
		opts.LoginRate = "5-M"
	}
	rate, err := limiter.NewRateFromFormatted(opts.LoginRate)
	if err != nil {
		return nil, fmt.Errorf("server: login rate %q: %w", opts.LoginRate, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Mux{
		mux:          http.NewServeMux(),
		ctl:          opts.Controller,
		settings:     opts.Settings,
		ai:           opts.AI,
		gate:         opts.Gate,
		sessions:     opts.Sessions,
		login:        limiter.New(memory.NewStore(), rate),
		metrics:      metrics.NewMetrics(),
		logger:       opts.Logger,
		maxBodyBytes: opts.MaxBodyBytes,
		envGeminiKey: opts.GeminiKeyFallback,
	}

	// Health and discovery endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())
	m.mux.HandleFunc("GET /.well-known/jwks.json", m.handleJWKS)
	m.mux.HandleFunc("POST /v1/login", m.rateLimited(m.handleLogin))

	// Panel state
	m.mux.HandleFunc("GET /v1/state", m.authed(m.handleState))
	m.mux.HandleFunc("POST /v1/view", m.authed(m.handleNavigate))
	m.mux.HandleFunc("GET /v1/preview", m.authed(m.handlePreview))

	// Media items
	m.mux.HandleFunc("GET /v1/items", m.authed(m.handleListItems))
	m.mux.HandleFunc("POST /v1/items", m.authed(m.handleSaveItem))
	m.mux.HandleFunc("POST /v1/items/cancel", m.authed(m.handleCancelEdit))
	m.mux.HandleFunc("POST /v1/items/{id}/edit", m.authed(m.handleBeginEdit))
	m.mux.HandleFunc("DELETE /v1/items/{id}", m.authed(m.handleDeleteItem))

	// App profiles
	m.mux.HandleFunc("GET /v1/apps", m.authed(m.handleListApps))
	m.mux.HandleFunc("POST /v1/apps", m.authed(m.handleAddApp))
	m.mux.HandleFunc("POST /v1/apps/active", m.authed(m.handleSetActiveApp))
	m.mux.HandleFunc("DELETE /v1/apps/{id}", m.authed(m.handleDeleteApp))

	// Settings
	m.mux.HandleFunc("GET /v1/settings/backend", m.authed(m.handleGetBackend))
	m.mux.HandleFunc("PUT /v1/settings/backend", m.authed(m.handlePutBackend))
	m.mux.HandleFunc("GET /v1/settings/ai-key", m.authed(m.handleGetAIKey))
	m.mux.HandleFunc("PUT /v1/settings/ai-key", m.authed(m.handlePutAIKey))

	// AI generation
	m.mux.HandleFunc("POST /v1/ai/metadata", m.authed(m.handleGenerateMetadata))
	m.mux.HandleFunc("POST /v1/ai/prompt", m.authed(m.handleCreativePrompt))
	m.mux.HandleFunc("POST /v1/ai/wallpaper", m.authed(m.handleGenerateWallpaper))
	m.mux.HandleFunc("POST /v1/ai/video", m.authed(m.handleGenerateVideo))

	var h http.Handler = m.withMiddleware(m.mux)
	if len(opts.CORSAllowedOrigins) > 0 {
		h = corsHandler(opts.CORSAllowedOrigins)(h)
	}
	return h, nil
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
		ExposedHeaders: []string{"X-Correlation-Id", "X-RateLimit-Remaining"},
		MaxAge:         86400,
	}
	// Credentials cannot be combined with a wildcard origin.
	for _, o := range origins {
		if o == "*" {
			return cors.Handler(options)
		}
	}
	options.AllowCredentials = true
	return cors.Handler(options)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	err    error
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// withMiddleware stamps a correlation ID, bounds the body, and records the
// outcome of every request in metrics and the request log.
func (m *Mux) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		if m.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBodyBytes)
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		// r.Pattern is set by the ServeMux on the request it was handed.
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(rec.status)
		m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, status).Inc()
		m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.logRequest(r, rec.status, time.Since(start), correlationID, rec.err)
	})
}

// authed requires a valid session token.
func (m *Mux) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := m.validateJWT(r)
		if err != nil {
			m.writeErrorDef(w, r, err)
			return
		}
		h(w, r.WithContext(context.WithValue(r.Context(), ContextKeySubject, sub)))
	}
}

// validateJWT validates the bearer token and returns its subject.
func (m *Mux) validateJWT(r *http.Request) (string, *errordefs.Error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.PA_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.PA_AUTHN, "invalid Authorization header format", "")
	}

	claims, err := m.sessions.ValidateJWT(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		if strings.Contains(err.Error(), "expired") {
			return "", errordefs.New(errordefs.PA_JWT_INVALID, "session expired, log in again", "")
		}
		return "", errordefs.New(errordefs.PA_JWT_INVALID, "invalid session token", "")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errordefs.New(errordefs.PA_JWT_INVALID, "missing or invalid sub claim", "")
	}
	return sub, nil
}

// rateLimited applies the login limiter keyed by client IP.
func (m *Mux) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lctx, err := m.login.Get(r.Context(), clientIP(r))
		if err != nil {
			m.writeErrorDef(w, r, errordefs.Wrap(errordefs.PA_INTERNAL, err))
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))
		if lctx.Reached {
			m.writeErrorDef(w, r, errordefs.New(errordefs.PA_RATE_LIMIT, "too many login attempts, try again later", ""))
			return
		}
		h(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// mapError translates a domain error into the API error taxonomy.
func mapError(err error) *errordefs.Error {
	var def *errordefs.Error
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &def):
		return def
	case errors.As(err, &maxBytes):
		return errordefs.New(errordefs.PA_VALIDATION, fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit), "")
	case errors.Is(err, admin.ErrNotConfirmed):
		return errordefs.New(errordefs.PA_UNCONFIRMED, "destructive action requires confirm=true", "")
	case errors.Is(err, admin.ErrItemNotFound), errors.Is(err, settings.ErrProfileNotFound):
		return errordefs.Wrap(errordefs.PA_NOT_FOUND, err)
	case errors.Is(err, settings.ErrLastProfile):
		return errordefs.Wrap(errordefs.PA_LAST_PROFILE, err)
	case errors.Is(err, admin.ErrTitleRequired),
		errors.Is(err, settings.ErrInvalidProfile),
		errors.Is(err, storage.ErrInvalidItem),
		errors.Is(err, storage.ErrTypeImmutable),
		errors.Is(err, datauri.ErrNotInline):
		return errordefs.Wrap(errordefs.PA_VALIDATION, err)
	case errors.Is(err, storage.ErrQuotaExceeded):
		return errordefs.Wrap(errordefs.PA_QUOTA, err)
	case errors.Is(err, storage.ErrUpload):
		return errordefs.Wrap(errordefs.PA_UPLOAD, err)
	case errors.Is(err, storage.ErrUnavailable):
		return errordefs.Wrap(errordefs.PA_UNAVAILABLE, err)
	case errors.Is(err, genai.ErrMissingKey):
		return errordefs.Wrap(errordefs.PA_AI_KEY_MISSING, err)
	case errors.Is(err, genai.ErrFailed), errors.Is(err, genai.ErrNoContent):
		return errordefs.Wrap(errordefs.PA_AI_FAILED, err)
	default:
		return errordefs.Wrap(errordefs.PA_INTERNAL, err)
	}
}

// decode reads a JSON body into v.
func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return errordefs.New(errordefs.PA_BAD_REQUEST, "invalid JSON body", "")
	}
	return nil
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeError writes an error response following the PA error taxonomy
func (m *Mux) writeError(w http.ResponseWriter, statusCode int, code, message, correlationID string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	body := map[string]interface{}{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	}
	if details != nil {
		body["details"] = details
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": body})
}

// writeErrorDef writes err stamped with the request correlation ID.
func (m *Mux) writeErrorDef(w http.ResponseWriter, r *http.Request, err *errordefs.Error) {
	err = err.WithCorrelation(correlationID(r))
	if rec, ok := w.(*statusRecorder); ok {
		rec.err = err
	}
	m.writeError(w, err.HTTPStatus, string(err.Code), err.Message, err.CorrelationID, err.Details)
}

// fail maps err and writes it.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	m.writeErrorDef(w, r, mapError(err))
}

// failAs is fail for persistence calls: an unclassified error is reported
// under code rather than PA_INTERNAL.
func (m *Mux) failAs(w http.ResponseWriter, r *http.Request, err error, code errordefs.ErrorCode) {
	def := mapError(err)
	if def.Code == errordefs.PA_INTERNAL {
		def = errordefs.Wrap(code, err)
	}
	m.writeErrorDef(w, r, def)
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		m.logger.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready once the settings store can be read.
// Remote storage is not checked: reads fall back to the local backend.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := m.settings.Profiles(); err != nil {
		m.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (m *Mux) handleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(m.sessions.JWKS())
}
