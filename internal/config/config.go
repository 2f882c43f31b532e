// Package config provides configuration loading and management for the admin service.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// godotenv.Load does not override variables that are already set, so the OS
// environment always wins over .env files.
func init() {
	// Load .env file if it exists (for shared development config)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// Load .env.local if it exists (for local overrides, gitignored)
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Local backend identifiers.
const (
	LocalKV         = "kv"         // File-backed JSON key-value store
	LocalStructured = "structured" // Embedded SQLite store
)

// Remote backend identifiers, in selection priority order.
const (
	RemoteNone     = ""
	RemoteEndpoint = "endpoint" // Custom HTTP endpoint contract
	RemoteSupabase = "supabase" // Hosted PostgREST table plus Storage bucket
	RemotePostgres = "postgres" // Direct Postgres table plus S3 bucket
)

// Backend is the explicit persistence configuration handed to the storage chain.
// It is a plain value so a chain can be rebuilt from a new one at any time.
type Backend struct {
	Local        string // LocalKV or LocalStructured
	DataDir      string // Directory holding local store files
	KVQuotaBytes int64  // Byte quota of the key-value file (0 means unlimited)

	CustomAPIURL string // Custom HTTP endpoint, e.g. https://host/api.php

	SupabaseURL    string // Project URL, e.g. https://xyz.supabase.co
	SupabaseKey    string // anon or service key
	SupabaseBucket string // Storage bucket for binaries

	PostgresDSN string // Direct connection to a media_items table

	S3Endpoint      string // S3-compatible endpoint for the Postgres backend's binaries
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string // Base for public object URLs; derived from endpoint and bucket when empty

	RemoteTimeout time.Duration // Per-request timeout for remote HTTP backends
}

// Remote returns which remote backend is primary, or RemoteNone when only the
// local backend is configured.
func (b Backend) Remote() string {
	switch {
	case b.CustomAPIURL != "":
		return RemoteEndpoint
	case b.SupabaseURL != "" && b.SupabaseKey != "":
		return RemoteSupabase
	case b.PostgresDSN != "":
		return RemotePostgres
	default:
		return RemoteNone
	}
}

// Config captures environment-driven settings for the admin service.
type Config struct {
	Env  string // Deployment environment (dev, staging, prod)
	Port string // HTTP server port

	Storage Backend // Persistence backends and credentials

	NATSURL string // NATS server URL; empty disables event publishing

	GeminiAPIKey  string        // Default Gemini key; can be replaced at runtime via settings
	GeminiBaseURL string        // Generative Language API base URL
	VideoPoll     time.Duration // Poll interval for long-running video generation

	AdminSecret string        // Expected obfuscated admin password
	JWTIssuer   string        // Issuer for session tokens
	JWTAudience string        // Audience for session tokens
	SessionTTL  time.Duration // Lifetime of a session token

	LoginRateLimit string // ulule/limiter rate formatted as "<limit>-<period>", e.g. "5-M"

	MaxBodyBytes int64 // Upper bound of a request body (inline media included)

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort          = "8080"
	defaultEnv           = "dev"
	defaultDataDir       = "./data"
	defaultKVQuota       = 5 * 1024 * 1024 // Browser localStorage budget
	defaultS3Region      = "us-east-1"
	defaultBucket        = "wallpapers"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultIssuer        = "purrfect-admin"
	defaultAudience      = "purrfect-admin-ui"
	defaultLoginRate     = "5-M"
	defaultMaxBody       = 64 * 1024 * 1024
)

// Load reads environment variables and produces a Config suitable for wiring the service.
// Returns an error if a value is present but invalid, or a required value is missing.
func Load() (Config, error) {
	cfg := Config{
		Env:  getEnv("PURRFECT_ENV", defaultEnv),
		Port: getEnv("PURRFECT_PORT", defaultPort),
		Storage: Backend{
			Local:           strings.ToLower(getEnv("PURRFECT_LOCAL_BACKEND", LocalKV)),
			DataDir:         getEnv("PURRFECT_DATA_DIR", defaultDataDir),
			KVQuotaBytes:    defaultKVQuota,
			CustomAPIURL:    os.Getenv("PURRFECT_CUSTOM_API_URL"),
			SupabaseURL:     strings.TrimRight(os.Getenv("PURRFECT_SUPABASE_URL"), "/"),
			SupabaseKey:     os.Getenv("PURRFECT_SUPABASE_KEY"),
			SupabaseBucket:  getEnv("PURRFECT_SUPABASE_BUCKET", defaultBucket),
			PostgresDSN:     os.Getenv("PURRFECT_DB_DSN"),
			S3Endpoint:      os.Getenv("PURRFECT_S3_ENDPOINT"),
			S3Region:        getEnv("PURRFECT_S3_REGION", defaultS3Region),
			S3Bucket:        getEnv("PURRFECT_S3_BUCKET", defaultBucket),
			S3AccessKey:     os.Getenv("PURRFECT_S3_ACCESS_KEY"),
			S3SecretKey:     os.Getenv("PURRFECT_S3_SECRET_KEY"),
			S3PublicBaseURL: os.Getenv("PURRFECT_S3_PUBLIC_URL"),
			RemoteTimeout:   30 * time.Second,
		},
		NATSURL:        os.Getenv("PURRFECT_NATS_URL"),
		GeminiAPIKey:   os.Getenv("PURRFECT_GEMINI_API_KEY"),
		GeminiBaseURL:  getEnv("PURRFECT_GEMINI_BASE_URL", defaultGeminiBaseURL),
		VideoPoll:      5 * time.Second,
		AdminSecret:    os.Getenv("PURRFECT_ADMIN_SECRET"),
		JWTIssuer:      getEnv("PURRFECT_JWT_ISSUER", defaultIssuer),
		JWTAudience:    getEnv("PURRFECT_JWT_AUDIENCE", defaultAudience),
		SessionTTL:     12 * time.Hour,
		LoginRateLimit: getEnv("PURRFECT_LOGIN_RATE", defaultLoginRate),
		MaxBodyBytes:   defaultMaxBody,
	}

	if cfg.Storage.Local != LocalKV && cfg.Storage.Local != LocalStructured {
		return cfg, fmt.Errorf("PURRFECT_LOCAL_BACKEND must be %q or %q, got %q", LocalKV, LocalStructured, cfg.Storage.Local)
	}

	if v, ok := os.LookupEnv("PURRFECT_KV_QUOTA_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("PURRFECT_KV_QUOTA_BYTES must be a non-negative integer")
		}
		cfg.Storage.KVQuotaBytes = n
	}

	if v, ok := os.LookupEnv("PURRFECT_MAX_BODY_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PURRFECT_REMOTE_TIMEOUT", &cfg.Storage.RemoteTimeout},
		{"PURRFECT_VIDEO_POLL", &cfg.VideoPoll},
		{"PURRFECT_SESSION_TTL", &cfg.SessionTTL},
	}
	for _, d := range durations {
		if v, ok := os.LookupEnv(d.key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	// Handle CORS configuration
	if corsOrigins, exists := os.LookupEnv("PURRFECT_CORS_ALLOWED_ORIGINS"); exists {
		for _, origin := range strings.Split(corsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
			}
		}
	}

	// Validate required parameters
	if cfg.AdminSecret == "" {
		return cfg, fmt.Errorf("PURRFECT_ADMIN_SECRET is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}
