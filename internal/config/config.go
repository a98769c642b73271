// Package config provides application configuration loading from environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset or invalid.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultUploadSessionTTL  = 5 * time.Minute
	DefaultMaxUploadBytes    = 10 << 20
	DefaultSyncWorkers       = 2
	DefaultSyncMaxAttempts   = 5
	DefaultSyncPollInterval  = 5 * time.Second
	DefaultDriveFolderName   = "Receipts"
	DefaultTelemetryExporter = "none"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	AuthJWTSecret string
	GeminiAPIKey  string
	LogLevel      string
	LogFormat     string

	GoogleClientID     string
	GoogleClientSecret string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicBaseURL   string

	UploadSessionTTL time.Duration
	MaxUploadBytes   int64

	SyncWorkers      int
	SyncMaxAttempts  int
	SyncPollInterval time.Duration

	DefaultDriveFolder string
	TelemetryExporter  string
	TelegramBotToken   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:           envOr("HTTP_ADDR", DefaultHTTPAddr),
		PublicBaseURL:      strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		AuthJWTSecret:      os.Getenv("AUTH_JWT_SECRET"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogFormat:          os.Getenv("LOG_FORMAT"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3Region:           envOr("S3_REGION", "us-east-1"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:      os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:  os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3PublicBaseURL:    strings.TrimRight(os.Getenv("S3_PUBLIC_BASE_URL"), "/"),
		DefaultDriveFolder: envOr("DEFAULT_DRIVE_FOLDER", DefaultDriveFolderName),
		TelemetryExporter:  envOr("OTEL_EXPORTER", DefaultTelemetryExporter),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	cfg.UploadSessionTTL = envDuration("UPLOAD_SESSION_TTL", DefaultUploadSessionTTL)
	cfg.SyncPollInterval = envDuration("SYNC_POLL_INTERVAL", DefaultSyncPollInterval)
	cfg.MaxUploadBytes = int64(envPositiveInt("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes))
	cfg.SyncWorkers = envPositiveInt("SYNC_WORKERS", DefaultSyncWorkers)
	cfg.SyncMaxAttempts = envPositiveInt("SYNC_MAX_ATTEMPTS", DefaultSyncMaxAttempts)

	// Validate required configuration.
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present.
func (c *Config) validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.AuthJWTSecret == "" {
		errs = append(errs, "AUTH_JWT_SECRET is required")
	}

	if c.S3Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}

	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		errs = append(errs, "S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}

	switch c.TelemetryExporter {
	case "none", "stdout", "otlp-grpc", "otlp-http":
	default:
		errs = append(errs, fmt.Sprintf("OTEL_EXPORTER %q is not one of none, stdout, otlp-grpc, otlp-http", c.TelemetryExporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GoogleOAuthConfigured reports whether refresh tokens can be exchanged.
func (c *Config) GoogleOAuthConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func envPositiveInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
