package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("S3_BUCKET", "receipts")
}

func TestLoad(t *testing.T) {
	t.Run("loads all config from env", func(t *testing.T) {
		setRequired(t)
		t.Setenv("GEMINI_API_KEY", "gemini-key")
		t.Setenv("GOOGLE_CLIENT_ID", "client-id")
		t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
		t.Setenv("PUBLIC_BASE_URL", "https://receipts.example.com/")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		require.Equal(t, "gemini-key", cfg.GeminiAPIKey)
		require.Equal(t, "https://receipts.example.com", cfg.PublicBaseURL)
		require.True(t, cfg.GoogleOAuthConfigured())
	})

	t.Run("applies defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
		require.Equal(t, 5*time.Minute, cfg.UploadSessionTTL)
		require.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
		require.Equal(t, DefaultSyncWorkers, cfg.SyncWorkers)
		require.Equal(t, DefaultSyncMaxAttempts, cfg.SyncMaxAttempts)
		require.Equal(t, DefaultDriveFolderName, cfg.DefaultDriveFolder)
		require.Equal(t, "none", cfg.TelemetryExporter)
		require.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("ignores invalid numeric overrides", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SYNC_WORKERS", "-3")
		t.Setenv("SYNC_MAX_ATTEMPTS", "many")
		t.Setenv("SYNC_POLL_INTERVAL", "soon")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, DefaultSyncWorkers, cfg.SyncWorkers)
		require.Equal(t, DefaultSyncMaxAttempts, cfg.SyncMaxAttempts)
		require.Equal(t, DefaultSyncPollInterval, cfg.SyncPollInterval)
	})

	t.Run("accepts valid overrides", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SYNC_WORKERS", "4")
		t.Setenv("SYNC_POLL_INTERVAL", "250ms")
		t.Setenv("OTEL_EXPORTER", "stdout")

		cfg, err := Load()
		require.NoError(t, err)
		require.Equal(t, 4, cfg.SyncWorkers)
		require.Equal(t, 250*time.Millisecond, cfg.SyncPollInterval)
		require.Equal(t, "stdout", cfg.TelemetryExporter)
	})

	t.Run("reports all missing required values", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("AUTH_JWT_SECRET", "")
		t.Setenv("S3_BUCKET", "")

		cfg, err := Load()
		require.Error(t, err)
		require.Nil(t, cfg)
		require.Contains(t, err.Error(), "DATABASE_URL is required")
		require.Contains(t, err.Error(), "AUTH_JWT_SECRET is required")
		require.Contains(t, err.Error(), "S3_BUCKET is required")
	})

	t.Run("rejects half-configured S3 credentials", func(t *testing.T) {
		setRequired(t)
		t.Setenv("S3_ACCESS_KEY_ID", "AKIA")
		t.Setenv("S3_SECRET_ACCESS_KEY", "")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "must be set together")
	})

	t.Run("rejects unknown exporter", func(t *testing.T) {
		setRequired(t)
		t.Setenv("OTEL_EXPORTER", "zipkin")

		_, err := Load()
		require.Error(t, err)
		require.Contains(t, err.Error(), "OTEL_EXPORTER")
	})
}

func TestGoogleOAuthConfigured(t *testing.T) {
	t.Parallel()

	require.False(t, (&Config{}).GoogleOAuthConfigured())
	require.False(t, (&Config{GoogleClientID: "id"}).GoogleOAuthConfigured())
	require.True(t, (&Config{GoogleClientID: "id", GoogleClientSecret: "secret"}).GoogleOAuthConfigured())
}
