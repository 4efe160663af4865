package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GEMA_DATABASE_URL", "sqlite://file::memory:")
	t.Setenv("GEMA_OPENAI_API_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 3, cfg.JobMaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.JobInitialBackoff)
	require.Equal(t, 30*time.Minute, cfg.SessionInactivityTimeout)
	require.Equal(t, "mock", cfg.AIProvider, "openai without a key falls back to the offline gateway")
	require.False(t, cfg.AuthEnabled())
	require.Equal(t, "*", cfg.CORSAllowOrigins)
	require.False(t, cfg.AccessLog)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("GEMA_DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	t.Setenv("GEMA_DATABASE_URL", "sqlite://file::memory:")
	t.Setenv("GEMA_SESSION_INACTIVITY_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("GEMA_DATABASE_URL", "postgres://localhost/gema")
	t.Setenv("GEMA_APP_PORT", ":9090")
	t.Setenv("GEMA_JOB_MAX_ATTEMPTS", "5")
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_HTTP_CORS_ORIGINS", "https://gema.example")
	t.Setenv("GEMA_HTTP_ACCESS_LOG", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 5, cfg.JobMaxAttempts)
	require.True(t, cfg.AuthEnabled())
	require.Equal(t, "https://gema.example", cfg.CORSAllowOrigins)
	require.True(t, cfg.AccessLog)
}
