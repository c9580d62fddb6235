package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "history.db", cfg.DBPath)
	assert.Equal(t, "sqlite", cfg.StorageMode)
	assert.True(t, cfg.DedupOverwritten)
	assert.Equal(t, 90*24*time.Hour, cfg.OverwrittenRetention)
	assert.False(t, cfg.DeleteExpired)
	assert.Equal(t, "0.0.0.0:9092", cfg.Web.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Web.ShutdownTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("DB_PATH", "/var/lib/history/history.bolt")
	t.Setenv("STORAGE_MODE", "bolt")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEDUP_OVERWRITTEN", "false")
	t.Setenv("EXPIRED_RETENTION", "48h")
	t.Setenv("DELETE_EXPIRED", "true")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("API_PASSWORD", "secret")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/history/history.bolt", cfg.DBPath)
	assert.Equal(t, "bolt", cfg.StorageMode)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.DedupOverwritten)
	assert.True(t, cfg.DeleteExpired)
	assert.Equal(t, 48*time.Hour, cfg.ExpiredRetention)
	assert.Equal(t, "admin", cfg.API.Username)
	assert.Equal(t, "secret", cfg.API.Password)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown storage mode", env: map[string]string{"STORAGE_MODE": "postgres"}},
		{name: "unknown log level", env: map[string]string{"LOG_LEVEL": "TRACE"}},
		{name: "username without password", env: map[string]string{"API_USERNAME": "admin"}},
		{name: "zero shutdown timeout", env: map[string]string{"WEB_SHUTDOWN_TIMEOUT": "0s"}},
		{name: "bad webhook", env: map[string]string{"DISCORD_WEBHOOK_URL": "not a url"}},
		{name: "unparsable duration", env: map[string]string{"OVERWRITTEN_RETENTION": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestValidate_NonzeroDuration(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.Web.ReadTimeout = 0

	err = cfg.Validate()
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 1)
	assert.Equal(t, "nonzero_duration", verrs[0].Tag())
	assert.Equal(t, "ReadTimeout", verrs[0].Field())
}
