package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres", cfg.Notify.Backend)
	assert.Equal(t, time.Second, cfg.Tanda.TickInterval)
	assert.Equal(t, 3, cfg.Tanda.MinimumScore)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "Memory")
	t.Setenv("NOTIFY_BACKEND", "memory")
	t.Setenv("RECONCILE_INTERVAL", "5s")
	t.Setenv("TANDA_MINIMUM_SCORE", "0")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 0, cfg.Tanda.MinimumScore)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"SERVER_PORT": "70000"}},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "mongo"}},
		{"unknown notify", map[string]string{"NOTIFY_BACKEND": "kafka"}},
		{"listen without postgres", map[string]string{"STORAGE_BACKEND": "memory", "NOTIFY_BACKEND": "postgres"}},
		{"score off scale", map[string]string{"TANDA_MINIMUM_SCORE": "6"}},
		{"empty dsn", map[string]string{"DATABASE_DSN": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
