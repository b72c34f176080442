package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresBackendURL(t *testing.T) {
	t.Setenv("TRANSITMAP_BACKEND_URL", "")
	t.Setenv("TRANSITMAP_CONFIG", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BackendURL")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRANSITMAP_CONFIG", "")
	t.Setenv("TRANSITMAP_BACKEND_URL", "http://backend.local/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://backend.local/api", cfg.BackendURL, "trailing slash is trimmed")
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 84600*time.Second, cfg.InitialMaxAge)
	assert.Equal(t, 60*time.Second, cfg.RefreshMaxAge)
	assert.Equal(t, 3600*time.Second, cfg.ActiveProbeMaxAge)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 16, cfg.MinStopsZoom)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRANSITMAP_CONFIG", "")
	t.Setenv("TRANSITMAP_BACKEND_URL", "http://backend.local")
	t.Setenv("TRANSITMAP_PORT", "9090")
	t.Setenv("TRANSITMAP_REFRESH_MAX_AGE_SEC", "120")
	t.Setenv("TRANSITMAP_REFRESH_INTERVAL", "2s")
	t.Setenv("TRANSITMAP_ALLOWED_ORIGINS", "http://a.example, http://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 120*time.Second, cfg.RefreshMaxAge)
	assert.Equal(t, 2*time.Second, cfg.RefreshInterval)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("TRANSITMAP_CONFIG", "")
	t.Setenv("TRANSITMAP_BACKEND_URL", "http://backend.local")
	t.Setenv("TRANSITMAP_PORT", "not-a-number")
	t.Setenv("TRANSITMAP_ACTIVE_MAX_AGE_SEC", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3600*time.Second, cfg.ActiveProbeMaxAge)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transitmap.yml")
	yml := `
backendURL: http://yaml.local
port: 7070
refreshInterval: 10s
minStopsZoom: 15
alertsFeedURL: http://feeds.local/alerts.pb
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("TRANSITMAP_CONFIG", path)
	t.Setenv("TRANSITMAP_BACKEND_URL", "")
	t.Setenv("TRANSITMAP_PORT", "7171")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://yaml.local", cfg.BackendURL)
	assert.Equal(t, 7171, cfg.Port, "environment wins over file")
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 15, cfg.MinStopsZoom)
	assert.Equal(t, "http://feeds.local/alerts.pb", cfg.AlertsFeedURL)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("TRANSITMAP_CONFIG", filepath.Join(t.TempDir(), "nope.yml"))
	t.Setenv("TRANSITMAP_BACKEND_URL", "http://backend.local")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad backend url", func(c *Config) { c.BackendURL = "not a url" }, true},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"zero refresh interval", func(c *Config) { c.RefreshInterval = 0 }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad alerts url", func(c *Config) { c.AlertsFeedURL = "::" }, true},
		{"latitude out of range", func(c *Config) { c.MapCenterLat = 91 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.BackendURL = "http://backend.local"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
