package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Identify.Tolerance)
	assert.Equal(t, "best_effort", cfg.Identify.JoinMode)
	assert.Equal(t, "visible", cfg.Identify.LayerOption)
	assert.Empty(t, cfg.Identify.IgnoredURLs)
	assert.Equal(t, 0, cfg.Identify.MaxConcurrency)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSecs)
	assert.Equal(t, 3, cfg.HTTP.MaxAttempts)
	assert.InDelta(t, 20.0, cfg.HTTP.RateLimit, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 1000, cfg.Popup.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Popup.CacheTTL)
	assert.Equal(t, "map.yaml", cfg.Map.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
identify:
  tolerance: 8
  layer_option: all
  join_mode: strict
  ignored_urls: "Basemap|Reference"
log:
  level: debug
  format: console
popup:
  cache_ttl: 90s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Identify.Tolerance)
	assert.Equal(t, "strict", cfg.Identify.JoinMode)
	assert.Equal(t, "all", cfg.Identify.LayerOption)
	assert.Equal(t, "Basemap|Reference", cfg.Identify.IgnoredURLs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 90*time.Second, cfg.Popup.CacheTTL)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GEOPORTAL_IDENTIFY_TOLERANCE", "12")
	t.Setenv("GEOPORTAL_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Identify.Tolerance)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "console"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zap.WarnLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
