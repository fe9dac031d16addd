package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, int64(25), cfg.MaxFileSizeMB)
	assert.Equal(t, int64(25<<20), cfg.MaxFileSizeBytes())
	assert.Equal(t, []int{10, 20, 50}, cfg.DefaultThresholds)
	assert.Equal(t, 10000, cfg.LargeDatasetThreshold)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.True(t, cfg.UseLLM)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.NoError(t, cfg.validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONCENTRA_CONFIG", "")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("API_KEY", "secret")
	t.Setenv("MAX_FILE_SIZE_MB", "5")
	t.Setenv("DEFAULT_THRESHOLDS", "5, 25, 75")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "120")
	t.Setenv("USE_LLM", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, int64(5), cfg.MaxFileSizeMB)
	assert.Equal(t, []int{5, 25, 75}, cfg.DefaultThresholds)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.False(t, cfg.UseLLM)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_YAMLThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\ndatasets_path: /tmp/ds\n"), 0o644))

	t.Setenv("CONCENTRA_CONFIG", path)
	t.Setenv("HTTP_PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Port, "env wins over file")
	assert.Equal(t, "/tmp/ds", cfg.DatasetsPath, "file wins over default")
}

func TestLoad_BadThresholdsIgnored(t *testing.T) {
	t.Setenv("CONCENTRA_CONFIG", "")
	t.Setenv("DEFAULT_THRESHOLDS", "10,200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 50}, cfg.DefaultThresholds, "out-of-range list falls back to defaults")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.MaxFileSizeMB = 0
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.DefaultThresholds = []int{10, 101}
	assert.Error(t, cfg.validate())
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("Yes", false))
	assert.True(t, parseBool("1", false))
	assert.False(t, parseBool("off", true))
	assert.True(t, parseBool("maybe", true), "unparseable keeps the fallback")
}
