package cfgmng

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name  string `mapstructure:"name"`
	Redis struct {
		Addr string        `mapstructure:"addr"`
		TTL  time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t, "name: orders\nredis:\n  addr: localhost:6379\n  ttl: 5m\n")

	cfg, err := LoadConfig[testConfig](dir, "app")
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, "name: orders\nredis:\n  addr: localhost:6379\n")
	t.Setenv("CFGTEST_REDIS_ADDR", "cache:6380")

	cfg, err := LoadConfig[testConfig](dir, "app", WithEnvPrefix("CFGTEST"))
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig[testConfig](t.TempDir(), "missing")
	assert.Error(t, err)

	cfg, err := LoadConfig[testConfig](t.TempDir(), "missing", Optional(), WithDefaults(map[string]any{
		"name":       "fallback",
		"redis.addr": "localhost:6379",
	}))
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}
