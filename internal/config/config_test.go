package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setVAPID(t *testing.T) {
	t.Helper()
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
}

func TestLoadDefaults(t *testing.T) {
	setVAPID(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg := Load()

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 20, cfg.DBMaxConnections())
	assert.Equal(t, 5.0, cfg.Fanout.AlertRadiusKm)
	assert.Equal(t, 500, cfg.Fanout.BatchSize)
	assert.Equal(t, 4, cfg.Fanout.Concurrency)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, int64(20)<<20, cfg.MaxUploadSize)
	assert.Equal(t, "pub", cfg.Push.VAPIDPublicKey)
	assert.Equal(t, 200, cfg.RateLimitPerMinIP)
	assert.Equal(t, 100, cfg.RateLimitPerMinActor)
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	setVAPID(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9090"
alert_radius_km: 12.5
fanout_concurrency: 8
cache_ttl_seconds: 30
redis_url: "redis://cache:6379"
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("FANOUT_CONCURRENCY", "2")
	t.Setenv("DB_MAX_CONNECTIONS", "7")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 12.5, cfg.Fanout.AlertRadiusKm)
	assert.Equal(t, 2, cfg.Fanout.Concurrency, "env wins over yaml")
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "redis://cache:6379", cfg.Redis.URL)
	assert.Equal(t, 7, cfg.DBMaxConnections())
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	setVAPID(t)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("ALERT_RADIUS_KM", "far")
	t.Setenv("FANOUT_BATCH_SIZE", "-3")

	cfg := Load()

	assert.Equal(t, 5.0, cfg.Fanout.AlertRadiusKm)
	assert.Equal(t, 500, cfg.Fanout.BatchSize)
}
