package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "eventcal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadFillsMissingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
feed:
  events_url: "https://feed.example.com/events.json"
  timeout: 3s
source_timezone: "America/Los_Angeles"
store: "bogus"
basic_auth:
  username: admin
  password: secret
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://feed.example.com/events.json", cfg.Feed.EventsURL)
	assert.Equal(t, 3*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, DefaultConfig().Feed.TimezonesURL, cfg.Feed.TimezonesURL)
	assert.Equal(t, "America/Los_Angeles", cfg.SourceTimezone)
	assert.Equal(t, "UTC", cfg.DisplayTimezone)
	assert.Equal(t, StoreFile, cfg.Store)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventcal.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	t.Setenv("EVENTCAL_LISTEN", "0.0.0.0:7000")
	t.Setenv("EVENTCAL_STORE", StoreRedis)
	t.Setenv("EVENTCAL_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("EVENTCAL_EVENTS_URL", "https://mirror.example.com/events.json")
	t.Setenv("EVENTCAL_FEED_RETRIES", "5")
	t.Setenv("EVENTCAL_PRODUCTION", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:7000", cfg.Listen)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, "https://mirror.example.com/events.json", cfg.Feed.EventsURL)
	assert.Equal(t, 5, cfg.Feed.Retries)
	assert.True(t, cfg.Production)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display_timezone: Mars/Olympus\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventcal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
