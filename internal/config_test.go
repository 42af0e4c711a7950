package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shzored/mediabot/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileUsesEnvDefaults(t *testing.T) {
	t.Setenv("MEDIABOT_TOKEN", "test-token")

	config := Config{}
	require.NoError(t, config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))

	assert.Equal(t, "test-token", config.Telegram.Token)
	assert.Equal(t, 3, config.Queue.Workers)
	assert.Equal(t, 24, config.Cache.LifetimeHours)
	assert.Equal(t, int64(1<<30), config.Cache.MaxSizeBytes)
	assert.Equal(t, 60, config.Cache.SweepIntervalMinutes)
	assert.Equal(t, 3, config.Fetch.MaxAttempts)
	assert.Equal(t, "yt-dlp", config.Fetch.YtdlpPath)
	assert.Equal(t, "192k", config.Transcode.AudioBitrate)
	assert.Equal(t, "64k", config.Transcode.VoiceBitrate)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	t.Setenv("MEDIABOT_TOKEN", "env-token")
	t.Setenv("MEDIABOT_QUEUE_WORKERS", "7")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  workers: 5\ncache:\n  lifetime_hours: 48\n"), 0o644))

	config := Config{}
	require.NoError(t, config.LoadFromFile(path))

	assert.Equal(t, 7, config.Queue.Workers, "environment overrides the file")
	assert.Equal(t, 48, config.Cache.LifetimeHours)
	assert.Equal(t, 48*time.Hour, config.cacheLifetime())
}

func TestLimitsMapping(t *testing.T) {
	t.Setenv("MEDIABOT_TOKEN", "test-token")

	config := Config{}
	require.NoError(t, config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")))

	limits := config.Limits.Limits()
	assert.Equal(t, int64(52428800), limits[media.Video])
	assert.Equal(t, int64(10485760), limits[media.Photo])
	assert.Equal(t, int64(52428800), limits[media.Audio])
	assert.Equal(t, int64(52428800), limits[media.Voice])
}

func TestCacheDirFallback(t *testing.T) {
	config := Config{}
	config.Cache.Dir = "/var/cache/custom"
	assert.Equal(t, "/var/cache/custom", config.CacheDir())

	config.Cache.Dir = ""
	assert.NotEmpty(t, config.CacheDir())
}
