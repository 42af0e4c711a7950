package internal

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shzored/mediabot/internal/media"
)

// TelegramConfig is the bot identity and the channel whose membership
// gates usage. An empty channel ID disables gating.
type TelegramConfig struct {
	Token     string `yaml:"token" env:"MEDIABOT_TOKEN" env-required:"true"`
	ChannelID string `yaml:"channel_id" env:"MEDIABOT_CHANNEL_ID"`
}

// QueueConfig tunes the request queue.
type QueueConfig struct {
	Workers              int `yaml:"workers" env:"MEDIABOT_QUEUE_WORKERS" env-default:"3"`
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" env:"MEDIABOT_QUEUE_GRACE" env-default:"10"`
}

// CacheConfig tunes the on-disk cache and its maintenance sweep.
type CacheConfig struct {
	Dir                  string `yaml:"dir" env:"MEDIABOT_CACHE_DIR"`
	LifetimeHours        int    `yaml:"lifetime_hours" env:"MEDIABOT_CACHE_LIFETIME_HOURS" env-default:"24"`
	MaxSizeBytes         int64  `yaml:"max_size_bytes" env:"MEDIABOT_CACHE_MAX_BYTES" env-default:"1073741824"`
	SweepIntervalMinutes int    `yaml:"sweep_interval_minutes" env:"MEDIABOT_CACHE_SWEEP_MINUTES" env-default:"60"`
}

// FetchConfig tunes the retrieval client and its external extractors.
type FetchConfig struct {
	MaxAttempts    int    `yaml:"max_attempts" env:"MEDIABOT_FETCH_ATTEMPTS" env-default:"3"`
	BackoffSeconds int    `yaml:"backoff_seconds" env:"MEDIABOT_FETCH_BACKOFF" env-default:"2"`
	YtdlpPath      string `yaml:"ytdlp_path" env:"MEDIABOT_YTDLP_PATH" env-default:"yt-dlp"`
	GalleryDLPath  string `yaml:"gallerydl_path" env:"MEDIABOT_GALLERYDL_PATH" env-default:"gallery-dl"`
	CookiesDir     string `yaml:"cookies_dir" env:"MEDIABOT_COOKIES_DIR"`
	UserAgent      string `yaml:"user_agent" env:"MEDIABOT_USER_AGENT"`
}

// TranscodeConfig tunes the ffmpeg adapter.
type TranscodeConfig struct {
	FfmpegPath   string `yaml:"ffmpeg_path" env:"MEDIABOT_FFMPEG_PATH" env-default:"ffmpeg"`
	FfprobePath  string `yaml:"ffprobe_path" env:"MEDIABOT_FFPROBE_PATH" env-default:"ffprobe"`
	AudioBitrate string `yaml:"audio_bitrate" env:"MEDIABOT_AUDIO_BITRATE" env-default:"192k"`
	VoiceBitrate string `yaml:"voice_bitrate" env:"MEDIABOT_VOICE_BITRATE" env-default:"64k"`
}

// LimitsConfig holds the per-kind delivery size ceilings in bytes.
type LimitsConfig struct {
	VideoBytes int64 `yaml:"video_bytes" env:"MEDIABOT_LIMIT_VIDEO" env-default:"52428800"`
	PhotoBytes int64 `yaml:"photo_bytes" env:"MEDIABOT_LIMIT_PHOTO" env-default:"10485760"`
	AudioBytes int64 `yaml:"audio_bytes" env:"MEDIABOT_LIMIT_AUDIO" env-default:"52428800"`
	VoiceBytes int64 `yaml:"voice_bytes" env:"MEDIABOT_LIMIT_VOICE" env-default:"52428800"`
}

// Limits converts the raw byte counts into the pipeline's limit map.
func (limits LimitsConfig) Limits() media.Limits {
	return media.Limits{
		media.Video: limits.VideoBytes,
		media.Photo: limits.PhotoBytes,
		media.Audio: limits.AudioBytes,
		media.Voice: limits.VoiceBytes,
	}
}

// Config is the top level application configuration, read from a YAML
// file with environment variable overrides.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Queue     QueueConfig     `yaml:"queue"`
	Cache     CacheConfig     `yaml:"cache"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// LoadFromFile loads configuration from the YAML file at the path, with
// the environment taking precedence. If the file does not exist the
// environment alone is used.
func (config *Config) LoadFromFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return cleanenv.ReadEnv(config)
	}

	return cleanenv.ReadConfig(path, config)
}

// CacheDir resolves the configured cache directory, falling back to the
// platform user cache directory.
func (config *Config) CacheDir() string {
	if config.Cache.Dir != "" {
		return config.Cache.Dir
	}

	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}

	return filepath.Join(base, "mediabot")
}

func (config *Config) cacheLifetime() time.Duration {
	return time.Duration(config.Cache.LifetimeHours) * time.Hour
}

func (config *Config) sweepInterval() time.Duration {
	return time.Duration(config.Cache.SweepIntervalMinutes) * time.Minute
}

func (config *Config) fetchBackoff() time.Duration {
	return time.Duration(config.Fetch.BackoffSeconds) * time.Second
}

func (config *Config) shutdownGrace() time.Duration {
	return time.Duration(config.Queue.ShutdownGraceSeconds) * time.Second
}
