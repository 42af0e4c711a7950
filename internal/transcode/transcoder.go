package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("Transcode")

// Config carries the ffmpeg binaries and encoding parameters used by
// the adapter.
type Config struct {
	FfmpegPath   string
	FfprobePath  string
	AudioBitrate string
	VoiceBitrate string
}

// Error is a failed transcode run. Output carries the tail of the
// process stderr so the cause survives into logs; the exit status alone
// says nothing useful about ffmpeg failures.
type Error struct {
	Stage  string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s failed: %v (%s)", e.Stage, e.Err, e.Output)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Adapter wraps ffmpeg for the three conversions the pipeline needs:
// muxing an elementary stream pair, extracting an audio track, and
// re-encoding audio for voice delivery. Every output is validated
// against the size ceiling for its kind; oversized or empty output is
// deleted and reported as a failure. Conversion failures are never
// retried, the input is deterministic.
type Adapter struct {
	config Config
	limits media.Limits
}

// New constructs an adapter, filling unset config fields with the
// conventional defaults.
func New(config Config, limits media.Limits) *Adapter {
	if config.FfmpegPath == "" {
		config.FfmpegPath = "ffmpeg"
	}
	if config.FfprobePath == "" {
		config.FfprobePath = "ffprobe"
	}
	if config.AudioBitrate == "" {
		config.AudioBitrate = "192k"
	}
	if config.VoiceBitrate == "" {
		config.VoiceBitrate = "64k"
	}
	if limits == nil {
		limits = media.DefaultLimits()
	}

	return &Adapter{config: config, limits: limits}
}

// Mux joins a video elementary stream and an audio elementary stream
// into a single mp4. The video track is copied untouched; audio is
// re-encoded to aac. Two inputs rule out the library bindings here, so
// ffmpeg is invoked directly.
func (adapter *Adapter) Mux(ctx context.Context, videoPath string, audioPath string, outPath string) (int64, error) {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-y", outPath,
	}

	cmd := exec.CommandContext(ctx, adapter.config.FfmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debugf("Muxing %s + %s -> %s\n", videoPath, audioPath, outPath)
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return 0, &Error{Stage: "mux", Output: tailOf(stderr.String()), Err: err}
	}

	return adapter.validateOutput(outPath, media.Video)
}

// ToAudio extracts the audio track of src into an mp3 file at dest.
func (adapter *Adapter) ToAudio(ctx context.Context, src string, dest string) (int64, error) {
	if err := adapter.runTranscode(ctx, "audio extraction", src, dest, "libmp3lame", adapter.config.AudioBitrate); err != nil {
		return 0, err
	}

	return adapter.validateOutput(dest, media.Audio)
}

// ToVoice re-encodes src into an opus ogg file at dest, suitable for
// voice message delivery.
func (adapter *Adapter) ToVoice(ctx context.Context, src string, dest string) (int64, error) {
	if err := adapter.runTranscode(ctx, "voice conversion", src, dest, "libopus", adapter.config.VoiceBitrate); err != nil {
		return 0, err
	}

	return adapter.validateOutput(dest, media.Voice)
}

func (adapter *Adapter) runTranscode(ctx context.Context, stage string, src string, dest string, codec string, bitrate string) error {
	skipVideo := true
	overwrite := true
	opts := ffmpeg.Options{
		AudioCodec: &codec,
		SkipVideo:  &skipVideo,
		Overwrite:  &overwrite,
		ExtraArgs:  map[string]interface{}{"-b:a": bitrate},
	}

	instance := ffmpeg.
		New(&ffmpeg.Config{
			FfmpegBinPath:  adapter.config.FfmpegPath,
			FfprobeBinPath: adapter.config.FfprobePath,
		}).
		Input(src).
		Output(dest).
		WithContext(&ctx)

	log.Debugf("Transcoding %s -> %s (%s @ %s)\n", src, dest, codec, bitrate)
	progress, err := instance.Start(&opts)
	if err != nil {
		os.Remove(dest)
		return &Error{Stage: stage, Err: err}
	}

	for range progress {
		// Drained so the encoder is not blocked on progress reporting.
	}

	return nil
}

// validateOutput enforces the non-empty and size ceiling invariants on
// a finished transcode. A file that fails validation is removed.
func (adapter *Adapter) validateOutput(path string, kind media.Kind) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, &Error{Stage: "validation", Err: err}
	}

	if info.Size() == 0 {
		os.Remove(path)
		return 0, &Error{Stage: "validation", Err: fmt.Errorf("output %s is empty", path)}
	}

	if limit, ok := adapter.limits[kind]; ok && info.Size() > limit {
		os.Remove(path)
		return 0, errors.Wrapf(media.ErrOversized, "%s is %d bytes, ceiling for %s is %d", path, info.Size(), kind, limit)
	}

	return info.Size(), nil
}

func tailOf(output string) string {
	trimmed := strings.TrimSpace(output)
	lines := strings.Split(trimmed, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}

	return strings.Join(lines, " | ")
}
