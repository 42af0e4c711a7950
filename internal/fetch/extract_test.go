package fetch

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shzored/mediabot/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectStreamsPrefersRequestedFormats(t *testing.T) {
	info := extractInfo{
		RequestedFormats: []extractFormat{
			{URL: "https://cdn/video", VCodec: "h264", ACodec: "none"},
			{URL: "https://cdn/audio", VCodec: "none", ACodec: "opus"},
		},
		Formats: []extractFormat{
			{URL: "https://cdn/combined", VCodec: "h264", ACodec: "aac", Height: 1080},
		},
	}

	kind, urls, err := selectStreams(info)
	require.NoError(t, err)
	assert.Equal(t, media.Video, kind)
	assert.Equal(t, []string{"https://cdn/video", "https://cdn/audio"}, urls)
}

func TestSelectStreamsPrefersCombinedOverPair(t *testing.T) {
	info := extractInfo{
		Formats: []extractFormat{
			{URL: "https://cdn/video-only", VCodec: "h264", ACodec: "none", Height: 2160},
			{URL: "https://cdn/audio-only", VCodec: "none", ACodec: "opus", TBR: 160},
			{URL: "https://cdn/combined-720", VCodec: "h264", ACodec: "aac", Height: 720},
			{URL: "https://cdn/combined-1080", VCodec: "h264", ACodec: "aac", Height: 1080},
		},
	}

	kind, urls, err := selectStreams(info)
	require.NoError(t, err)
	assert.Equal(t, media.Video, kind)
	assert.Equal(t, []string{"https://cdn/combined-1080"}, urls, "best combined format wins even against a higher resolution pair")
}

func TestSelectStreamsFallsBackToBestPair(t *testing.T) {
	info := extractInfo{
		Formats: []extractFormat{
			{URL: "https://cdn/video-480", VCodec: "h264", ACodec: "none", Height: 480},
			{URL: "https://cdn/video-1080", VCodec: "h264", ACodec: "none", Height: 1080},
			{URL: "https://cdn/audio-64", VCodec: "none", ACodec: "opus", TBR: 64},
			{URL: "https://cdn/audio-160", VCodec: "none", ACodec: "opus", TBR: 160},
		},
	}

	kind, urls, err := selectStreams(info)
	require.NoError(t, err)
	assert.Equal(t, media.Video, kind)
	assert.Equal(t, []string{"https://cdn/video-1080", "https://cdn/audio-160"}, urls)
}

func TestSelectStreamsAudioOnly(t *testing.T) {
	info := extractInfo{
		Formats: []extractFormat{
			{URL: "https://cdn/audio", VCodec: "none", ACodec: "mp4a", TBR: 128},
		},
	}

	kind, urls, err := selectStreams(info)
	require.NoError(t, err)
	assert.Equal(t, media.Audio, kind)
	assert.Equal(t, []string{"https://cdn/audio"}, urls)
}

func TestSelectStreamsNoUsableFormats(t *testing.T) {
	_, _, err := selectStreams(extractInfo{
		Formats: []extractFormat{{URL: "", VCodec: "h264", ACodec: "aac"}},
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoStreams))
}

func TestSelectStreamsTopLevelURLFallback(t *testing.T) {
	kind, urls, err := selectStreams(extractInfo{URL: "https://cdn/direct"})

	require.NoError(t, err)
	assert.Equal(t, media.Video, kind)
	assert.Equal(t, []string{"https://cdn/direct"}, urls)
}
