package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindStringAndExt(t *testing.T) {
	assert.Equal(t, "video", Video.String())
	assert.Equal(t, "mp4", Video.Ext())
	assert.Equal(t, "photo", Photo.String())
	assert.Equal(t, "jpg", Photo.Ext())
	assert.Equal(t, "audio", Audio.String())
	assert.Equal(t, "mp3", Audio.Ext())
	assert.Equal(t, "voice", Voice.String())
	assert.Equal(t, "ogg", Voice.Ext())
}

func TestItemSourceURLAndPair(t *testing.T) {
	single := Item{Kind: Video, URLs: []string{"https://cdn/only"}}
	assert.Equal(t, "https://cdn/only", single.SourceURL())
	assert.False(t, single.IsPair())

	pair := Item{Kind: Video, URLs: []string{"https://cdn/v", "https://cdn/a"}}
	assert.Equal(t, "https://cdn/v", pair.SourceURL())
	assert.True(t, pair.IsPair())

	keyed := Item{Kind: Video, URLs: []string{"https://cdn/v?expires=1"}, Source: "https://vk.com/video-1_2"}
	assert.Equal(t, "https://vk.com/video-1_2", keyed.SourceURL(), "an explicit source wins over the stream URL")

	assert.Empty(t, Item{}.SourceURL())
}

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()

	assert.Equal(t, int64(50*1024*1024), limits[Video])
	assert.Equal(t, int64(10*1024*1024), limits[Photo])
	assert.Equal(t, int64(50*1024*1024), limits[Audio])
	assert.Equal(t, int64(50*1024*1024), limits[Voice])
}
