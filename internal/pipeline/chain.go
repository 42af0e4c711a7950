package pipeline

import (
	"sync"

	"github.com/shzored/mediabot/internal/cache"
	"github.com/shzored/mediabot/internal/media"
)

// conversionChain tracks one interactive request from source URL
// through its derived formats. Each stage (video, audio, voice) has a
// fixed cache key; a stage already published is never rebuilt, so a
// voice request arriving after an audio request resumes from the cached
// audio instead of re-downloading the video.
//
// The transport runs each keyboard press on its own goroutine, so two
// presses in the same chat can arrive concurrently; mu serializes them
// against this chain.
type conversionChain struct {
	mu      sync.Mutex
	chatID  int64
	source  string
	scratch []string
}

func newConversionChain(chatID int64, source string) *conversionChain {
	return &conversionChain{chatID: chatID, source: source}
}

func (chain *conversionChain) key(kind media.Kind) cache.Key {
	return cache.Key{ChatID: chain.chatID, Kind: kind, Source: chain.source}
}

// track registers a scratch path for terminal cleanup. Scratch files
// that get published are renamed away, so discarding them later is a
// no-op.
func (chain *conversionChain) track(path string) {
	chain.scratch = append(chain.scratch, path)
}
