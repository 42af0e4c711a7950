package pipeline

import (
	"os"
	"sync"
)

// urlIndex is a bounded in-memory map from source URL to published
// cache path. It is purely an optimisation over hashing and statting
// the cache; every hit is revalidated against the filesystem so a
// swept entry is never served stale.
type urlIndex struct {
	mu      sync.Mutex
	entries map[string]string
	max     int
}

func newURLIndex(max int) *urlIndex {
	if max <= 0 {
		max = 512
	}

	return &urlIndex{entries: make(map[string]string), max: max}
}

func (idx *urlIndex) lookup(sourceURL string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	path, ok := idx.entries[sourceURL]
	if !ok {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		delete(idx.entries, sourceURL)
		return "", false
	}

	return path, true
}

func (idx *urlIndex) store(sourceURL string, path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.entries) >= idx.max {
		for evict := range idx.entries {
			delete(idx.entries, evict)
			break
		}
	}

	idx.entries[sourceURL] = path
}
