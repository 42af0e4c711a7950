package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shzored/mediabot/pkg/logger"
)

// SweepConfig holds the static maintenance limits for the cache tree.
type SweepConfig struct {
	Lifetime time.Duration
	MaxBytes int64
	Interval time.Duration
}

// lowWatermark is the fraction of MaxBytes the size pass evicts down to.
const lowWatermark = 0.8

type sweepEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// Run executes the periodic cache sweep until the context is cancelled.
// Satisfies the RunnableService contract used by the app wiring.
func (store *Store) Run(ctx context.Context, config SweepConfig) error {
	log.Emit(logger.NEW, "Cache sweep running every %s (lifetime=%s, ceiling=%d bytes)\n", config.Interval, config.Lifetime, config.MaxBytes)

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			store.Sweep(config)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Cache sweep stopped (context cancelled)\n")
			return nil
		}
	}
}

// Sweep performs one maintenance pass over a point-in-time snapshot of the
// cache tree: first every entry older than the configured lifetime is
// removed, then if the total size still exceeds the ceiling, the oldest
// remaining entries are removed until the total is at or below 80% of the
// ceiling. Entries deleted concurrently by another actor are tolerated.
func (store *Store) Sweep(config SweepConfig) {
	entries, total := store.snapshot()

	now := time.Now()
	live := entries[:0]
	for _, entry := range entries {
		if now.Sub(entry.modTime) > config.Lifetime {
			if store.removeEntry(entry.path) {
				total -= entry.size
				log.Debugf("Swept expired cache entry %s (age %s)\n", entry.path, now.Sub(entry.modTime))
			}
			continue
		}
		live = append(live, entry)
	}

	if total <= config.MaxBytes {
		return
	}

	floor := int64(float64(config.MaxBytes) * lowWatermark)
	sort.Slice(live, func(i, j int) bool { return live[i].modTime.Before(live[j].modTime) })
	for _, entry := range live {
		if total <= floor {
			break
		}
		if store.removeEntry(entry.path) {
			total -= entry.size
			log.Debugf("Swept cache entry %s to reclaim space (total now %d bytes)\n", entry.path, total)
		}
	}
}

// snapshot walks the per-kind cache directories (scratch files are the
// orchestrator's to clean, not the sweep's) and returns their entries
// along with the total size.
func (store *Store) snapshot() ([]sweepEntry, int64) {
	entries := make([]sweepEntry, 0, 64)
	var total int64

	filepath.Walk(store.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasPrefix(path, filepath.Join(store.root, scratchDir)) {
			return nil
		}

		entries = append(entries, sweepEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})

	return entries, total
}

func (store *Store) removeEntry(path string) bool {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
		log.Warnf("Failed to sweep cache entry %s: %v\n", path, err)
		return false
	}

	return true
}
