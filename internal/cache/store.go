package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shzored/mediabot/internal/media"
	"github.com/shzored/mediabot/pkg/logger"
)

var log = logger.Get("CacheStore")

// Key identifies one cache entry. Entries are scoped per requesting chat
// plus source URL; there is no global dedup across chats.
type Key struct {
	ChatID int64
	Kind   media.Kind
	Source string
	Index  int
}

// Filename derives the canonical, deterministic filename for this key.
// Repeated requests for the same URL by the same chat resolve to the
// same name.
func (k Key) Filename() string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s_%s", k.ChatID, k.Kind, k.Source)))
	suffix := ""
	if k.Index > 0 {
		suffix = fmt.Sprintf("_%d", k.Index)
	}

	return fmt.Sprintf("%s_%d_%s%s.%s", k.Kind, k.ChatID, hex.EncodeToString(sum[:]), suffix, k.Kind.Ext())
}

// Store owns the on-disk cache directory tree: one subdirectory per media
// kind, plus a scratch directory for in-progress downloads/conversions.
// The scratch directory lives under the cache root so that publishing is
// always a same-filesystem atomic rename.
type Store struct {
	root string
}

var kindDirs = map[media.Kind]string{
	media.Video: "videos",
	media.Photo: "photos",
	media.Audio: "audio",
	media.Voice: "voice",
}

const scratchDir = "tmp"

// NewStore creates the cache directory tree rooted at the path provided,
// creating any missing directories.
func NewStore(root string) (*Store, error) {
	for _, kind := range media.Kinds() {
		if err := os.MkdirAll(filepath.Join(root, kindDirs[kind]), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory for %s: %w", kind, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, scratchDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache scratch directory: %w", err)
	}

	return &Store{root: root}, nil
}

// Path returns the canonical path for the key, whether or not an entry
// exists there.
func (store *Store) Path(key Key) string {
	return filepath.Join(store.root, kindDirs[key.Kind], key.Filename())
}

// Has reports the canonical path for the key if a valid entry exists.
// A missing or zero-byte file is never a hit.
func (store *Store) Has(key Key) (string, bool) {
	path := store.Path(key)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}

	return path, true
}

// ScratchPath allocates a unique working path for a not-yet-published
// download or conversion of the given kind.
func (store *Store) ScratchPath(kind media.Kind) string {
	return filepath.Join(store.root, scratchDir, fmt.Sprintf("%s_%s.%s", kind, uuid.NewString(), kind.Ext()))
}

// Publish atomically relocates scratch content to the canonical path for
// the key. The rename either fully succeeds or leaves nothing visible
// under the canonical name; a zero-byte scratch file is rejected.
func (store *Store) Publish(scratch string, key Key) (string, error) {
	info, err := os.Stat(scratch)
	if err != nil {
		return "", fmt.Errorf("cannot publish %s: %w", scratch, err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("cannot publish %s: scratch file is empty", scratch)
	}

	path := store.Path(key)
	if err := os.Rename(scratch, path); err != nil {
		return "", fmt.Errorf("failed to publish cache entry %s: %w", key.Filename(), err)
	}

	log.Emit(logger.NEW, "Published cache entry %s (%d bytes)\n", path, info.Size())
	return path, nil
}

// Discard removes a scratch file if it is still present. Removal of a
// missing file is not an error.
func (store *Store) Discard(scratch string) {
	if scratch == "" {
		return
	}
	if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
		log.Warnf("Failed to discard scratch file %s: %v\n", scratch, err)
	}
}
