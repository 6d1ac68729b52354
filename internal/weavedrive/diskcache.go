package weavedrive

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// DiskCache persists immutable header documents across runs.
type DiskCache struct {
	db *pebble.DB
}

// OpenDiskCache opens or creates a cache under dir.
func OpenDiskCache(dir string) (*DiskCache, error) {
	return openDiskCache(dir, &pebble.Options{})
}

// OpenMemDiskCache opens a cache held in memory.
func OpenMemDiskCache() (*DiskCache, error) {
	return openDiskCache("", &pebble.Options{FS: vfs.NewMem()})
}

func openDiskCache(dir string, opts *pebble.Options) (*DiskCache, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %w", err)
	}
	return &DiskCache{db: db}, nil
}

// Get returns a copy of the cached document for key.
func (c *DiskCache) Get(key string) ([]byte, bool, error) {
	value, closer, err := c.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting value for key [%s]: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), value...), true, nil
}

// Put stores a document.
func (c *DiskCache) Put(key string, value []byte) error {
	if err := c.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("setting key [%s]: %w", key, err)
	}
	return nil
}

func (c *DiskCache) Close() error {
	return c.db.Close()
}
