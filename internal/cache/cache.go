// Package cache stores synthesized sentences as content-addressed WAV files.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const fileExt = ".wav"

// Key derives the cache entry name for a sentence spoken by a voice.
func Key(cacheIdentity, text string) string {
	sum := xxhash.Sum64String(cacheIdentity + "_" + text)
	return fmt.Sprintf("%016x", sum)
}

// SentenceCache maps sentence keys to WAV bytes on disk. A cache built with
// an empty directory is disabled: lookups miss and stores do nothing.
type SentenceCache struct {
	dir    string
	memory *lru.Cache[string, []byte]
	log    *slog.Logger
}

// New creates a sentence cache rooted at dir. The directory is created on the
// first Store. memoryEntries > 0 keeps that many recent entries in memory.
func New(dir string, memoryEntries int, log *slog.Logger) (*SentenceCache, error) {
	c := &SentenceCache{
		dir: dir,
		log: log.With(slog.String("component", "sentence-cache")),
	}
	if dir != "" && memoryEntries > 0 {
		mem, err := lru.New[string, []byte](memoryEntries)
		if err != nil {
			return nil, fmt.Errorf("create memory cache: %w", err)
		}
		c.memory = mem
	}
	return c, nil
}

func (c *SentenceCache) Enabled() bool {
	return c != nil && c.dir != ""
}

// Path returns the file backing key.
func (c *SentenceCache) Path(key string) string {
	return filepath.Join(c.dir, key+fileExt)
}

// Lookup returns the cached bytes for key. A missing file is a plain miss;
// unreadable files are logged and also reported as a miss.
func (c *SentenceCache) Lookup(key string) ([]byte, bool) {
	if !c.Enabled() {
		return nil, false
	}
	if c.memory != nil {
		if data, ok := c.memory.Get(key); ok {
			return data, true
		}
	}

	path := c.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("failed to read cached sentence", slog.String("path", path), slogError(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	if c.memory != nil {
		c.memory.Add(key, data)
	}
	c.log.Debug("using wav from cache", slog.String("path", path))
	return data, true
}

// Store persists data under key. Concurrent stores of the same key are
// allowed; the rename makes the last writer win without torn files.
func (c *SentenceCache) Store(key string, data []byte) error {
	if !c.Enabled() {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	path := c.Path(key)
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename cache file: %w", err)
	}

	if c.memory != nil {
		c.memory.Add(key, data)
	}
	c.log.Debug("cached sentence", slog.String("path", path), slog.Int("bytes", len(data)))
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
