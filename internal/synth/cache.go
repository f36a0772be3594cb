package synth

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// DefaultCacheBytes bounds the memory tier of an AudioCache.
const DefaultCacheBytes = 64 << 20

// AudioCache caches synthesized WAV audio in memory and, optionally, on
// disk. Entries are keyed by sha256(variant + ":" + text), where variant
// holds everything besides the text that changes the audio (voice,
// volume).
//
// The memory tier is least-recently-used and bounded by total bytes. The
// disk tier is read whenever a directory is set and written only when
// diskWrite is true.
type AudioCache struct {
	log       *logger.Logger
	dir       string
	diskWrite bool

	mu       sync.Mutex
	maxBytes int
	size     int
	lru      *list.List // front is most recent; values are *cacheEntry
	index    map[string]*list.Element
	hits     int64
	misses   int64
}

type cacheEntry struct {
	key  string
	data []byte
}

// CacheOption configures an AudioCache.
type CacheOption func(*AudioCache)

// WithMemoryLimit bounds the memory tier to n bytes. A single entry
// larger than n is served from disk only.
func WithMemoryLimit(n int) CacheOption {
	return func(c *AudioCache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// NewAudioCache creates a cache. An empty dir disables the disk tier.
func NewAudioCache(dir string, diskWrite bool, log *logger.Logger, opts ...CacheOption) *AudioCache {
	c := &AudioCache{
		log:       log,
		dir:       dir,
		diskWrite: diskWrite,
		maxBytes:  DefaultCacheBytes,
		lru:       list.New(),
		index:     make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	if dir != "" && diskWrite {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("cache: creating %s: %v", dir, err)
		}
	}
	return c
}

// Get returns cached audio, checking memory then disk. A disk hit is
// promoted into memory.
func (c *AudioCache) Get(variant, text string) ([]byte, bool) {
	key := cacheKey(variant, text)

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.lru.MoveToFront(el)
		c.hits++
		data := el.Value.(*cacheEntry).data
		c.mu.Unlock()
		c.log.Debug("cache hit (mem): %s (%d bytes)", truncate(text, 40), len(data))
		return data, true
	}
	c.mu.Unlock()

	if c.dir != "" {
		if data, err := os.ReadFile(c.path(key)); err == nil {
			c.mu.Lock()
			c.hits++
			c.insertLocked(key, data)
			c.mu.Unlock()
			c.log.Debug("cache hit (disk): %s (%d bytes)", truncate(text, 40), len(data))
			return data, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Put stores audio in memory and, when enabled, on disk.
func (c *AudioCache) Put(variant, text string, audio []byte) {
	key := cacheKey(variant, text)

	c.mu.Lock()
	c.insertLocked(key, audio)
	n, size := c.lru.Len(), c.size
	c.mu.Unlock()
	c.log.Debug("cache store: %s (%d bytes; %d entries, %d bytes)", truncate(text, 40), len(audio), n, size)

	if c.dir == "" || !c.diskWrite {
		return
	}
	if err := writeAtomic(c.path(key), audio); err != nil {
		c.log.Error("cache: disk write for %s: %v", key[:12], err)
	}
}

// insertLocked adds or replaces key and evicts from the back until the
// memory tier fits its budget.
func (c *AudioCache) insertLocked(key string, data []byte) {
	if el, ok := c.index[key]; ok {
		c.size -= len(el.Value.(*cacheEntry).data)
		c.lru.Remove(el)
		delete(c.index, key)
	}
	if len(data) > c.maxBytes {
		return
	}
	c.index[key] = c.lru.PushFront(&cacheEntry{key: key, data: data})
	c.size += len(data)
	for c.size > c.maxBytes {
		back := c.lru.Back()
		e := back.Value.(*cacheEntry)
		c.lru.Remove(back)
		delete(c.index, e.key)
		c.size -= len(e.data)
	}
}

// Has reports whether audio is cached in memory or on disk. It does not
// count as a hit or miss.
func (c *AudioCache) Has(variant, text string) bool {
	key := cacheKey(variant, text)
	c.mu.Lock()
	_, ok := c.index[key]
	c.mu.Unlock()
	if ok {
		return true
	}
	if c.dir == "" {
		return false
	}
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Len returns the number of in-memory entries.
func (c *AudioCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the bytes held in memory.
func (c *AudioCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *AudioCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear empties the memory tier and the counters. Disk is left alone.
func (c *AudioCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.index = make(map[string]*list.Element)
	c.size = 0
	c.hits, c.misses = 0, 0
}

func (c *AudioCache) path(key string) string {
	return filepath.Join(c.dir, key+".wav")
}

func cacheKey(variant, text string) string {
	h := sha256.Sum256([]byte(variant + ":" + text))
	return hex.EncodeToString(h[:])
}

// writeAtomic writes data next to path and renames it into place, so
// readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".part-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
