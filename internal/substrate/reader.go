package substrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"anima/internal/logging"
)

// DefaultCacheSize bounds the reader cache. The registry is a dozen
// files, so the bound exists to keep rotated-archive reads from pinning
// memory, not to evict hot entries.
const DefaultCacheSize = 64

type cacheEntry struct {
	content string
	modTime int64 // UnixNano; mtime equality is the validity test
	hash    string
}

// ReaderStats reports cache effectiveness.
type ReaderStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Reader resolves identifiers to paths and reads with an mtime-validated
// cache: an entry is served only while its recorded mtime equals the live
// stat mtime, so a foreign write is never masked.
type Reader struct {
	fs    FileSystem
	root  string
	cache *lru.Cache[string, cacheEntry] // nil when caching disabled

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewReader builds a reader rooted at root. cacheSize <= 0 disables
// caching entirely.
func NewReader(fs FileSystem, root string, cacheSize int) *Reader {
	r := &Reader{fs: fs, root: root}
	if cacheSize > 0 {
		cache, err := lru.New[string, cacheEntry](cacheSize)
		if err == nil {
			r.cache = cache
		} else {
			logging.Substrate().Warnw("reader cache disabled", "error", err)
		}
	}
	return r
}

// Root returns the substrate root directory.
func (r *Reader) Root() string { return r.root }

// PathFor resolves an identifier to its absolute path.
func (r *Reader) PathFor(id FileID) (string, error) {
	spec, err := Lookup(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.root, spec.Filename), nil
}

// Read returns the file's metadata and raw markdown. Missing files
// surface ErrNotFound.
func (r *Reader) Read(id FileID) (Metadata, string, error) {
	path, err := r.PathFor(id)
	if err != nil {
		return Metadata{}, "", err
	}

	st, err := r.fs.Stat(path)
	if err != nil {
		return Metadata{}, "", err
	}

	if r.cache != nil {
		if entry, ok := r.cache.Get(path); ok && entry.modTime == st.ModTime.UnixNano() {
			r.hits.Add(1)
			return Metadata{ID: id, Path: path, ModTime: st.ModTime, Hash: entry.hash}, entry.content, nil
		}
	}

	data, err := r.fs.ReadFile(path)
	if err != nil {
		return Metadata{}, "", err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	content := string(data)

	if r.cache != nil {
		r.cache.Add(path, cacheEntry{content: content, modTime: st.ModTime.UnixNano(), hash: hash})
	}
	r.misses.Add(1)

	return Metadata{ID: id, Path: path, ModTime: st.ModTime, Hash: hash}, content, nil
}

// ReadOrEmpty reads id, mapping a missing file to empty content. Used by
// prompt assembly where absence is not an error.
func (r *Reader) ReadOrEmpty(id FileID) (Metadata, string) {
	meta, content, err := r.Read(id)
	if err != nil {
		return Metadata{ID: id}, ""
	}
	return meta, content
}

// Invalidate drops the cache entry for a path. Writers call this after
// every successful mutation while still holding the file lock.
func (r *Reader) Invalidate(path string) {
	if r.cache != nil {
		r.cache.Remove(path)
	}
}

// InvalidateID drops the cache entry for an identifier.
func (r *Reader) InvalidateID(id FileID) {
	if path, err := r.PathFor(id); err == nil {
		r.Invalidate(path)
	}
}

// Stats snapshots hit/miss counters.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

// Verify re-reads id and reports whether its digest matches expected.
// Used by health checks for integrity reporting.
func (r *Reader) Verify(id FileID, expected string) (bool, error) {
	meta, _, err := r.Read(id)
	if err != nil {
		return false, fmt.Errorf("verify %s: %w", id, err)
	}
	return meta.Hash == expected, nil
}
