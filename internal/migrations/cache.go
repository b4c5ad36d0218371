package migrations

import (
	"context"
	"fmt"
	"os"

	"github.com/maypok86/otter"
)

// DefaultCacheCapacity is the default number of files kept by CachedExtractor.
const DefaultCacheCapacity = 4096

// cacheKey identifies a file revision by path, size and modification time.
type cacheKey struct {
	path    string
	size    int64
	modTime int64
}

// CachedExtractor memoizes another OperationSource per file revision, so
// repeated runs over an unchanged tree (watch mode) skip parsing.
// Cached results are shared and must not be mutated.
type CachedExtractor struct {
	next  OperationSource
	cache otter.Cache[cacheKey, *FileOperations]
}

// NewCachedExtractor wraps next with a cache holding up to capacity files.
func NewCachedExtractor(next OperationSource, capacity int) (*CachedExtractor, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}

	cache, err := otter.MustBuilder[cacheKey, *FileOperations](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction cache: %w", err)
	}

	return &CachedExtractor{next: next, cache: cache}, nil
}

// Extract returns the cached operations for path when the file is unchanged,
// extracting and caching them otherwise. Failures are not cached.
func (c *CachedExtractor) Extract(ctx context.Context, path string) (*FileOperations, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat migration %s: %w", path, err)
	}

	key := cacheKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if ops, ok := c.cache.Get(key); ok {
		return ops, nil
	}

	ops, err := c.next.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, ops)
	return ops, nil
}

// Len returns the number of cached files.
func (c *CachedExtractor) Len() int {
	return c.cache.Size()
}

// Close releases the cache's background resources.
func (c *CachedExtractor) Close() {
	c.cache.Close()
}
