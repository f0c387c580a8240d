package parser

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantracode/VibeCheck-sub002/internal/filesystem"
	"github.com/quantracode/VibeCheck-sub002/internal/identity"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache owns the parsed form of every module read during one scan. It is
// shared by the rule packs and the proof-trace builder; each path is read
// and parsed at most once even under concurrent access.
type Cache struct {
	root    string
	maxSize int64
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]*ParsedSource // nil value records a failed parse
	exists  map[string]bool
	group   singleflight.Group
	read    func(ctx context.Context, key string) *ParsedSource
}

// NewCache creates a cache for files below root. A maxSize of zero disables
// the size limit.
func NewCache(root string, maxSize int64, logger *zap.Logger) *Cache {
	c := &Cache{
		root:    root,
		maxSize: maxSize,
		logger:  logger,
		entries: make(map[string]*ParsedSource),
		exists:  make(map[string]bool),
	}
	c.read = c.load
	return c
}

// Root returns the directory paths are resolved against
func (c *Cache) Root() string {
	return c.root
}

// Get returns the parsed module at the repo-relative path relPath, or nil
// when it is missing, too large or unparsable. Failures are remembered.
func (c *Cache) Get(ctx context.Context, relPath string) *ParsedSource {
	key := identity.NormalizePath(relPath)

	c.mu.RLock()
	src, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return src
	}

	for {
		v, err, _ := c.group.Do(key, func() (interface{}, error) {
			c.mu.RLock()
			src, ok := c.entries[key]
			c.mu.RUnlock()
			if ok {
				return src, nil
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			src = c.read(ctx, key)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.entries[key] = src
			c.mu.Unlock()
			return src, nil
		})
		if err == nil {
			return v.(*ParsedSource)
		}
		// The load was abandoned by a cancelled caller, possibly not this one
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Cache) load(ctx context.Context, key string) *ParsedSource {
	path := filepath.Join(c.root, filepath.FromSlash(key))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.logger.Debug("Module not readable", zap.String("path", key), zap.Error(err))
		return nil
	}

	file, err := filesystem.ReadFile(ctx, &models.FileInfo{
		Path:         path,
		RelativePath: key,
		Size:         info.Size(),
	}, c.maxSize)
	if err != nil {
		c.logger.Debug("Failed to read module", zap.String("path", key), zap.Error(err))
		return nil
	}

	src, err := Parse(key, file.Content)
	if err != nil {
		c.logger.Debug("Failed to parse module", zap.String("path", key), zap.Error(err))
		return nil
	}
	return src
}

// Put parses content already read by the caller and stores it under relPath
func (c *Cache) Put(relPath string, content []byte) *ParsedSource {
	key := identity.NormalizePath(relPath)
	src, err := Parse(key, content)
	if err != nil {
		c.logger.Debug("Failed to parse module", zap.String("path", key), zap.Error(err))
		src = nil
	}

	c.mu.Lock()
	c.entries[key] = src
	c.exists[key] = true
	c.mu.Unlock()
	return src
}

// Exists reports whether relPath names a regular file below the root
func (c *Cache) Exists(relPath string) bool {
	key := identity.NormalizePath(relPath)

	c.mu.RLock()
	ok, known := c.exists[key]
	c.mu.RUnlock()
	if known {
		return ok
	}

	info, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(key)))
	ok = err == nil && !info.IsDir()

	c.mu.Lock()
	c.exists[key] = ok
	c.mu.Unlock()
	return ok
}

// Len returns the number of cached entries, failures included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
