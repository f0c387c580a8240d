package filesystem

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/quantracode/VibeCheck-sub002/internal/config"
	"github.com/quantracode/VibeCheck-sub002/pkg/models"
	"go.uber.org/zap"
)

// Walker walks the source tree and finds files to scan
type Walker struct {
	config  *config.Config
	logger  *zap.Logger
	exclude map[string]bool
}

// NewWalker creates a new filesystem walker
func NewWalker(cfg *config.Config, logger *zap.Logger) *Walker {
	// Build exclude map for fast lookup
	exclude := make(map[string]bool)
	for _, dir := range cfg.Exclude {
		exclude[dir] = true
	}

	return &Walker{
		config:  cfg,
		logger:  logger,
		exclude: exclude,
	}
}

// Walk recursively walks the directory tree. Directories are not passed to
// the callback. Walking stops when ctx is cancelled.
func (w *Walker) Walk(ctx context.Context, root string, callback func(*models.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			w.logger.Warn("Error accessing path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil // Continue walking
		}

		// Get relative path
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if path != root && w.shouldExclude(d.Name(), relPath) {
				w.logger.Debug("Skipping excluded directory", zap.String("path", relPath))
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			w.logger.Warn("Error reading file info", zap.String("path", relPath), zap.Error(err))
			return nil
		}

		return callback(&models.FileInfo{
			Path:         path,
			RelativePath: relPath,
			Size:         info.Size(),
			IsSymlink:    info.Mode()&fs.ModeSymlink != 0,
			IsHidden:     isHidden(d.Name()),
		})
	})
}

// shouldExclude checks if a directory should be excluded
func (w *Walker) shouldExclude(name, relPath string) bool {
	if w.exclude[name] {
		return true
	}

	for _, part := range strings.Split(relPath, "/") {
		if w.exclude[part] {
			return true
		}
	}

	return false
}

// isHidden checks if a file is hidden
func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// GetExtension returns the file extension without dot
func GetExtension(path string) string {
	ext := filepath.Ext(path)
	if len(ext) > 0 && ext[0] == '.' {
		return ext[1:]
	}
	return ext
}
