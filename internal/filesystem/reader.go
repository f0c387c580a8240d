package filesystem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/quantracode/VibeCheck-sub002/pkg/models"
)

// ErrTooLarge is returned when a file exceeds the configured size limit
var ErrTooLarge = errors.New("file exceeds size limit")

// ReadFile reads a file and returns a SourceFile model. A maxSize of zero
// or less disables the size check.
func ReadFile(ctx context.Context, fileInfo *models.FileInfo, maxSize int64) (*models.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxSize > 0 && fileInfo.Size > maxSize {
		return nil, fmt.Errorf("%s: %w", fileInfo.RelativePath, ErrTooLarge)
	}

	content, err := os.ReadFile(fileInfo.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &models.SourceFile{
		Path:         fileInfo.Path,
		RelativePath: fileInfo.RelativePath,
		Extension:    GetExtension(fileInfo.Path),
		Size:         int64(len(content)),
		Content:      content,
		Hash:         CalculateSHA256(content),
	}, nil
}

// CalculateSHA256 calculates the SHA-256 hash of content
func CalculateSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ParseSize parses size string (e.g., "650K", "1M") to bytes
func ParseSize(sizeStr string) int64 {
	if len(sizeStr) == 0 {
		return 0
	}

	// Get last character (unit)
	last := sizeStr[len(sizeStr)-1]
	var multiplier int64 = 1

	switch last {
	case 'K', 'k':
		multiplier = 1024
		sizeStr = sizeStr[:len(sizeStr)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		sizeStr = sizeStr[:len(sizeStr)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		sizeStr = sizeStr[:len(sizeStr)-1]
	}

	// Parse number
	var size int64
	fmt.Sscanf(sizeStr, "%d", &size)

	return size * multiplier
}
