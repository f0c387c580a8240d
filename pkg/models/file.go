package models

// SourceFile is a source file read from the scanned tree
type SourceFile struct {
	Path         string // Full file path
	RelativePath string // Forward-slash path relative to scan root
	Extension    string // File extension (without dot)
	Size         int64  // File size in bytes
	Content      []byte // File content
	Hash         string // SHA-256 of content
}

// FileInfo contains basic file information without content
type FileInfo struct {
	Path         string
	RelativePath string
	Size         int64
	IsDir        bool
	IsSymlink    bool
	IsHidden     bool
}
