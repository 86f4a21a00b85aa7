package library

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// SourceKind classifies where a library item came from.
type SourceKind string

const (
	SourceKindFile      SourceKind = "file"
	SourceKindDirectory SourceKind = "directory"
	SourceKindProject   SourceKind = "project"
)

// ContentKind classifies what a library item renders as.
type ContentKind string

const (
	ContentKindVideo ContentKind = "video"
	ContentKindScene ContentKind = "scene"
	ContentKindGif   ContentKind = "gif"
	ContentKindImage ContentKind = "image"
)

// ThumbStatus is the lifecycle of an item's thumbnail.
type ThumbStatus string

const (
	ThumbPending    ThumbStatus = "pending"
	ThumbGenerating ThumbStatus = "generating"
	ThumbDone       ThumbStatus = "done"
	ThumbFailed     ThumbStatus = "failed"
)

// Metadata is the free-form descriptive blob attached to an item.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DurationSec float64  `json:"duration_sec,omitempty"`
	Width       int      `json:"width,omitempty"`
	Height      int      `json:"height,omitempty"`
}

// WallpaperItem is one library entry. ID is derived from the canonical source
// path and never changes for a given file.
type WallpaperItem struct {
	ID          string      `gorm:"primaryKey;size:64"`
	Name        string      `gorm:"index"`
	SourcePath  string      `gorm:"uniqueIndex"`
	SourceKind  SourceKind  `gorm:"index;size:16"`
	ContentKind ContentKind `gorm:"index;size:16"`

	// Serialized Metadata; kept as a blob so the schema stays stable
	MetadataJSON string

	SizeBytes  int64
	ModTime    int64
	AddedAt    time.Time
	LastUsedAt *time.Time
}

// Folder is a watched directory feeding the library.
type Folder struct {
	Path       string `gorm:"primaryKey"`
	Enabled    bool
	LastScanAt *time.Time
}

// Thumbnail tracks per-item thumbnail state.
type Thumbnail struct {
	WallpaperID string      `gorm:"primaryKey;size:64"`
	Status      ThumbStatus `gorm:"size:16"`
	Path        string
	ErrorTag    string
	UpdatedAt   time.Time
}

// ItemID derives the stable item id for a source path: the SHA-256 hex of the
// canonical absolute path.
func ItemID(sourcePath string) string {
	canonical := sourcePath
	if abs, err := filepath.Abs(sourcePath); err == nil {
		canonical = abs
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	canonical = filepath.Clean(canonical)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
