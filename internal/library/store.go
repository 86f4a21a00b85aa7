// Package library is the persistent wallpaper catalogue: items, watched
// folders and thumbnail state in an embedded SQLite database.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when an item id is absent from the catalogue.
var ErrNotFound = errors.New("library: item not found")

// Store wraps the library database. Writes go through a single mutex-guarded
// connection; reads see consistent snapshots via SQLite's WAL mode.
type Store struct {
	db *gorm.DB

	// Serialises writers; SQLite allows only one anyway
	writeMu sync.Mutex
}

// Open opens or creates the library database at path and migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open library db: %w", err)
	}

	if err := db.AutoMigrate(&WallpaperItem{}, &Folder{}, &Thumbnail{}); err != nil {
		return nil, fmt.Errorf("migrate library schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withRetry runs a write transaction, retrying bounded times on SQLite
// busy/locked conflicts.
func (s *Store) withRetry(fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return retry.Do(
		func() error { return s.db.Transaction(fn) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			msg := err.Error()
			return strings.Contains(msg, "database is locked") ||
				strings.Contains(msg, "database table is locked")
		}),
		retry.LastErrorOnly(true),
	)
}

// AddFolder registers a directory as a library source.
func (s *Store) AddFolder(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve folder path: %w", err)
	}
	return s.withRetry(func(tx *gorm.DB) error {
		folder := Folder{Path: abs, Enabled: true}
		return tx.Where(Folder{Path: abs}).
			Assign(map[string]any{"enabled": true}).
			FirstOrCreate(&folder).Error
	})
}

// RemoveFolder unregisters a directory and deletes its items and their
// thumbnail records.
func (s *Store) RemoveFolder(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve folder path: %w", err)
	}
	return s.withRetry(func(tx *gorm.DB) error {
		var items []WallpaperItem
		prefix := abs + string(filepath.Separator)
		if err := tx.Where("source_path LIKE ?", prefix+"%").Find(&items).Error; err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.Delete(&Thumbnail{}, "wallpaper_id = ?", it.ID).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("source_path LIKE ?", prefix+"%").Delete(&WallpaperItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Folder{}, "path = ?", abs).Error
	})
}

// ListFolders returns all registered folders.
func (s *Store) ListFolders() ([]Folder, error) {
	var folders []Folder
	if err := s.db.Order("path").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

// Filter narrows a wallpaper listing.
type Filter struct {
	ContentKind ContentKind
	SourceKind  SourceKind
	Folder      string
	Offset      int
	Limit       int
}

// ListWallpapers returns catalogue entries matching the filter, newest first.
func (s *Store) ListWallpapers(f Filter) ([]WallpaperItem, error) {
	q := s.db.Model(&WallpaperItem{}).Order("added_at DESC")
	if f.ContentKind != "" {
		q = q.Where("content_kind = ?", f.ContentKind)
	}
	if f.SourceKind != "" {
		q = q.Where("source_kind = ?", f.SourceKind)
	}
	if f.Folder != "" {
		abs, err := filepath.Abs(f.Folder)
		if err != nil {
			return nil, err
		}
		q = q.Where("source_path LIKE ?", abs+string(filepath.Separator)+"%")
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var items []WallpaperItem
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Get fetches one item by id.
func (s *Store) Get(id string) (*WallpaperItem, error) {
	var item WallpaperItem
	err := s.db.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Search matches query against item names and metadata tags.
func (s *Store) Search(query string) ([]WallpaperItem, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	var items []WallpaperItem
	err := s.db.
		Where("LOWER(name) LIKE ? OR LOWER(metadata_json) LIKE ?", pattern, pattern).
		Order("added_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TouchLastUsed stamps an item as just applied.
func (s *Store) TouchLastUsed(id string) error {
	now := time.Now()
	return s.withRetry(func(tx *gorm.DB) error {
		return tx.Model(&WallpaperItem{}).Where("id = ?", id).
			Update("last_used_at", &now).Error
	})
}

// GetThumbnail returns the disk path of a finished thumbnail, if any.
func (s *Store) GetThumbnail(id string) (string, bool, error) {
	var thumb Thumbnail
	err := s.db.First(&thumb, "wallpaper_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if thumb.Status != ThumbDone {
		return "", false, nil
	}
	return thumb.Path, true, nil
}

// ThumbnailStatus returns the recorded thumbnail state for an item.
func (s *Store) ThumbnailStatus(id string) (ThumbStatus, error) {
	var thumb Thumbnail
	err := s.db.First(&thumb, "wallpaper_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ThumbPending, nil
	}
	if err != nil {
		return "", err
	}
	return thumb.Status, nil
}

// SetThumbnailStatus transitions an item's thumbnail record.
func (s *Store) SetThumbnailStatus(id string, status ThumbStatus, path, errorTag string) error {
	return s.withRetry(func(tx *gorm.DB) error {
		thumb := Thumbnail{
			WallpaperID: id,
			Status:      status,
			Path:        path,
			ErrorTag:    errorTag,
			UpdatedAt:   time.Now(),
		}
		return tx.Save(&thumb).Error
	})
}

// Metadata decodes the item's metadata blob.
func (it *WallpaperItem) Metadata() Metadata {
	var md Metadata
	if it.MetadataJSON != "" {
		if err := json.Unmarshal([]byte(it.MetadataJSON), &md); err != nil {
			log.Debug().Str("id", it.ID).Err(err).Msg("bad metadata blob")
		}
	}
	return md
}

// SetMetadata encodes and attaches a metadata blob.
func (it *WallpaperItem) SetMetadata(md Metadata) {
	data, err := json.Marshal(md)
	if err != nil {
		return
	}
	it.MetadataJSON = string(data)
}
