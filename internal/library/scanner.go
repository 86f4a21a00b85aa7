package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// maxScanDepth bounds the walk below each watched folder.
const maxScanDepth = 4

// projectManifests are the files that mark a subdirectory as an imported
// wallpaper project bundle. The bundle itself is parsed elsewhere; the scanner
// only records path and kind.
var projectManifests = []string{"project.json", "wallpaper.json"}

// Media file extension maps
var (
	videoExtMap = map[string]bool{
		".mp4": true, ".webm": true, ".mkv": true, ".mov": true, ".avi": true,
	}
	imageExtMap = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	}
)

// Classification is the scanner's verdict on one directory entry.
type Classification struct {
	ContentKind ContentKind
	SourceKind  SourceKind
	Ok          bool
}

// Classify maps a path to its library kinds by extension. Directories are
// classified by the presence of a project manifest.
func Classify(path string, isDir bool) Classification {
	if isDir {
		for _, manifest := range projectManifests {
			if _, err := os.Stat(filepath.Join(path, manifest)); err == nil {
				return Classification{ContentKind: ContentKindScene, SourceKind: SourceKindProject, Ok: true}
			}
		}
		return Classification{}
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtMap[ext]:
		return Classification{ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true}
	case ext == ".gif":
		return Classification{ContentKind: ContentKindGif, SourceKind: SourceKindFile, Ok: true}
	case imageExtMap[ext]:
		return Classification{ContentKind: ContentKindImage, SourceKind: SourceKindFile, Ok: true}
	}
	return Classification{}
}

// ScanResult summarises the database effect of one folder scan.
type ScanResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// ScanFolder walks a registered folder, upserts every classifiable entry and
// removes items whose backing file disappeared. Scanning an unchanged folder
// twice writes no item rows; only the folder's last-scan time is refreshed.
func (s *Store) ScanFolder(path string) (ScanResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ScanResult{}, fmt.Errorf("resolve folder path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return ScanResult{}, fmt.Errorf("folder inaccessible: %w", err)
	}

	found, err := collectEntries(abs)
	if err != nil {
		return ScanResult{}, err
	}

	// Snapshot of everything currently stored under this folder.
	var stored []WallpaperItem
	prefix := abs + string(filepath.Separator)
	if err := s.db.Where("source_path LIKE ?", prefix+"%").Find(&stored).Error; err != nil {
		return ScanResult{}, err
	}
	storedByPath := make(map[string]WallpaperItem, len(stored))
	for _, it := range stored {
		storedByPath[it.SourcePath] = it
	}

	var result ScanResult
	now := time.Now()

	err = s.withRetry(func(tx *gorm.DB) error {
		result = ScanResult{}

		for _, entry := range found {
			existing, ok := storedByPath[entry.path]
			if !ok {
				item := WallpaperItem{
					ID:          ItemID(entry.path),
					Name:        displayName(entry.path),
					SourcePath:  entry.path,
					SourceKind:  entry.class.SourceKind,
					ContentKind: entry.class.ContentKind,
					SizeBytes:   entry.size,
					ModTime:     entry.mtime,
					AddedAt:     now,
				}
				if err := tx.Create(&item).Error; err != nil {
					return err
				}
				if err := tx.Create(&Thumbnail{
					WallpaperID: item.ID,
					Status:      ThumbPending,
					UpdatedAt:   now,
				}).Error; err != nil {
					return err
				}
				result.Added++
				continue
			}
			if existing.ModTime != entry.mtime || existing.SizeBytes != entry.size {
				updates := map[string]any{
					"size_bytes": entry.size,
					"mod_time":   entry.mtime,
				}
				if err := tx.Model(&WallpaperItem{}).Where("id = ?", existing.ID).
					Updates(updates).Error; err != nil {
					return err
				}
				// The file changed underneath us; the cached thumbnail no
				// longer matches it.
				if err := tx.Save(&Thumbnail{
					WallpaperID: existing.ID,
					Status:      ThumbPending,
					UpdatedAt:   now,
				}).Error; err != nil {
					return err
				}
				result.Updated++
			}
		}

		foundPaths := make(map[string]bool, len(found))
		for _, entry := range found {
			foundPaths[entry.path] = true
		}
		for path, it := range storedByPath {
			if foundPaths[path] {
				continue
			}
			if err := tx.Delete(&Thumbnail{}, "wallpaper_id = ?", it.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&WallpaperItem{}, "id = ?", it.ID).Error; err != nil {
				return err
			}
			result.Removed++
		}

		return tx.Model(&Folder{}).Where("path = ?", abs).
			Update("last_scan_at", &now).Error
	})
	if err != nil {
		return ScanResult{}, err
	}

	log.Debug().Str("folder", abs).
		Int("added", result.Added).Int("updated", result.Updated).Int("removed", result.Removed).
		Msg("folder scan complete")
	return result, nil
}

// ScanAll scans every enabled folder.
func (s *Store) ScanAll() (ScanResult, error) {
	folders, err := s.ListFolders()
	if err != nil {
		return ScanResult{}, err
	}
	var total ScanResult
	for _, folder := range folders {
		if !folder.Enabled {
			continue
		}
		res, err := s.ScanFolder(folder.Path)
		if err != nil {
			log.Warn().Str("folder", folder.Path).Err(err).Msg("folder scan failed")
			continue
		}
		total.Added += res.Added
		total.Updated += res.Updated
		total.Removed += res.Removed
	}
	return total, nil
}

type scanEntry struct {
	path  string
	class Classification
	size  int64
	mtime int64
}

// collectEntries walks root up to maxScanDepth and classifies what it finds.
// Classification errors skip the entry, never the scan.
func collectEntries(root string) ([]scanEntry, error) {
	var entries []scanEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Debug().Str("path", path).Err(err).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && strings.Count(rel, string(filepath.Separator)) >= maxScanDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		class := Classify(path, d.IsDir())
		if !class.Ok {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			log.Debug().Str("path", path).Err(infoErr).Msg("skipping unstatable entry")
			return nil
		}
		entries = append(entries, scanEntry{
			path:  path,
			class: class,
			size:  info.Size(),
			mtime: info.ModTime().Unix(),
		})
		if d.IsDir() {
			// A project bundle is one item; never descend into it.
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func displayName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && !strings.EqualFold(base, ext) {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
