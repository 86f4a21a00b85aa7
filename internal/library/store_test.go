package library

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

type StoreTestSuite struct {
	suite.Suite
	store *Store
	dir   string
}

func (s *StoreTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	store, err := Open(filepath.Join(s.dir, "library.db"))
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreTestSuite) TearDownTest() {
	s.NoError(s.store.Close())
}

func (s *StoreTestSuite) makeFolder(name string, files ...string) string {
	dir := filepath.Join(s.dir, name)
	s.Require().NoError(os.MkdirAll(dir, 0o755))
	for _, f := range files {
		s.Require().NoError(os.WriteFile(filepath.Join(dir, f), []byte("content of "+f), 0o644))
	}
	return dir
}

func (s *StoreTestSuite) TestItemIDIsCanonicalPathHash() {
	dir := s.makeFolder("ids", "clip.mp4")
	path := filepath.Join(dir, "clip.mp4")

	id := ItemID(path)
	canonical, err := filepath.EvalSymlinks(path)
	s.Require().NoError(err)
	sum := sha256.Sum256([]byte(filepath.Clean(canonical)))
	s.Equal(hex.EncodeToString(sum[:]), id)

	// Relative spellings resolve to the same id.
	wd, err := os.Getwd()
	s.Require().NoError(err)
	rel, err := filepath.Rel(wd, path)
	s.Require().NoError(err)
	s.Equal(id, ItemID(rel))
}

func (s *StoreTestSuite) TestScanAddsClassifiedFiles() {
	dir := s.makeFolder("A",
		"one.mp4", "two.webm", "three.gif", "four.png", "notes.txt")
	s.Require().NoError(s.store.AddFolder(dir))

	res, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(4, res.Added)
	s.Equal(0, res.Updated)
	s.Equal(0, res.Removed)

	items, err := s.store.ListWallpapers(Filter{})
	s.Require().NoError(err)
	s.Len(items, 4)

	videos, err := s.store.ListWallpapers(Filter{ContentKind: ContentKindVideo})
	s.Require().NoError(err)
	s.Len(videos, 2)
}

func (s *StoreTestSuite) TestScanIsIdempotent() {
	dir := s.makeFolder("A", "a0.mp4", "a1.mp4", "a2.mp4", "a3.mp4", "a4.mp4",
		"a5.mp4", "a6.mp4", "a7.mp4", "a8.mp4", "a9.mp4")
	empty := s.makeFolder("B")
	s.Require().NoError(s.store.AddFolder(dir))
	s.Require().NoError(s.store.AddFolder(empty))

	res, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(ScanResult{Added: 10}, res)

	res, err = s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(ScanResult{}, res)

	res, err = s.store.ScanFolder(empty)
	s.Require().NoError(err)
	s.Equal(ScanResult{}, res)

	// Deleting one file surfaces as exactly one removal.
	s.Require().NoError(os.Remove(filepath.Join(dir, "a4.mp4")))
	res, err = s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(ScanResult{Removed: 1}, res)
}

func (s *StoreTestSuite) TestModifiedFileInvalidatesThumbnail() {
	dir := s.makeFolder("A", "clip.mp4")
	path := filepath.Join(dir, "clip.mp4")
	s.Require().NoError(s.store.AddFolder(dir))

	_, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)

	id := ItemID(path)
	s.Require().NoError(s.store.SetThumbnailStatus(id, ThumbDone, "/cache/"+id+".webp", ""))

	// Grow the file and backdate nothing; mtime and size both change.
	s.Require().NoError(os.WriteFile(path, []byte("much longer replacement content"), 0o644))
	future := time.Now().Add(2 * time.Second)
	s.Require().NoError(os.Chtimes(path, future, future))

	res, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(ScanResult{Updated: 1}, res)

	status, err := s.store.ThumbnailStatus(id)
	s.Require().NoError(err)
	s.Equal(ThumbPending, status)
}

func (s *StoreTestSuite) TestProjectBundleIsOneItem() {
	dir := s.makeFolder("A")
	bundle := filepath.Join(dir, "neon-city")
	s.Require().NoError(os.MkdirAll(bundle, 0o755))
	s.Require().NoError(os.WriteFile(filepath.Join(bundle, "project.json"), []byte("{}"), 0o644))
	s.Require().NoError(os.WriteFile(filepath.Join(bundle, "scene.mp4"), []byte("x"), 0o644))
	s.Require().NoError(s.store.AddFolder(dir))

	res, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)
	s.Equal(1, res.Added)

	items, err := s.store.ListWallpapers(Filter{SourceKind: SourceKindProject})
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(bundle, items[0].SourcePath)
	s.Equal(ContentKindScene, items[0].ContentKind)
}

func (s *StoreTestSuite) TestGetAndSearch() {
	dir := s.makeFolder("A", "sunset-beach.mp4", "city-rain.mp4")
	s.Require().NoError(s.store.AddFolder(dir))
	_, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)

	id := ItemID(filepath.Join(dir, "sunset-beach.mp4"))
	item, err := s.store.Get(id)
	s.Require().NoError(err)
	s.Equal("sunset-beach", item.Name)

	_, err = s.store.Get("no-such-id")
	s.ErrorIs(err, ErrNotFound)

	found, err := s.store.Search("sunset")
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(id, found[0].ID)

	// Tags in the metadata blob are searchable too.
	item.SetMetadata(Metadata{Tags: []string{"ocean", "calm"}})
	s.Require().NoError(s.store.db.Save(item).Error)

	found, err = s.store.Search("ocean")
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal(id, found[0].ID)
	s.Equal([]string{"ocean", "calm"}, found[0].Metadata().Tags)
}

func (s *StoreTestSuite) TestFoldersRoundTrip() {
	dir := s.makeFolder("watched", "a.mp4")
	s.Require().NoError(s.store.AddFolder(dir))

	folders, err := s.store.ListFolders()
	s.Require().NoError(err)
	s.Require().Len(folders, 1)
	s.Equal(dir, folders[0].Path)
	s.True(folders[0].Enabled)

	_, err = s.store.ScanFolder(dir)
	s.Require().NoError(err)

	folders, err = s.store.ListFolders()
	s.Require().NoError(err)
	s.NotNil(folders[0].LastScanAt)

	s.Require().NoError(s.store.RemoveFolder(dir))
	folders, err = s.store.ListFolders()
	s.Require().NoError(err)
	s.Empty(folders)

	items, err := s.store.ListWallpapers(Filter{})
	s.Require().NoError(err)
	s.Empty(items)
}

func (s *StoreTestSuite) TestThumbnailStateMachine() {
	dir := s.makeFolder("A", "clip.mp4")
	s.Require().NoError(s.store.AddFolder(dir))
	_, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)

	id := ItemID(filepath.Join(dir, "clip.mp4"))

	status, err := s.store.ThumbnailStatus(id)
	s.Require().NoError(err)
	s.Equal(ThumbPending, status)

	s.Require().NoError(s.store.SetThumbnailStatus(id, ThumbGenerating, "", ""))
	s.Require().NoError(s.store.SetThumbnailStatus(id, ThumbDone, "/cache/x.webp", ""))

	path, ok, err := s.store.GetThumbnail(id)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("/cache/x.webp", path)

	s.Require().NoError(s.store.SetThumbnailStatus(id, ThumbFailed, "", "extract"))
	_, ok, err = s.store.GetThumbnail(id)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreTestSuite) TestPagination() {
	dir := s.makeFolder("A", "a.mp4", "b.mp4", "c.mp4", "d.mp4", "e.mp4")
	s.Require().NoError(s.store.AddFolder(dir))
	_, err := s.store.ScanFolder(dir)
	s.Require().NoError(err)

	page, err := s.store.ListWallpapers(Filter{Limit: 2})
	s.Require().NoError(err)
	s.Len(page, 2)

	rest, err := s.store.ListWallpapers(Filter{Offset: 2, Limit: 10})
	s.Require().NoError(err)
	s.Len(rest, 3)
}
