package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyByExtension(t *testing.T) {
	cases := map[string]Classification{
		"clip.mp4":   {ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true},
		"clip.WEBM":  {ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true},
		"clip.mkv":   {ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true},
		"clip.mov":   {ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true},
		"clip.avi":   {ContentKind: ContentKindVideo, SourceKind: SourceKindFile, Ok: true},
		"anim.gif":   {ContentKind: ContentKindGif, SourceKind: SourceKindFile, Ok: true},
		"still.jpg":  {ContentKind: ContentKindImage, SourceKind: SourceKindFile, Ok: true},
		"still.png":  {ContentKind: ContentKindImage, SourceKind: SourceKindFile, Ok: true},
		"still.webp": {ContentKind: ContentKindImage, SourceKind: SourceKindFile, Ok: true},
		"notes.txt":  {},
		"archive":    {},
	}
	for name, want := range cases {
		assert.Equal(t, want, Classify(name, false), name)
	}
}

func TestClassifyProjectDirectory(t *testing.T) {
	dir := t.TempDir()

	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.MkdirAll(plain, 0o755))
	assert.False(t, Classify(plain, true).Ok)

	bundle := filepath.Join(dir, "bundle")
	require.NoError(t, os.MkdirAll(bundle, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "project.json"), []byte("{}"), 0o644))
	c := Classify(bundle, true)
	assert.True(t, c.Ok)
	assert.Equal(t, SourceKindProject, c.SourceKind)
	assert.Equal(t, ContentKindScene, c.ContentKind)
}

func TestScanHonoursDepthLimit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.mp4"), []byte("x"), 0o644))

	// Below the depth cap.
	deep := filepath.Join(root, "a", "b", "c", "d", "e")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "too-deep.mp4"), []byte("x"), 0o644))

	nested := filepath.Join(root, "a", "nested.mp4")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))

	entries, err := collectEntries(root)
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.path)
	}
	assert.Contains(t, paths, filepath.Join(root, "top.mp4"))
	assert.Contains(t, paths, nested)
	assert.NotContains(t, paths, filepath.Join(deep, "too-deep.mp4"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "sunset-beach", displayName("/videos/sunset-beach.mp4"))
	assert.Equal(t, "bundle", displayName("/wallpapers/bundle"))
	assert.Equal(t, ".hidden", displayName("/videos/.hidden"))
}
