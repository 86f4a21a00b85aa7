package thumbs

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuxx/wayvid/internal/library"
)

func newTestGenerator(t *testing.T) (*Generator, *library.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := library.Open(filepath.Join(dir, "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gen, err := NewGenerator(store, filepath.Join(dir, "thumbs"))
	require.NoError(t, err)
	t.Cleanup(gen.Close)
	return gen, store
}

func TestPathsNeverCollideAcrossIDs(t *testing.T) {
	gen, _ := newTestGenerator(t)

	seen := make(map[string]bool)
	ids := []string{
		library.ItemID("/videos/a.mp4"),
		library.ItemID("/videos/b.mp4"),
		library.ItemID("/videos/A.mp4"),
		library.ItemID("/other/a.mp4"),
	}
	for _, id := range ids {
		p := gen.Path(id)
		assert.False(t, seen[p], "collision for %s", id)
		seen[p] = true
		assert.Equal(t, ".webp", filepath.Ext(p))
	}
}

func TestRequestDeduplicatesInFlightJobs(t *testing.T) {
	gen, _ := newTestGenerator(t)
	gen.Pause() // hold the queue so the job stays in flight

	job := Job{ItemID: "abc123", SourcePath: "/videos/a.mp4"}
	assert.True(t, gen.Request(job))
	assert.False(t, gen.Request(job), "second request for an in-flight id must be a no-op")

	other := Job{ItemID: "def456", SourcePath: "/videos/b.mp4"}
	assert.True(t, gen.Request(other))
}

func TestCachedReadsDiskAfterRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := library.Open(filepath.Join(dir, "library.db"))
	require.NoError(t, err)
	defer store.Close()

	thumbsDir := filepath.Join(dir, "thumbs")

	gen, err := NewGenerator(store, thumbsDir)
	require.NoError(t, err)

	id := library.ItemID("/videos/a.mp4")
	payload := []byte("fake-webp-bytes")
	require.NoError(t, os.WriteFile(gen.Path(id), payload, 0o644))

	data, ok := gen.Cached(id)
	require.True(t, ok)
	assert.Equal(t, payload, data)
	gen.Close()

	// A fresh generator over the same cache dir still finds it.
	gen2, err := NewGenerator(store, thumbsDir)
	require.NoError(t, err)
	defer gen2.Close()
	data, ok = gen2.Cached(id)
	require.True(t, ok)
	assert.Equal(t, payload, data)
}

func TestInvalidateDropsBothTiers(t *testing.T) {
	gen, _ := newTestGenerator(t)
	id := library.ItemID("/videos/a.mp4")
	require.NoError(t, os.WriteFile(gen.Path(id), []byte("x"), 0o644))

	_, ok := gen.Cached(id)
	require.True(t, ok)

	gen.Invalidate(id)
	_, ok = gen.Cached(id)
	assert.False(t, ok)
}

func TestFitInBoxLetterboxes(t *testing.T) {
	// A square source inside the 16:9 box gets pillarboxed to full box size.
	src := image.NewRGBA(image.Rect(0, 0, 400, 400))
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	out := fitInBox(src)
	assert.Equal(t, ThumbWidth, out.Bounds().Dx())
	assert.Equal(t, ThumbHeight, out.Bounds().Dy())

	// A 16:9 source fills the box edge to edge.
	wide := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	out = fitInBox(wide)
	assert.Equal(t, ThumbWidth, out.Bounds().Dx())
	assert.Equal(t, ThumbHeight, out.Bounds().Dy())
}

func TestExtractFrameFromImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "still.png")
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	got, err := extractFrame(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, 64, got.Bounds().Dx())
}

func TestExtractFrameUsesBundledPreview(t *testing.T) {
	bundle := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	f, err := os.Create(filepath.Join(bundle, "preview.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	got, err := extractFrame(t.Context(), bundle)
	require.NoError(t, err)
	assert.Equal(t, 32, got.Bounds().Dx())
}
