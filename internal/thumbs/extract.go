package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KononK/resize"
	_ "golang.org/x/image/webp"
)

// Thumbnail box. Frames are fitted inside with aspect preserved.
const (
	ThumbWidth  = 256
	ThumbHeight = 144
)

// previewNames are the bundled preview files checked first for project
// bundles; using one skips decoding entirely.
var previewNames = []string{"preview.webp", "preview.png", "preview.jpg", "preview.gif"}

// extractFrame produces the thumbnail image for a source path. Images and
// bundled previews are decoded directly; videos go through a short-lived
// ffmpeg decode of a single frame.
func extractFrame(ctx context.Context, sourcePath string) (image.Image, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if info.IsDir() {
		for _, name := range previewNames {
			preview := filepath.Join(sourcePath, name)
			if _, err := os.Stat(preview); err == nil {
				return decodeImageFile(preview)
			}
		}
		return nil, fmt.Errorf("project bundle has no preview file")
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return decodeImageFile(sourcePath)
	}

	offset := seekOffset(ctx, sourcePath)
	return videoFrame(ctx, sourcePath, offset)
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// seekOffset picks the frame-grab position: 10% of the duration, at least
// half a second in.
func seekOffset(ctx context.Context, path string) float64 {
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0.5
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration <= 0 {
		return 0.5
	}
	offset := duration * 0.1
	if offset < 0.5 {
		offset = 0.5
	}
	return offset
}

// videoFrame extracts one frame as PNG on stdout and decodes it.
func videoFrame(ctx context.Context, path string, offset float64) (image.Image, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.2f", offset),
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extraction: %w", err)
	}
	img, _, err := image.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}
	return img, nil
}

// fitInBox scales img to fit the thumbnail box, preserving aspect, and
// composites it centred on a black background of the full box size.
func fitInBox(img image.Image) image.Image {
	scaled := resize.Thumbnail(ThumbWidth, ThumbHeight, img, resize.Bilinear)
	bounds := scaled.Bounds()
	if bounds.Dx() == ThumbWidth && bounds.Dy() == ThumbHeight {
		return scaled
	}
	canvas := image.NewRGBA(image.Rect(0, 0, ThumbWidth, ThumbHeight))
	offset := image.Pt((ThumbWidth-bounds.Dx())/2, (ThumbHeight-bounds.Dy())/2)
	draw.Draw(canvas, bounds.Add(offset).Sub(bounds.Min), scaled, bounds.Min, draw.Src)
	return canvas
}
