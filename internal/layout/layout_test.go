package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuxx/wayvid/internal/types"
)

var allModes = []types.LayoutMode{
	types.LayoutFill, types.LayoutContain, types.LayoutStretch, types.LayoutCentre,
}

func TestRectsStayInsideCanvases(t *testing.T) {
	sizes := []int32{1, 2, 3, 7, 100, 719, 720, 1080, 1920, 2560, 3840, 5120}
	for _, mode := range allModes {
		for _, srcW := range sizes {
			for _, srcH := range sizes {
				for _, dstW := range sizes {
					for _, dstH := range sizes {
						res := Calculate(srcW, srcH, dstW, dstH, mode)
						require.True(t, res.Src.Inside(srcW, srcH),
							"src rect %+v outside %dx%d source (mode %s)", res.Src, srcW, srcH, mode)
						require.True(t, res.Dst.Inside(dstW, dstH),
							"dst rect %+v outside %dx%d canvas (mode %s)", res.Dst, dstW, dstH, mode)
					}
				}
			}
		}
	}
}

// For fill and contain the visible region's aspect must match the source to
// within one destination pixel.
func TestAspectPreservation(t *testing.T) {
	cases := []struct{ srcW, srcH, dstW, dstH int32 }{
		{1920, 1080, 2560, 1440},
		{1920, 1080, 1080, 1920},
		{1280, 720, 3840, 2160},
		{640, 480, 1920, 1080},
		{3840, 2160, 1366, 768},
		{100, 100, 1920, 1080},
	}
	for _, tc := range cases {
		for _, mode := range []types.LayoutMode{types.LayoutFill, types.LayoutContain} {
			res := Calculate(tc.srcW, tc.srcH, tc.dstW, tc.dstH, mode)

			// Visible source aspect vs. destination rect aspect.
			srcAspect := float64(res.Src.W) / float64(res.Src.H)
			dstAspect := float64(res.Dst.W) / float64(res.Dst.H)

			minDim := tc.dstW
			if tc.dstH < minDim {
				minDim = tc.dstH
			}
			// Destination-pixel bound plus the quantisation of integer
			// source crops.
			tolerance := srcAspect * (1.0/float64(res.Src.H) + 1.0/float64(minDim))
			assert.InDelta(t, srcAspect, dstAspect, tolerance,
				"mode %s %dx%d -> %dx%d", mode, tc.srcW, tc.srcH, tc.dstW, tc.dstH)
		}
	}
}

func TestStretchCoversWholeCanvas(t *testing.T) {
	res := Calculate(1234, 777, 1920, 1080, types.LayoutStretch)
	assert.Equal(t, Rect{0, 0, 1234, 777}, res.Src)
	assert.Equal(t, Rect{0, 0, 1920, 1080}, res.Dst)
}

func TestFillCoversWholeCanvas(t *testing.T) {
	res := Calculate(1920, 1080, 2560, 1440, types.LayoutFill)
	assert.Equal(t, Rect{0, 0, 2560, 1440}, res.Dst)
}

func TestCentreSmallSourceIsCentred(t *testing.T) {
	res := Calculate(800, 600, 1920, 1080, types.LayoutCentre)
	assert.Equal(t, Rect{0, 0, 800, 600}, res.Src)
	assert.Equal(t, Rect{560, 240, 800, 600}, res.Dst)
}

func TestCentreLargeSourceClampsOffsets(t *testing.T) {
	res := Calculate(4000, 3000, 1920, 1080, types.LayoutCentre)
	assert.Equal(t, int32(0), res.Dst.X)
	assert.Equal(t, int32(0), res.Dst.Y)
	assert.Equal(t, Rect{0, 0, 1920, 1080}, res.Dst)
	// Cropped from the middle.
	assert.Equal(t, Rect{1040, 960, 1920, 1080}, res.Src)
}

func TestUnknownSourceDefers(t *testing.T) {
	res := Calculate(0, 0, 1920, 1080, types.LayoutFill)
	assert.True(t, res.Deferred)
	assert.Equal(t, Rect{0, 0, 1920, 1080}, res.Dst)
}

func TestZeroDestinationDefers(t *testing.T) {
	res := Calculate(1920, 1080, 0, 0, types.LayoutFill)
	assert.True(t, res.Deferred)
}

func TestIdempotence(t *testing.T) {
	first := Calculate(1920, 1080, 2560, 1440, types.LayoutContain)
	second := Calculate(1920, 1080, 2560, 1440, types.LayoutContain)
	assert.Equal(t, first, second)
}

// The single-slot cache must never serve a stale result after any input
// changes.
func TestCacheInvalidation(t *testing.T) {
	a := Calculate(1920, 1080, 2560, 1440, types.LayoutFill)
	b := Calculate(1920, 1080, 1280, 720, types.LayoutFill)
	c := Calculate(1920, 1080, 2560, 1440, types.LayoutFill)
	assert.NotEqual(t, a.Dst, b.Dst)
	assert.Equal(t, a, c)

	d := Calculate(1920, 1080, 2560, 1440, types.LayoutContain)
	assert.Equal(t, a.Dst, d.Dst) // both cover 2560x1440 for matching aspect
	e := Calculate(1920, 1081, 2560, 1440, types.LayoutContain)
	assert.NotEqual(t, d, e)
}
