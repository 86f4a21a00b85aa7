// Package layout computes source and destination rectangles for fitting video
// frames onto outputs.
package layout

import (
	"sync"

	"github.com/tuxx/wayvid/internal/types"
)

// Rect is a pixel-space rectangle. X/Y are the top-left corner.
type Rect struct {
	X, Y, W, H int32
}

// Inside reports whether r lies fully within a w×h canvas.
func (r Rect) Inside(w, h int32) bool {
	return r.X >= 0 && r.Y >= 0 && r.W >= 0 && r.H >= 0 &&
		r.X+r.W <= w && r.Y+r.H <= h
}

// Result is one computed layout. Deferred is set when source dimensions were
// unknown; the renderer re-evaluates on the first frame with real dimensions.
type Result struct {
	Src      Rect
	Dst      Rect
	Deferred bool
}

type cacheKey struct {
	srcW, srcH, dstW, dstH int32
	mode                   types.LayoutMode
}

var lastResult struct {
	mu  sync.Mutex
	key cacheKey
	res Result
	ok  bool
}

// Calculate fits a srcW×srcH source onto a dstW×dstH output under mode. It is
// pure and total: any inputs yield rectangles inside their canvases. The last
// result is cached keyed by all five inputs.
func Calculate(srcW, srcH, dstW, dstH int32, mode types.LayoutMode) Result {
	key := cacheKey{srcW, srcH, dstW, dstH, mode}

	lastResult.mu.Lock()
	if lastResult.ok && lastResult.key == key {
		res := lastResult.res
		lastResult.mu.Unlock()
		return res
	}
	lastResult.mu.Unlock()

	res := compute(srcW, srcH, dstW, dstH, mode)

	lastResult.mu.Lock()
	lastResult.key = key
	lastResult.res = res
	lastResult.ok = true
	lastResult.mu.Unlock()

	return res
}

func compute(srcW, srcH, dstW, dstH int32, mode types.LayoutMode) Result {
	if dstW <= 0 || dstH <= 0 {
		return Result{Deferred: true}
	}
	whole := Rect{0, 0, dstW, dstH}
	if srcW <= 0 || srcH <= 0 {
		// Dimensions not known yet. Paint the whole destination and let the
		// renderer re-run once the first frame reports a real size.
		return Result{Src: Rect{}, Dst: whole, Deferred: true}
	}

	fullSrc := Rect{0, 0, srcW, srcH}

	switch mode {
	case types.LayoutStretch:
		return Result{Src: fullSrc, Dst: whole}

	case types.LayoutContain:
		// Scale to fit entirely inside, letterbox the remainder.
		w, h := scaleToFit(srcW, srcH, dstW, dstH, false)
		dst := Rect{(dstW - w) / 2, (dstH - h) / 2, w, h}
		return Result{Src: fullSrc, Dst: dst}

	case types.LayoutCentre:
		// 1:1 pixels. If the source exceeds the destination, crop the centre
		// and clamp offsets to zero.
		dst := Rect{(dstW - srcW) / 2, (dstH - srcH) / 2, srcW, srcH}
		src := fullSrc
		if srcW > dstW {
			src.X = (srcW - dstW) / 2
			src.W = dstW
			dst.X = 0
			dst.W = dstW
		}
		if srcH > dstH {
			src.Y = (srcH - dstH) / 2
			src.H = dstH
			dst.Y = 0
			dst.H = dstH
		}
		return Result{Src: src, Dst: dst}

	default: // LayoutFill
		// Scale to cover, then crop the overhang from the source, centred.
		w, h := scaleToFit(srcW, srcH, dstW, dstH, true)
		src := fullSrc
		if w > dstW {
			cropped := int32(int64(srcW) * int64(dstW) / int64(w))
			src.X = (srcW - cropped) / 2
			src.W = cropped
		}
		if h > dstH {
			cropped := int32(int64(srcH) * int64(dstH) / int64(h))
			src.Y = (srcH - cropped) / 2
			src.H = cropped
		}
		return Result{Src: src, Dst: whole}
	}
}

// scaleToFit scales srcW×srcH preserving aspect so it fits inside (cover ==
// false) or covers (cover == true) dstW×dstH.
func scaleToFit(srcW, srcH, dstW, dstH int32, cover bool) (int32, int32) {
	// Compare dstW/srcW to dstH/srcH without leaving integers.
	wider := int64(dstW)*int64(srcH) >= int64(dstH)*int64(srcW)
	if wider == cover {
		// Width-bound.
		w := dstW
		h := int32(int64(dstW) * int64(srcH) / int64(srcW))
		if h < 1 {
			h = 1
		}
		return w, h
	}
	h := dstH
	w := int32(int64(dstH) * int64(srcW) / int64(srcH))
	if w < 1 {
		w = 1
	}
	return w, h
}
