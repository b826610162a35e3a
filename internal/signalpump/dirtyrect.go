package signalpump

import "github.com/letoram/arcan-sub007/internal/page"

// computeDirtyRect implements the auto-dirty bounding-rectangle
// computation of spec.md §4.5 and its open question: comparison is
// byte-wise (full 32-bit pixel comparison) unless ignoreAlpha is set, in
// which case the alpha byte is masked out of the comparison. It reports
// changed=false when the two buffers are identical under that rule.
//
// Text-pack (cell-grid) geometries are not pixel buffers; auto-dirty on
// them always reports the full surface changed, since a per-pixel XOR
// comparison has no meaning for cell attribute/rune pairs.
func computeDirtyRect(cur, prev []byte, g page.Geometry, ignoreAlpha bool) (rect page.DirtyRect, changed bool) {
	if g.Rows > 0 && g.Cols > 0 {
		return page.Full(g), true
	}

	w, h := g.Width, g.Height
	stride := w * 4
	if len(cur) < stride*h || len(prev) < stride*h {
		return page.Full(g), true
	}

	minX, minY := w, h
	maxX, maxY := -1, -1

	for y := 0; y < h; y++ {
		rowOff := y * stride
		for x := 0; x < w; x++ {
			off := rowOff + x*4
			if pixelDiffers(cur[off:off+4], prev[off:off+4], ignoreAlpha) {
				if x < minX {
					minX = x
				}
				if x+1 > maxX {
					maxX = x + 1
				}
				if y < minY {
					minY = y
				}
				if y+1 > maxY {
					maxY = y + 1
				}
			}
		}
	}

	if maxX < 0 {
		return page.DirtyRect{}, false
	}
	return page.DirtyRect{X0: minX, Y0: minY, X1: maxX, Y1: maxY}, true
}

func pixelDiffers(a, b []byte, ignoreAlpha bool) bool {
	n := 4
	if ignoreAlpha {
		n = 3
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
