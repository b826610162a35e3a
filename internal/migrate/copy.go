package migrate

import "github.com/letoram/arcan-sub007/internal/page"

// fillColor is the distinctive fill pattern used when a buffer's
// dimensions changed across migration, making the anomaly observable
// rather than silently showing stale or zeroed content (spec.md step 5).
var fillColor = [4]byte{0xff, 0x00, 0xff, 0xff}

// CopyBufferContents implements spec.md §4.3 step 5: for each of video
// and audio, if the new buffer's byte size matches the old (same format,
// hints, and derived dimensions), memcpy each buffer across; otherwise
// fill the new buffers with a distinctive colour/pattern.
func CopyBufferContents(oldPage, newPage *page.Page) {
	copyVideo(oldPage, newPage)
	copyAudio(oldPage, newPage)
}

func copyVideo(oldPage, newPage *page.Page) {
	n := newPage.Video.Count()
	sameSize := oldPage.Video.Count() > 0 && oldPage.Video.BufferSize() == newPage.Video.BufferSize()
	for i := 0; i < n; i++ {
		dst := newPage.Video.At(i)
		if sameSize && i < oldPage.Video.Count() {
			copy(dst, oldPage.Video.At(i))
			continue
		}
		fillDistinctive(dst)
	}
}

func copyAudio(oldPage, newPage *page.Page) {
	n := newPage.Audio.Count()
	sameSize := oldPage.Audio.Count() > 0 && len(oldPage.Audio.At(0)) == len(newPage.Audio.At(0))
	for i := 0; i < n; i++ {
		dst := newPage.Audio.At(i)
		if sameSize && i < oldPage.Audio.Count() {
			copy(dst, oldPage.Audio.At(i))
			continue
		}
		// Audio has no natural "colour"; silence (zero) is the
		// distinctive-enough signal that content did not carry over.
		for j := range dst {
			dst[j] = 0
		}
	}
}

func fillDistinctive(buf []byte) {
	for i := 0; i+4 <= len(buf); i += 4 {
		copy(buf[i:i+4], fillColor[:])
	}
}
