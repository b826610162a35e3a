// Package page implements the shared-page layout of spec.md §3.1: the
// fixed prefix of control words, the cookie that guards it against ABI
// skew, and the video/audio buffer chains that follow it.
package page

import (
	"errors"
	"fmt"
)

// ErrCookieMismatch is returned when a page's cookie does not match the
// value computed from this build's layout (I1).
var ErrCookieMismatch = errors.New("page: cookie mismatch")

// Hint bits, spec.md §3.1 "hints".
const (
	HintSubregionDirty uint32 = 1 << iota
	HintOriginLowerLeft
	HintIgnoreAlpha
	HintColorSpace
	HintTextPack
	HintAuthTokenRequest
	HintVsignalEvent
)

// Resize control tri-state, spec.md §3.1 "resize control".
const (
	ResizeIdle       int32 = 0
	ResizeRequested  int32 = 1
	ResizeRejected   int32 = -1
)

// Geometry is the negotiated dimension state of a page (spec.md §3.1
// "dimensions"). Rows/Cols are only meaningful under HintTextPack.
type Geometry struct {
	Width, Height int
	Rows, Cols    int
}

// DirtyRect is the rectangle of the most recently changed pixels when
// HintSubregionDirty is set (spec.md §3.1 "dirty region").
type DirtyRect struct {
	X0, Y0, X1, Y1 int
}

// Valid reports whether the rectangle is a non-empty, in-bounds region.
func (d DirtyRect) Valid(g Geometry) bool {
	return d.X1 > d.X0 && d.Y1 > d.Y0 &&
		d.X0 >= 0 && d.Y0 >= 0 && d.X1 <= g.Width && d.Y1 <= g.Height
}

// Full returns the dirty rectangle covering the entire surface.
func Full(g Geometry) DirtyRect {
	return DirtyRect{0, 0, g.Width, g.Height}
}

// Prefix is the fixed control-word prefix of the shared page, spec.md
// §3.1. Field order is part of the wire contract: new fields are only
// ever appended below ExtPad, never inserted, so that Cookie() stays a
// function of frozen offsets.
type Prefix struct {
	VersionMajor, VersionMinor uint16
	Cookie                     uint64

	DMS byte // dead-man switch; either side clearing it terminates (I6)

	ParentPID int

	SegmentSize  uint64 // authoritative mmap size (I2)
	SegmentToken uint32 // opaque, server-assigned viewport-parent id

	LastWords [256]byte // client writes this before voluntary exit

	Geometry Geometry
	Hints    uint32
	Dirty    DirtyRect

	Resized int32 // tri-state: 0 idle, 1 requested, -1 rejected

	VReady   uint32 // non-zero: 1+index of newest published video buffer
	AReady   uint32 // non-zero: 1+index of newest published audio buffer
	VPending uint32 // bitmask: server-owned video slots
	APending uint32 // bitmask: server-owned audio slots

	ABufUsed  [MaxAudioBuffers]uint32 // per-buffer payload length
	AudioRate uint32
	ABufSize  uint32

	VCount int // negotiated video buffer chain length
	ACount int // negotiated audio buffer chain length

	VPTS uint64 // side-channel word, also used for DRM-auth magic exchange

	ExtMask uint32 // which extended-protocol blocks are present
	ExtPad  []byte // offset-table-indexed extended-protocol metadata
}

// MaxVideoBuffers and MaxAudioBuffers bound the buffer chain lengths
// negotiable under resize (spec.md §3.2 "N is negotiated").
const (
	MaxVideoBuffers = 8
	MaxAudioBuffers = 12
)

// Page is the full shared-memory region: the Prefix plus the derived
// video and audio buffer chains, laid out per spec.md §3.1:
// "(audio buffer array)(audio ring padding)(video buffer array)(video
// ring padding)".
type Page struct {
	Prefix

	Video BufferChain
	Audio AudioChain
}

// New allocates a page sized for the given geometry and buffer counts.
// It does not touch shared memory; callers needing a real mmap-backed
// page wrap this with the platform layer in internal/connect.
func New(g Geometry, vcount, acount int, abufSize uint32, rate uint32) (*Page, error) {
	if vcount < 1 || vcount > MaxVideoBuffers {
		return nil, fmt.Errorf("page: vcount %d out of range", vcount)
	}
	if acount < 1 || acount > MaxAudioBuffers {
		return nil, fmt.Errorf("page: acount %d out of range", acount)
	}
	p := &Page{}
	p.VersionMajor, p.VersionMinor = 0, 14
	p.Geometry = g
	p.VCount = vcount
	p.ACount = acount
	p.ABufSize = abufSize
	p.AudioRate = rate
	p.Video = newBufferChain(vcount, bufferBytes(g))
	p.Audio = newAudioChain(acount, abufSize)
	p.Cookie = p.computeCookie()
	p.SegmentSize = p.requiredSize()
	return p, nil
}

// bufferBytes is the byte size of a single video buffer for the given
// geometry: width*height*4, or a cell-grid layout under the text-pack
// hint (see internal/textpack for the cell encoding).
func bufferBytes(g Geometry) int {
	if g.Rows > 0 && g.Cols > 0 {
		// 4 bytes of attribute + rune per cell, matching internal/textpack's
		// CellSize.
		return g.Rows * g.Cols * 8
	}
	return g.Width * g.Height * 4
}

// requiredSize computes the mapping size needed for the current
// geometry and buffer counts (spec.md §4.1 resize step 2).
func (p *Page) requiredSize() uint64 {
	sz := uint64(p.Video.BufferSize()) * uint64(len(p.Video.buffers))
	sz += uint64(p.Audio.bufSize) * uint64(len(p.Audio.buffers))
	return sz + prefixOverhead
}

// prefixOverhead is a conservative estimate of the fixed prefix plus ring
// padding; it does not need to be exact for this Go model since the
// buffers are held as separate slices rather than one flat arena.
const prefixOverhead = 4096

// RequiredSize computes the mapping size a page with the given negotiated
// parameters would need, without allocating it — used by internal/resize
// to decide whether a candidate geometry needs a remap or exceeds the
// platform maximum (spec.md §4.1 resize steps 2-3).
func RequiredSize(g Geometry, vcount, acount int, abufSize uint32) uint64 {
	return uint64(bufferBytes(g))*uint64(vcount) + uint64(abufSize)*uint64(acount) + prefixOverhead
}

// ApplyLayout re-derives the page's buffer chains for a new negotiated
// geometry/buffer-count, resetting indices and ownership bits (spec.md
// §3.2 "Buffers: re-derived from the page prefix on each resize; indices
// reset; ownership bits cleared").
func (p *Page) ApplyLayout(g Geometry, vcount, acount int, abufSize uint32, rate uint32) error {
	if vcount < 1 || vcount > MaxVideoBuffers {
		return fmt.Errorf("page: vcount %d out of range", vcount)
	}
	if acount < 1 || acount > MaxAudioBuffers {
		return fmt.Errorf("page: acount %d out of range", acount)
	}
	p.Geometry = g
	p.VCount = vcount
	p.ACount = acount
	p.ABufSize = abufSize
	p.AudioRate = rate
	p.Video = newBufferChain(vcount, bufferBytes(g))
	p.Audio = newAudioChain(acount, abufSize)
	p.VReady, p.AReady, p.VPending, p.APending = 0, 0, 0, 0
	p.Cookie = p.computeCookie()
	p.SegmentSize = p.requiredSize()
	return nil
}

// Validate checks invariant I1 (cookie) and I2 (segment_size) against the
// supplied actual mapping size.
func (p *Page) Validate(actualMapSize uint64) error {
	if p.Cookie != p.computeCookie() {
		return ErrCookieMismatch
	}
	if p.SegmentSize != actualMapSize {
		return fmt.Errorf("page: segment_size %d != mmap size %d", p.SegmentSize, actualMapSize)
	}
	return nil
}
