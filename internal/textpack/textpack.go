// Package textpack gives concrete semantics to the page's text-pack
// hint (spec.md §3.1 mentions the hint bit but leaves the cell format
// unspecified): when set, the video buffer holds a cell grid (rune +
// attribute per cell) instead of raw pixels, sized rows*cols*CellSize,
// grounded in original_source/src/shmif/arcan_shmif_control.c's
// arcan_shmif_initial cell-size fields.
//
// Rendering reuses the teacher's internal/egg.VTerm approach of wrapping
// a charmbracelet/x/vt emulator, adapted from driving a PTY session to
// driving this cell-grid byte layout directly.
package textpack

import (
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the ring buffer Renderer keeps of lines
// scrolled off the top of the emulator, the same bound the teacher's
// egg.VTerm used for a PTY-backed scrollback.
const maxScrollbackLines = 2000

// CellSize is the byte size of one grid cell: a 4-byte rune plus a
// 4-byte attribute word (foreground/background/bold/underline packed),
// matching internal/page.bufferBytes's text-pack branch.
const CellSize = 8

// Cell is the decoded form of one grid cell.
type Cell struct {
	Rune rune
	Attr Attr
}

// Attr packs the subset of terminal attributes this substrate carries
// across to the page buffer: a colour index per ground plus a style
// bitmask. It intentionally does not attempt full 24-bit colour fidelity,
// matching the page format's 32-bit attribute word per cell.
type Attr struct {
	Fg, Bg uint8
	Bold   bool
	Italic bool
	Under  bool
}

func (a Attr) pack() uint32 {
	var style uint32
	if a.Bold {
		style |= 1
	}
	if a.Italic {
		style |= 2
	}
	if a.Under {
		style |= 4
	}
	return uint32(a.Fg) | uint32(a.Bg)<<8 | style<<16
}

func unpackAttr(v uint32) Attr {
	return Attr{
		Fg:     uint8(v),
		Bg:     uint8(v >> 8),
		Bold:   v&(1<<16) != 0,
		Italic: v&(2<<16) != 0,
		Under:  v&(4<<16) != 0,
	}
}

// PutCell encodes c into buf at cell index i (row-major), per CellSize.
func PutCell(buf []byte, i int, c Cell) {
	off := i * CellSize
	be32(buf[off:off+4], uint32(c.Rune))
	be32(buf[off+4:off+8], c.Attr.pack())
}

// GetCell decodes the cell at index i.
func GetCell(buf []byte, i int) Cell {
	off := i * CellSize
	return Cell{Rune: rune(rd32(buf[off : off+4])), Attr: unpackAttr(rd32(buf[off+4 : off+8]))}
}

func be32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func rd32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Renderer drives a vt.Emulator and flattens its current screen into a
// page video buffer's text-pack cell grid on each Flush. It also keeps a
// bounded scrollback of lines the emulator has scrolled off the top,
// exposed alongside the grid since a text-pack client typically wants
// history beyond the current visible buffer.
type Renderer struct {
	mu   sync.Mutex
	emu  *vt.Emulator
	cols int
	rows int

	scrollback []string
	sbHead     int
	sbLen      int
	altScreen  bool
}

// NewRenderer creates a Renderer over a fresh cols x rows emulator.
func NewRenderer(cols, rows int) *Renderer {
	r := &Renderer{
		emu:        vt.NewEmulator(cols, rows),
		cols:       cols,
		rows:       rows,
		scrollback: make([]string, maxScrollbackLines),
	}
	r.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if r.altScreen {
				return
			}
			for _, line := range lines {
				r.scrollback[r.sbHead] = line.Render()
				r.sbHead = (r.sbHead + 1) % len(r.scrollback)
				if r.sbLen < len(r.scrollback) {
					r.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			r.sbLen, r.sbHead = 0, 0
		},
		AltScreen: func(on bool) {
			r.altScreen = on
		},
	})
	return r
}

// Scrollback returns the lines scrolled off the top of the emulator,
// oldest first, up to maxScrollbackLines.
func (r *Renderer) Scrollback() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sbLen == 0 {
		return nil
	}
	out := make([]string, r.sbLen)
	start := (r.sbHead - r.sbLen + len(r.scrollback)) % len(r.scrollback)
	for i := 0; i < r.sbLen; i++ {
		out[i] = r.scrollback[(start+i)%len(r.scrollback)]
	}
	return out
}

// Write feeds emulator input (e.g. a client-side PTY's output) into the
// underlying vt.Emulator.
func (r *Renderer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emu.Write(p)
}

// Resize changes the emulator's dimensions; the caller is responsible
// for resizing the owning page's geometry (rows/cols) and buffer chain
// to match, via internal/resize.
func (r *Renderer) Resize(cols, rows int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emu.Resize(cols, rows)
	r.cols, r.rows = cols, rows
}

// Close releases the emulator.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emu.Close()
}

// Flush renders the emulator's current screen into buf's text-pack cell
// grid (rows*cols*CellSize bytes). It parses the emulator's ANSI render
// output (the same primitive internal/egg.VTerm.Snapshot uses) into
// plain rune+attribute cells — a deliberate simplification: full SGR
// fidelity (24-bit colour, double-width glyphs) collapses to the 8-bit
// colour index / style-bitmask Attr this format budgets for.
func (r *Renderer) Flush(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	need := r.rows * r.cols * CellSize
	if len(buf) < need {
		return
	}
	for i := 0; i < r.rows*r.cols; i++ {
		PutCell(buf, i, Cell{Rune: ' '})
	}

	parseANSIGrid(r.emu.Render(), r.cols, r.rows, func(x, y int, c Cell) {
		if x < 0 || x >= r.cols || y < 0 || y >= r.rows {
			return
		}
		PutCell(buf, y*r.cols+x, c)
	})
}

// CursorPosition returns the emulator's current cursor cell.
func (r *Renderer) CursorPosition() (x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.emu.CursorPosition()
	return pos.X, pos.Y
}
