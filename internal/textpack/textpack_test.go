package textpack

import "testing"

func TestPutGetCellRoundtrip(t *testing.T) {
	buf := make([]byte, CellSize*4)
	c := Cell{Rune: 'A', Attr: Attr{Fg: 3, Bg: 1, Bold: true, Under: true}}
	PutCell(buf, 2, c)

	got := GetCell(buf, 2)
	if got != c {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, c)
	}

	// Untouched cells stay zero.
	if z := GetCell(buf, 0); z.Rune != 0 {
		t.Fatalf("expected untouched cell to be zero, got %+v", z)
	}
}

func TestFlushRendersPlainText(t *testing.T) {
	r := NewRenderer(10, 2)
	defer r.Close()

	if _, err := r.Write([]byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 10*2*CellSize)
	r.Flush(buf)

	h := GetCell(buf, 0)
	i := GetCell(buf, 1)
	if h.Rune != 'h' || i.Rune != 'i' {
		t.Fatalf("expected 'hi' at start of grid, got %q%q", h.Rune, i.Rune)
	}

	// Cells beyond written text stay blank (space), not null.
	blank := GetCell(buf, 2)
	if blank.Rune != ' ' {
		t.Fatalf("expected blank cell to be space, got %q", blank.Rune)
	}
}

func TestFlushTooSmallBufferIsNoop(t *testing.T) {
	r := NewRenderer(10, 2)
	defer r.Close()

	buf := make([]byte, 4) // far smaller than needed
	r.Flush(buf)           // must not panic
}

func TestResizeUpdatesDimensions(t *testing.T) {
	r := NewRenderer(5, 5)
	defer r.Close()

	r.Resize(8, 3)
	buf := make([]byte, 8*3*CellSize)
	r.Flush(buf) // must not panic with the new, larger geometry
}

func TestParseANSIGridTracksCursorMovementAndSGR(t *testing.T) {
	var got []Cell
	parseANSIGrid("\x1b[H\x1b[1mX", 4, 4, func(x, y int, c Cell) {
		got = append(got, c)
		if x != 0 || y != 0 {
			t.Fatalf("expected home position, got (%d,%d)", x, y)
		}
	})
	if len(got) != 1 || got[0].Rune != 'X' || !got[0].Attr.Bold {
		t.Fatalf("expected one bold X cell, got %+v", got)
	}
}

func TestScrollbackEmptyBeforeAnyScroll(t *testing.T) {
	r := NewRenderer(10, 2)
	defer r.Close()

	if sb := r.Scrollback(); sb != nil {
		t.Fatalf("expected no scrollback yet, got %v", sb)
	}
}

func TestScrollbackCapturesScrolledLines(t *testing.T) {
	r := NewRenderer(10, 2)
	defer r.Close()

	for i := 0; i < 5; i++ {
		if _, err := r.Write([]byte("line\r\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	sb := r.Scrollback()
	if len(sb) == 0 {
		t.Fatalf("expected some lines to have scrolled off a 2-row screen after 5 lines")
	}
}

func TestParseANSIGridWrapsAtColumnBoundary(t *testing.T) {
	var xs, ys []int
	parseANSIGrid("ab", 1, 2, func(x, y int, c Cell) {
		xs = append(xs, x)
		ys = append(ys, y)
	})
	if len(xs) != 2 || xs[0] != 0 || ys[0] != 0 || xs[1] != 0 || ys[1] != 1 {
		t.Fatalf("expected wrap to next row at col width 1, got xs=%v ys=%v", xs, ys)
	}
}
