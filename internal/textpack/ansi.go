package textpack

// parseANSIGrid walks an ANSI render (as produced by vt.Emulator.Render,
// the same primitive internal/egg.VTerm.Snapshot uses for its grid
// repaint section) and calls put for every printable cell it finds,
// tracking cursor position and a small subset of SGR attributes.
//
// This only recognises the escape forms an emulator's own Render output
// actually emits: cursor movement ("\x1b[H", "\x1b[<row>;<col>H") and SGR
// ("\x1b[<params>m"). Anything else is skipped rather than guessed at.
func parseANSIGrid(s string, cols, rows int, put func(x, y int, c Cell)) {
	x, y := 0, 0
	var attr Attr

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '\x1b':
			if i+1 < len(runes) && runes[i+1] == '[' {
				end := i + 2
				for end < len(runes) && !isCSIFinal(runes[end]) {
					end++
				}
				if end < len(runes) {
					params := string(runes[i+2 : end])
					final := runes[end]
					applyCSI(params, final, &x, &y, &attr)
					i = end
					continue
				}
			}
			// Unrecognised escape: skip just the ESC itself.
		case '\r':
			x = 0
		case '\n':
			x = 0
			y++
		default:
			if x < cols && y < rows {
				put(x, y, Cell{Rune: r, Attr: attr})
			}
			x++
			if x >= cols {
				x = 0
				y++
			}
		}
	}
}

func isCSIFinal(r rune) bool {
	return r == 'm' || r == 'H' || r == 'f'
}

func applyCSI(params string, final rune, x, y *int, attr *Attr) {
	switch final {
	case 'H', 'f':
		row, col := 1, 1
		parseRowCol(params, &row, &col)
		*y = row - 1
		*x = col - 1
	case 'm':
		applySGR(params, attr)
	}
}

func parseRowCol(params string, row, col *int) {
	if params == "" {
		return
	}
	var r, c int
	sep := -1
	for i, ch := range params {
		if ch == ';' {
			sep = i
			break
		}
	}
	if sep < 0 {
		r = atoiDefault(params, *row)
		*row = r
		return
	}
	r = atoiDefault(params[:sep], *row)
	c = atoiDefault(params[sep+1:], *col)
	*row, *col = r, c
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return def
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

func applySGR(params string, attr *Attr) {
	if params == "" {
		*attr = Attr{}
		return
	}
	start := 0
	for i := 0; i <= len(params); i++ {
		if i == len(params) || params[i] == ';' {
			code := atoiDefault(params[start:i], -1)
			start = i + 1
			switch {
			case code == 0:
				*attr = Attr{}
			case code == 1:
				attr.Bold = true
			case code == 3:
				attr.Italic = true
			case code == 4:
				attr.Under = true
			case code >= 30 && code <= 37:
				attr.Fg = uint8(code - 30)
			case code >= 40 && code <= 47:
				attr.Bg = uint8(code - 40)
			}
		}
	}
}
