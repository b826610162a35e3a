package page

import "testing"

// P1/I1: cookie validation never succeeds across different layout
// versions — here modeled as "any mutation of the cookie itself" since
// the struct layout is fixed at compile time within one build.
func TestCookieRejectsMismatch(t *testing.T) {
	p, err := New(Geometry{Width: 32, Height: 32}, 1, 1, 4096, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(p.SegmentSize); err != nil {
		t.Fatalf("freshly built page should validate: %v", err)
	}

	p.Cookie ^= 0xff
	if err := p.Validate(p.SegmentSize); err == nil {
		t.Fatal("expected cookie mismatch to be detected")
	}
}

func TestValidateChecksSegmentSize(t *testing.T) {
	p, err := New(Geometry{Width: 16, Height: 16}, 1, 1, 1024, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Validate(p.SegmentSize + 1); err == nil {
		t.Fatal("expected segment_size mismatch to be detected (I2)")
	}
}

func TestCookieStableAcrossRebuild(t *testing.T) {
	a, _ := New(Geometry{Width: 8, Height: 8}, 1, 1, 256, 8000)
	b, _ := New(Geometry{Width: 640, Height: 480}, 3, 2, 2048, 48000)
	if a.Cookie != b.Cookie {
		t.Fatal("cookie must depend only on layout, not negotiated geometry")
	}
}
