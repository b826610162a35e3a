package argstr

import "testing"

func TestParseBareAndValueTokens(t *testing.T) {
	a := Parse("fullscreen:width=800:height=")
	if len(a) != 3 {
		t.Fatalf("expected 3 tokens, got %d: %+v", len(a), a)
	}
	if a[0].Key != "fullscreen" || a[0].HasValue {
		t.Fatalf("expected bare fullscreen token, got %+v", a[0])
	}
	if v, ok := a.First("width"); !ok || v != "800" {
		t.Fatalf("expected width=800, got %q ok=%v", v, ok)
	}
	if v, ok := a.First("height"); !ok || v != "" {
		t.Fatalf("expected height= (empty but present), got %q ok=%v", v, ok)
	}
}

func TestDuplicateKeysByOrdinal(t *testing.T) {
	a := Parse("tag=one:tag=two:tag=three")
	if a.Count("tag") != 3 {
		t.Fatalf("expected 3 occurrences, got %d", a.Count("tag"))
	}
	for i, want := range []string{"one", "two", "three"} {
		got, ok := a.Get("tag", i)
		if !ok || got != want {
			t.Fatalf("ordinal %d: expected %q, got %q ok=%v", i, want, got, ok)
		}
	}
	if _, ok := a.Get("tag", 3); ok {
		t.Fatalf("expected no 4th occurrence")
	}
}

func TestEscapedColonSurvivesRoundtrip(t *testing.T) {
	// A literal colon inside a value is carried as a tab on the wire.
	s := "path=/tmp/a\tb:mode=rw"
	a := Parse(s)
	v, ok := a.First("path")
	if !ok || v != "/tmp/a:b" {
		t.Fatalf("expected unescaped path with colon, got %q ok=%v", v, ok)
	}
	if got := Serialize(a); got != s {
		t.Fatalf("roundtrip mismatch: got %q want %q", got, s)
	}
}

// TestSerializeParseRoundtrip is the R3 property: serialize(parse(s)) ==
// s for strings built only from legal tokens (no raw, unescaped colons
// inside a value).
func TestSerializeParseRoundtrip(t *testing.T) {
	cases := []string{
		"",
		"solo",
		"a:b:c",
		"a=1:b=2:c",
		"k=",
		"k=:k=:k=",
		"density=96:stretch:origo_ll",
	}
	for _, s := range cases {
		got := Serialize(Parse(s))
		if got != s {
			t.Fatalf("roundtrip mismatch for %q: got %q", s, got)
		}
	}
}
