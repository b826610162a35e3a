package relay

import (
	"errors"
	"testing"
)

func TestParseEndpointSecureAndPort(t *testing.T) {
	ep, ok := ParseEndpoint("a12s://mytag@example.com:9000")
	if !ok {
		t.Fatalf("expected a12s:// to parse")
	}
	if !ep.Secure || ep.Ident != "mytag" || ep.Host != "example.com" || ep.Port != 9000 {
		t.Fatalf("unexpected parse result: %+v", ep)
	}
}

func TestParseEndpointDefaultPort(t *testing.T) {
	ep, ok := ParseEndpoint("a12://tag@host")
	if !ok {
		t.Fatalf("expected a12:// to parse")
	}
	if ep.Secure {
		t.Fatalf("expected insecure a12://")
	}
	if ep.Port != 6680 {
		t.Fatalf("expected default port 6680, got %d", ep.Port)
	}
}

func TestParseEndpointRejectsPlainPath(t *testing.T) {
	if _, ok := ParseEndpoint("/tmp/my-socket"); ok {
		t.Fatalf("expected a plain filesystem path not to parse as an a12 endpoint")
	}
}

func TestSwappableWriterSwapsAtomically(t *testing.T) {
	var viaPrimary, viaFallback int
	sw := NewSwappableWriter(func(p []byte) error { viaPrimary++; return nil })

	if err := sw.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if viaPrimary != 1 || sw.Mode() != "primary" {
		t.Fatalf("expected primary write, got count=%d mode=%s", viaPrimary, sw.Mode())
	}

	if err := sw.MigrateTo(func(p []byte) error { viaFallback++; return nil }); err != nil {
		t.Fatalf("MigrateTo: %v", err)
	}
	if err := sw.Write([]byte("y")); err != nil {
		t.Fatalf("Write after migrate: %v", err)
	}
	if viaFallback != 1 || viaPrimary != 1 || sw.Mode() != "fallback" {
		t.Fatalf("expected fallback write only, got primary=%d fallback=%d mode=%s", viaPrimary, viaFallback, sw.Mode())
	}

	sw.FallbackToPrimary()
	if err := sw.Write([]byte("z")); err != nil {
		t.Fatalf("Write after revert: %v", err)
	}
	if viaPrimary != 2 || sw.Mode() != "primary" {
		t.Fatalf("expected write to go back to primary, got primary=%d mode=%s", viaPrimary, sw.Mode())
	}
}

func TestSwappableWriterRejectsNilMigrationTarget(t *testing.T) {
	sw := NewSwappableWriter(func(p []byte) error { return nil })
	if err := sw.MigrateTo(nil); err == nil {
		t.Fatalf("expected an error migrating to a nil write function")
	}
}

func TestWriteErrorPropagates(t *testing.T) {
	wantErr := errors.New("boom")
	sw := NewSwappableWriter(func(p []byte) error { return wantErr })
	if err := sw.Write(nil); err != wantErr {
		t.Fatalf("expected write error to propagate, got %v", err)
	}
}
