package signalpump

import (
	"net"
	"os"
	"testing"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/pump"
	"github.com/letoram/arcan-sub007/internal/ring"
	"github.com/letoram/arcan-sub007/internal/syncslot"
	"golang.org/x/sys/unix"
)

func newTestPage(t *testing.T, vcount, acount int) *page.Page {
	t.Helper()
	p, err := page.New(page.Geometry{Width: 4, Height: 2}, vcount, acount, 64, 44100)
	if err != nil {
		t.Fatalf("page.New: %v", err)
	}
	return p
}

func TestSignalVideoPublishesAndRotates(t *testing.T) {
	p := newTestPage(t, 2, 1)
	s := New(p, &syncslot.Slot{}, &syncslot.Slot{}, nil)

	if err := s.Signal(Video); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if p.VReady != 1 {
		t.Fatalf("expected vready=1, got %d", p.VReady)
	}
	if !p.VideoOwned(0) {
		t.Fatalf("expected slot 0 server-owned after publish")
	}

	// Free slot 0 (simulate the server consuming it) so the next Signal's
	// post-rotation ownership check takes the non-blocking path.
	p.AcquireVideo()

	if err := s.Signal(Video); err != nil {
		t.Fatalf("second Signal: %v", err)
	}
	if p.VReady != 2 {
		t.Fatalf("expected vready=2 (slot 1), got %d", p.VReady)
	}
}

func TestSignalAutoDirtyNoOp(t *testing.T) {
	p := newTestPage(t, 2, 1)
	p.Hints |= page.HintSubregionDirty
	s := New(p, &syncslot.Slot{}, &syncslot.Slot{}, nil)

	if err := s.Signal(Video); err != nil {
		t.Fatalf("first Signal: %v", err)
	}
	p.AcquireVideo()

	// Second buffer is identical (both zero-valued), so auto-dirty should
	// report no-op without publishing.
	if err := s.Signal(Video); err != ErrNoOp {
		t.Fatalf("expected ErrNoOp on unchanged buffer, got %v", err)
	}
	if p.VReady != 0 {
		t.Fatalf("expected no publish to have happened, vready=%d", p.VReady)
	}
}

func TestSignalAutoDirtyDetectsChange(t *testing.T) {
	p := newTestPage(t, 2, 1)
	p.Hints |= page.HintSubregionDirty
	s := New(p, &syncslot.Slot{}, &syncslot.Slot{}, nil)

	if err := s.Signal(Video); err != nil {
		t.Fatalf("first Signal: %v", err)
	}
	p.AcquireVideo()

	buf := p.Video.At(1)
	buf[0] = 0xff // mutate one pixel's first byte

	if err := s.Signal(Video); err != nil {
		t.Fatalf("second Signal: %v", err)
	}
	if p.VReady != 2 {
		t.Fatalf("expected publish on changed buffer, vready=%d", p.VReady)
	}
	if !p.Dirty.Valid(p.Geometry) {
		t.Fatalf("expected a valid dirty rect, got %+v", p.Dirty)
	}
}

func TestSignalOutputDirectionClearsInsteadOfPublishing(t *testing.T) {
	p := newTestPage(t, 1, 1)
	s := New(p, &syncslot.Slot{}, &syncslot.Slot{}, nil)
	s.Role = RoleEncoder

	p.VPending = 1
	p.VReady = 1

	if err := s.Signal(Video); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if p.VReady != 0 || p.VPending != 0 {
		t.Fatalf("expected output-direction signal to clear ready/pending, got vready=%d vpending=%d", p.VReady, p.VPending)
	}
}

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	toConn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "sp")
		c, err := net.FileConn(f)
		if err != nil {
			t.Fatalf("fileconn: %v", err)
		}
		f.Close()
		return c.(*net.UnixConn)
	}
	return toConn(fds[0]), toConn(fds[1])
}

func TestSignalHandlePassesDescriptorAndEvent(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	clientOut := ring.New[event.Event](4)
	clientPump := pump.New(clientOut, ring.New[event.Event](4), &syncslot.Slot{}, nil)
	serverPump := pump.New(ring.New[event.Event](4), clientOut, &syncslot.Slot{}, nil)

	p := newTestPage(t, 1, 1)
	s := New(p, &syncslot.Slot{}, &syncslot.Slot{}, nil)
	s.Sock = a
	s.Pump = clientPump

	tmp, err := os.CreateTemp(t.TempDir(), "plane")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()
	tmp.WriteString("plane-data")

	if err := s.SignalHandle(int(tmp.Fd()), 4096, 1, 0); err != nil {
		t.Fatalf("SignalHandle: %v", err)
	}

	fd, err := fdpass.RecvFD(b)
	if err != nil {
		t.Fatalf("RecvFD: %v", err)
	}
	defer unix.Close(fd)

	buf := make([]byte, len("plane-data"))
	if _, err := unix.Pread(fd, buf, 0); err != nil {
		t.Fatalf("pread: %v", err)
	}
	if string(buf) != "plane-data" {
		t.Fatalf("expected plane-data, got %q", buf)
	}

	got, err := serverPump.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.Category != event.CategoryExternal || got.ExternalKind() != event.ExternalBufferStream {
		t.Fatalf("expected BUFFERSTREAM, got category=%v kind=%v", got.Category, got.Kind)
	}
	if got.IOEv[0].I != 4096 || got.IOEv[1].I != 1 {
		t.Fatalf("expected stride=4096 format=1, got stride=%d format=%d", got.IOEv[0].I, got.IOEv[1].I)
	}
}
