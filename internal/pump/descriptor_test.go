package pump

import (
	"testing"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/ring"
	"github.com/letoram/arcan-sub007/internal/syncslot"
)

// chanFDSource hands out fds pushed onto a channel, simulating the
// out-of-band descriptor arriving asynchronously relative to its event.
type chanFDSource struct {
	fds chan int
}

func (c *chanFDSource) FetchFD(blocking bool) (int, bool, error) {
	if blocking {
		return <-c.fds, true, nil
	}
	select {
	case fd := <-c.fds:
		return fd, true, nil
	default:
		return event.BadFD, false, nil
	}
}

func newTestPump() *Pump {
	out := ring.New[event.Event](8)
	in := ring.New[event.Event](8)
	slot := &syncslot.Slot{}
	return New(out, in, slot, nil)
}

// TestDescriptorEscrowAttachesFD exercises I5/P3: a descriptor-bearing
// event is not delivered until its fd has been fetched, and the fd ends
// up on the returned event.
func TestDescriptorEscrowAttachesFD(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 1)}
	p.SetFDSource(src)

	in := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetStore)}
	p.InRing.Push(in)
	src.fds <- 42

	got, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.FD != 42 {
		t.Fatalf("expected fd 42, got %d", got.FD)
	}
}

// TestDescriptorEscrowNonBlockingNotReady exercises the poll-mode half of
// P3: when the fd has not yet arrived, a non-blocking Dequeue reports
// "no event ready" rather than delivering a bad-fd event, and a later
// poll succeeds once the fd shows up.
func TestDescriptorEscrowNonBlockingNotReady(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 1)}
	p.SetFDSource(src)

	in := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetRestore)}
	p.InRing.Push(in)

	if _, err := p.Dequeue(false); err != ErrNoEvent {
		t.Fatalf("expected ErrNoEvent before fd arrives, got %v", err)
	}

	src.fds <- 7
	got, err := p.Dequeue(false)
	if err != nil {
		t.Fatalf("Dequeue after fd arrival: %v", err)
	}
	if got.FD != 7 {
		t.Fatalf("expected fd 7, got %d", got.FD)
	}
}

// TestDescriptorEscrowBlocksFollowingRingEntries covers I5's "may not be
// overtaken by another descriptor bearer": a second ring entry must not
// be delivered before the first escrow resolves.
func TestDescriptorEscrowBlocksFollowingRingEntries(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 2)}
	p.SetFDSource(src)

	first := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetBchunkIn)}
	second := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetBchunkOut)}
	p.InRing.Push(first)
	p.InRing.Push(second)

	if _, err := p.Dequeue(false); err != ErrNoEvent {
		t.Fatalf("expected ErrNoEvent while first escrow outstanding, got %v", err)
	}

	src.fds <- 1
	got, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.TargetKind() != event.TargetBchunkIn || got.FD != 1 {
		t.Fatalf("expected first event with fd 1, got kind=%v fd=%d", got.TargetKind(), got.FD)
	}

	src.fds <- 2
	got2, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got2.TargetKind() != event.TargetBchunkOut || got2.FD != 2 {
		t.Fatalf("expected second event with fd 2, got kind=%v fd=%d", got2.TargetKind(), got2.FD)
	}
}

// TestDeviceNodeKeyStoreSwallowed verifies DEVICE_NODE(key-store) is
// never forwarded to the caller, only cached.
func TestDeviceNodeKeyStoreSwallowed(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 1)}
	p.SetFDSource(src)

	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetDeviceNode), DeviceNodeKind: event.DeviceNodeKeyStore}
	p.InRing.Push(e)
	follow := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetActivate)}
	p.InRing.Push(follow)
	src.fds <- 99

	got, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.TargetKind() != event.TargetActivate {
		t.Fatalf("expected key-store event to be swallowed, got %v delivered instead", got.TargetKind())
	}
	if p.KeyStoreFD() != 99 {
		t.Fatalf("expected cached key store fd 99, got %d", p.KeyStoreFD())
	}
}
