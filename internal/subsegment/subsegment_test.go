package subsegment

import (
	"errors"
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/page"
)

type fakeSink struct {
	events []event.Event
}

func (f *fakeSink) Enqueue(e event.Event) error {
	f.events = append(f.events, e)
	return nil
}

func TestOfferSendsDescriptorThenEnqueuesNewSegment(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	serverConn, err := net.FileConn(os.NewFile(uintptr(fds[0]), "server"))
	if err != nil {
		t.Fatalf("server fileconn: %v", err)
	}
	clientConn, err := net.FileConn(os.NewFile(uintptr(fds[1]), "client"))
	if err != nil {
		t.Fatalf("client fileconn: %v", err)
	}
	defer serverConn.Close()
	defer clientConn.Close()

	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer payloadR.Close()

	sink := &fakeSink{}
	if err := Offer(serverConn.(*net.UnixConn), sink, int(payloadW.Fd()), KindDebug, "debug"); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	payloadW.Close()

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 enqueued event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Category != event.CategoryTarget || e.TargetKind() != event.TargetNewSegment {
		t.Fatalf("expected a NEWSEGMENT event, got %+v", e)
	}
	if Kind(e.IOEv[segreqKindWord].I) != KindDebug {
		t.Fatalf("expected kind %d, got %d", KindDebug, e.IOEv[segreqKindWord].I)
	}
	if e.Msg.String() != "debug" {
		t.Fatalf("expected page name %q, got %q", "debug", e.Msg.String())
	}

	fd, err := fdpass.RecvFD(clientConn.(*net.UnixConn))
	if err != nil {
		t.Fatalf("RecvFD: %v", err)
	}
	unix.Close(fd)
}

type fakeSource struct {
	events []event.Event
	i      int
}

func (f *fakeSource) Dequeue(blocking bool) (event.Event, error) {
	if f.i >= len(f.events) {
		return event.Event{}, errors.New("exhausted")
	}
	e := f.events[f.i]
	f.i++
	return e, nil
}

func fakeMapper(fd int, name string) (*page.Page, error) {
	return page.New(page.Geometry{Width: 2, Height: 2}, 1, 1, 16, 44100)
}

func newSegmentEvent(kind event.TargetKind, reqID uint32, name string, fd int) event.Event {
	e := event.Event{Category: event.CategoryTarget, Kind: uint8(kind), FD: fd}
	e.IOEv[segreqIDWord].I = int64(reqID)
	e.Msg = event.NewMessage(name)
	return e
}

func TestAcquireBuffersUnrelatedEventsUntilMatchingNewSegment(t *testing.T) {
	hint := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetDisplayHint)}
	stray := newSegmentEvent(event.TargetNewSegment, 999, "other", 7) // mismatched id: must be buffered
	match := newSegmentEvent(event.TargetNewSegment, 42, "child-seg", 9)

	src := &fakeSource{events: []event.Event{hint, stray, match}}

	acq, buffered, err := Acquire(src, 42, nil, fakeMapper)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if acq == nil || acq.Page == nil {
		t.Fatalf("expected an acquired subsegment page")
	}
	if len(buffered) != 2 {
		t.Fatalf("expected 2 buffered events (hint + mismatched NEWSEGMENT), got %d", len(buffered))
	}
	if buffered[0].TargetKind() != event.TargetDisplayHint {
		t.Fatalf("expected first buffered event to be the hint")
	}
	if buffered[1].TargetKind() != event.TargetNewSegment {
		t.Fatalf("expected second buffered event to be the mismatched NEWSEGMENT")
	}
}

func TestAcquireReportsReqFail(t *testing.T) {
	fail := newSegmentEvent(event.TargetReqFail, 7, "", event.BadFD)
	src := &fakeSource{events: []event.Event{fail}}

	acq, _, err := Acquire(src, 7, nil, fakeMapper)
	if err != ErrReqFailed {
		t.Fatalf("expected ErrReqFailed, got %v", err)
	}
	if acq != nil {
		t.Fatalf("expected no acquired segment on failure")
	}
}

func TestAcquireOfferedRequiresDescriptor(t *testing.T) {
	e := newSegmentEvent(event.TargetNewSegment, 0, "child", event.BadFD)
	if _, err := AcquireOffered(e, nil, fakeMapper); err != ErrNoDescriptor {
		t.Fatalf("expected ErrNoDescriptor, got %v", err)
	}
}

type constDMS struct{ dead bool }

func (c constDMS) Dead() bool { return c.dead }

func TestImplicationDiesWithEitherSwitch(t *testing.T) {
	acq, err := AcquireOffered(newSegmentEvent(event.TargetNewSegment, 0, "c", 3), constDMS{dead: false}, fakeMapper)
	if err != nil {
		t.Fatalf("AcquireOffered: %v", err)
	}
	if acq.DMS.Dead() {
		t.Fatalf("expected alive DMS initially")
	}
	acq.DMS.Own.Clear()
	if !acq.DMS.Dead() {
		t.Fatalf("expected dead DMS once the child's own switch clears")
	}
}
