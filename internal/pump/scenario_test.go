package pump

import (
	"testing"

	"github.com/letoram/arcan-sub007/internal/event"
)

// TestScenarioDescriptorPairing is spec.md §8 scenario 2: FONTHINT
// (carries an fd) immediately followed by a fd-less DEVICE_NODE. The
// first pump must return FONTHINT with a valid fd, the second
// DEVICE_NODE with bad-fd, in order.
func TestScenarioDescriptorPairing(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 1)}
	p.SetFDSource(src)

	fontHint := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetFontHint)}
	fontHint.IOEv[1].I = 1
	deviceNode := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetDeviceNode), FDLess: true}

	p.InRing.Push(fontHint)
	p.InRing.Push(deviceNode)
	src.fds <- 5

	first, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("first Dequeue: %v", err)
	}
	if first.TargetKind() != event.TargetFontHint || first.FD != 5 {
		t.Fatalf("expected FONTHINT with fd 5, got kind=%v fd=%d", first.TargetKind(), first.FD)
	}

	second, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if second.TargetKind() != event.TargetDeviceNode || second.FD != event.BadFD {
		t.Fatalf("expected DEVICE_NODE with bad-fd, got kind=%v fd=%d", second.TargetKind(), second.FD)
	}
}

// TestScenarioCoalescedDisplayHint is spec.md §8 scenario 3: three
// same-token DISPLAYHINTs collapse into exactly one delivered event with
// the merged field values.
func TestScenarioCoalescedDisplayHint(t *testing.T) {
	p := newTestPump()

	mk := func(w, h, density int64) event.Event {
		e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetDisplayHint)}
		e.IOEv[0].I = w
		e.IOEv[1].I = h
		e.IOEv[2].I = density
		return e
	}
	p.InRing.Push(mk(800, 600, 38))
	p.InRing.Push(mk(820, 600, 0))
	p.InRing.Push(mk(0, 0, 42))

	got, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.TargetKind() != event.TargetDisplayHint {
		t.Fatalf("expected DISPLAYHINT, got %v", got.TargetKind())
	}
	if got.IOEv[0].I != 820 || got.IOEv[1].I != 600 || got.IOEv[2].I != 42 {
		t.Fatalf("expected merged (820,600,42), got (%d,%d,%d)", got.IOEv[0].I, got.IOEv[1].I, got.IOEv[2].I)
	}

	if _, err := p.Dequeue(false); err != ErrNoEvent {
		t.Fatalf("expected exactly one merged DISPLAYHINT, got second event err=%v", err)
	}
}

// TestScenarioPauseAggregation is spec.md §8 scenario 6: PAUSE,
// FONTHINT(fd=f1), DISPLAYHINT, UNPAUSE yields no application-visible
// events until UNPAUSE, then exactly one FONTHINT with fd=f1 and exactly
// one DISPLAYHINT.
func TestScenarioPauseAggregation(t *testing.T) {
	p := newTestPump()
	src := &chanFDSource{fds: make(chan int, 1)}
	p.SetFDSource(src)
	src.fds <- 1 // f1

	fontHint := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetFontHint)}
	displayHint := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetDisplayHint)}
	displayHint.IOEv[0].I = 1024
	displayHint.IOEv[1].I = 768

	p.InRing.Push(event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetPause)})
	p.InRing.Push(fontHint)
	p.InRing.Push(displayHint)
	p.InRing.Push(event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetUnpause)})

	pause, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue (PAUSE): %v", err)
	}
	if pause.TargetKind() != event.TargetPause {
		t.Fatalf("expected PAUSE to be delivered (it is what enters pause mode), got %v", pause.TargetKind())
	}
	if !p.Paused() {
		t.Fatalf("expected pump to be paused after PAUSE")
	}

	got, err := p.Dequeue(true)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.TargetKind() != event.TargetUnpause {
		t.Fatalf("expected UNPAUSE to be the next application-visible event, got %v", got.TargetKind())
	}
	if p.Paused() {
		t.Fatalf("expected pump to be unpaused after UNPAUSE")
	}

	seenFontHint, seenDisplayHint := 0, 0
	for i := 0; i < 2; i++ {
		e, err := p.Dequeue(true)
		if err != nil {
			t.Fatalf("Dequeue replay %d: %v", i, err)
		}
		switch e.TargetKind() {
		case event.TargetFontHint:
			seenFontHint++
			if e.FD != 1 {
				t.Fatalf("expected FONTHINT fd=1, got %d", e.FD)
			}
		case event.TargetDisplayHint:
			seenDisplayHint++
			if e.IOEv[0].I != 1024 || e.IOEv[1].I != 768 {
				t.Fatalf("expected DISPLAYHINT 1024x768, got (%d,%d)", e.IOEv[0].I, e.IOEv[1].I)
			}
		default:
			t.Fatalf("unexpected event kind %v during replay", e.TargetKind())
		}
	}
	if seenFontHint != 1 || seenDisplayHint != 1 {
		t.Fatalf("expected exactly one FONTHINT and one DISPLAYHINT, got %d/%d", seenFontHint, seenDisplayHint)
	}

	if _, err := p.Dequeue(false); err != ErrNoEvent {
		t.Fatalf("expected no further events, got err=%v", err)
	}
}
