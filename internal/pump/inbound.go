package pump

import (
	"errors"
	"time"

	"github.com/letoram/arcan-sub007/internal/event"
	"golang.org/x/sys/unix"
)

// ErrNoEvent is returned by a non-blocking Dequeue when nothing is ready
// to deliver this round (spec.md §4.2 "non-blocking (poll)").
var ErrNoEvent = errors.New("pump: no event ready")

// FDSource resolves the descriptor paired with a pending escrowed event.
// Production wires this to internal/fdpass over the real socket;
// in-process loopback tests (R2) supply a channel-backed fake so the
// whole state machine can be exercised without a kernel socket.
type FDSource interface {
	FetchFD(blocking bool) (fd int, ok bool, err error)
}

type escrowAction int

const (
	escrowDeliver escrowAction = iota
	escrowSwallow
	escrowCoalesceFontHint
)

// resetID is ioev[0] on the synthetic RESET delivered after a migration,
// matching scenario 4 in spec.md §8 ("ioev[0]=3").
const resetID = 3

// multipartBufCap bounds the receiver-side multipart scratch buffer
// (spec.md §4.2 "Multipart messages"). The protocol leaves the exact
// bound unspecified; this is generous for any realistic string while
// still catching a sender that never terminates a chain.
const multipartBufCap = event.MessageCap * 64

// multipartState accumulates one in-progress multipart message chain.
type multipartState struct {
	tmpl event.Event // first segment, Msg/FullMsg cleared, used as the delivered event's template
	buf  []byte
}

func isMessageEvent(e *event.Event) bool {
	switch e.Category {
	case event.CategoryTarget:
		return e.TargetKind() == event.TargetMessage
	case event.CategoryExternal:
		return e.ExternalKind() == event.ExternalMessage
	}
	return false
}

// accumulateMessage implements spec.md §4.2 "Multipart messages": each
// segment's bytes are appended to a bounded scratch buffer; ready is
// false while more segments are expected. On completion the assembled
// event carries the full string in FullMsg. Exceeding multipartBufCap
// yields a TargetMessageOverflow event instead.
func (p *Pump) accumulateMessage(e event.Event) (assembled event.Event, ready bool) {
	if p.multipart == nil {
		tmpl := e
		tmpl.Msg = event.Message{}
		tmpl.FullMsg = ""
		p.multipart = &multipartState{tmpl: tmpl}
	}
	p.multipart.buf = append(p.multipart.buf, e.Msg.Data[:e.Msg.Len]...)

	if len(p.multipart.buf) > multipartBufCap {
		overflow := p.multipart.tmpl
		p.multipart = nil
		overflow.Category = event.CategoryTarget
		overflow.Kind = uint8(event.TargetMessageOverflow)
		return overflow, true
	}

	if e.Msg.Multipart {
		return event.Event{}, false
	}

	st := p.multipart
	p.multipart = nil
	final := st.tmpl
	final.FullMsg = string(st.buf)
	final.Msg = event.NewMessage(final.FullMsg)
	return final, true
}

func syntheticReset() event.Event {
	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetReset), FD: event.BadFD}
	e.IOEv[0].I = resetID
	e.Timestamp = time.Now()
	return e
}

// TriggerReset arms the delay-slot RESET delivered by the very next
// Dequeue, per spec.md §4.3 step 9 "Queue a synthetic RESET event".
func (p *Pump) TriggerReset() {
	p.mu.Lock()
	p.pendingReset = true
	p.mu.Unlock()
}

// SetFDSource installs src; when set, it is consulted instead of p.Sock
// for descriptor escrow resolution.
func (p *Pump) SetFDSource(src FDSource) {
	p.mu.Lock()
	p.fdSource = src
	p.mu.Unlock()
}

// Dequeue implements the full inbound priority state machine of
// spec.md §4.2: delay-slot RESET, pause aggregation, pending-hint
// replay, descriptor escrow, ring dequeue, filtering, and the liveness
// fallback trigger. blocking selects the wait-vs-poll variant.
func (p *Pump) Dequeue(blocking bool) (event.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeUnconsumedFD()
	return p.dequeueLocked(blocking)
}

// closeUnconsumedFD implements spec.md §4.2's consume rule: "after each
// successful inbound delivery, the next call implicitly consumes the
// pending descriptor slot: if the caller did not dup() or keep the fd,
// it is closed."
func (p *Pump) closeUnconsumedFD() {
	if p.pendingConsumeFD != event.BadFD && !p.fdTaken {
		unix.Close(p.pendingConsumeFD)
	}
	p.pendingConsumeFD = event.BadFD
	p.fdTaken = false
}

// TakeDescriptor transfers ownership of the most recently delivered
// event's descriptor to the caller: without this call, the next Dequeue
// closes it automatically.
func (p *Pump) TakeDescriptor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fdTaken = true
	return p.pendingConsumeFD
}

func (p *Pump) dequeueLocked(blocking bool) (event.Event, error) {
	for {
		// Step 1: delay-slot RESET.
		if p.pendingReset {
			p.pendingReset = false
			return syntheticReset(), nil
		}

		// Step 4: descriptor escrow, continued from a previous round.
		if p.escrowEvent != nil {
			deliver, waiting, err := p.resolveEscrow(blocking)
			if err != nil {
				return event.Event{}, err
			}
			if waiting {
				return event.Event{}, ErrNoEvent
			}
			if deliver != nil {
				return *deliver, nil
			}
			continue
		}

		// Step 3: pending hint replay, at most one flag per call. Entries
		// coalesced during pause aggregation are only replayed once
		// unpaused — while still paused they stay queued so no
		// application-visible event precedes UNPAUSE (spec.md §8
		// scenario 6).
		if !p.paused {
			if p.pendingDisplayHint != nil {
				e := *p.pendingDisplayHint
				p.pendingDisplayHint = nil
				return e, nil
			}
			if p.pendingFontHint != nil {
				e := *p.pendingFontHint
				p.pendingFontHint = nil
				return e, nil
			}
		}

		// Step 5: ring dequeue.
		e, ok := p.InRing.Pop()
		if !ok {
			// Step 7: liveness.
			if p.dead() {
				if err := p.triggerFallback(); err != nil {
					return event.Event{}, err
				}
				continue
			}
			if !blocking {
				return event.Event{}, ErrNoEvent
			}
			p.EventSlot.WaitSignalled(p.DMS)
			p.EventSlot.Clear()
			continue
		}

		p.EventSlot.Clear() // release any Enqueue blocked on ring-full backpressure
		e.FD = event.BadFD  // descriptors travel out of band; escrow attaches the real one

		// Step 5.5: multipart message accumulation, ahead of the normal
		// filter dispatch so the rest of the pipeline only ever sees
		// complete messages.
		if isMessageEvent(&e) {
			assembled, ready := p.accumulateMessage(e)
			if !ready {
				continue
			}
			e = assembled
		}

		// Step 6: filter and special-case.
		deliver, deliverNow := p.filter(&e)
		if !deliverNow {
			continue
		}
		return *deliver, nil
	}
}

// filter implements step 6 of spec.md §4.2, dispatching to the paused
// variant when the connection is under pause aggregation.
func (p *Pump) filter(e *event.Event) (deliver *event.Event, deliverNow bool) {
	if p.paused {
		return p.filterPaused(e)
	}

	// DISPLAYHINT coalescing (the event coalescing table) applies whether
	// or not the connection is paused: merge into the accumulator, and
	// only hand it to the caller once no newer matching DISPLAYHINT
	// remains further along the ring (spec.md §8 scenario 3).
	if e.Category == event.CategoryTarget && e.TargetKind() == event.TargetDisplayHint {
		if p.displayHintAcc == nil {
			cp := *e
			p.displayHintAcc = &cp
		} else {
			merged := event.MergeDisplayHint(p.displayHintAcc, e)
			p.displayHintAcc = &merged
		}
		if p.newerDisplayHintQueued(e) {
			return nil, false
		}
		result := *p.displayHintAcc
		p.displayHintAcc = nil
		return &result, true
	}

	swallow := false
	switch {
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetStepFrame:
		id := event.StepFrameID(e)
		if p.haveLastStep && id == p.lastStepFrame {
			return nil, false // P6: never deliver the same (id) twice
		}
		p.lastStepFrame, p.haveLastStep = id, true
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetPause:
		if !p.manualPause {
			p.paused = true
		}
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetUnpause:
		if !p.manualPause {
			p.paused = false
		}
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetBufferFail:
		p.noAccelHandles = true
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetExit:
		p.alive = false
	case e.Category == event.CategoryTarget && e.TargetKind() == event.TargetDeviceNode:
		switch e.DeviceNodeKind {
		case event.DeviceNodeAltConnection, event.DeviceNodeKeyStore:
			swallow = true
		}
	}

	if e.CarriesDescriptor() {
		p.escrowEvent = e
		if swallow {
			p.escrowAct = escrowSwallow
		} else {
			p.escrowAct = escrowDeliver
		}
		return nil, false
	}
	if swallow {
		return nil, false
	}
	return e, true
}

// filterPaused implements step 2 of spec.md §4.2: only UNPAUSE, RESET,
// EXIT, DISPLAYHINT, FONTHINT are observable while paused; the latter
// two are coalesced rather than delivered directly. Everything else is
// not application-visible while paused (scenario 6 in spec.md §8).
func (p *Pump) filterPaused(e *event.Event) (deliver *event.Event, deliverNow bool) {
	if e.Category != event.CategoryTarget {
		return nil, false
	}
	switch e.TargetKind() {
	case event.TargetUnpause:
		if !p.manualPause {
			p.paused = false
		}
		return e, true
	case event.TargetReset:
		return e, true
	case event.TargetExit:
		p.alive = false
		return e, true
	case event.TargetDisplayHint:
		p.coalesceDisplayHint(e)
		return nil, false
	case event.TargetFontHint:
		if e.CarriesDescriptor() {
			p.escrowEvent = e
			p.escrowAct = escrowCoalesceFontHint
		} else {
			cp := *e
			p.pendingFontHint = &cp
		}
		return nil, false
	default:
		return nil, false
	}
}

// coalesceDisplayHint merges e into the pending DISPLAYHINT slot,
// creating it if empty, per the merge rule in spec.md §4.2's event
// coalescing table.
func (p *Pump) coalesceDisplayHint(e *event.Event) {
	if p.pendingDisplayHint == nil {
		cp := *e
		p.pendingDisplayHint = &cp
		return
	}
	merged := event.MergeDisplayHint(p.pendingDisplayHint, e)
	p.pendingDisplayHint = &merged
}

// newerDisplayHintQueued scans the remaining ring for a later DISPLAYHINT
// sharing e's token, per spec.md §4.2 step 6 "if an even newer
// DISPLAYHINT with matching token is later in the ring, drop this one."
func (p *Pump) newerDisplayHintQueued(e *event.Event) bool {
	for i := 0; i < p.InRing.Len(); i++ {
		other, ok := p.InRing.PeekAt(i)
		if !ok {
			break
		}
		if other.Category == event.CategoryTarget && other.TargetKind() == event.TargetDisplayHint &&
			event.SameDisplayHintToken(e, &other) {
			return true
		}
	}
	return false
}

func (p *Pump) resolveEscrow(blocking bool) (deliver *event.Event, waiting bool, err error) {
	fd, got, ferr := p.tryFetchFD(blocking)
	if ferr != nil {
		return nil, false, ferr
	}
	if !got {
		return nil, true, nil
	}

	e := *p.escrowEvent
	e.FD = fd
	action := p.escrowAct
	p.escrowEvent = nil
	p.escrowAct = escrowDeliver

	switch action {
	case escrowSwallow:
		p.handleSwallow(&e)
		return nil, false, nil
	case escrowCoalesceFontHint:
		cp := e
		p.pendingFontHint = &cp
		return nil, false, nil
	default:
		p.pendingConsumeFD = e.FD
		p.fdTaken = false
		return &e, false, nil
	}
}

// tryFetchFD resolves the descriptor for the currently escrowed event.
// blocking loops (checking DMS) until one arrives; non-blocking makes a
// single bounded attempt and reports got=false if none was ready.
func (p *Pump) tryFetchFD(blocking bool) (fd int, got bool, err error) {
	if p.fdSource != nil {
		fd, got, err = p.fdSource.FetchFD(blocking)
		return
	}
	if p.Sock == nil {
		// No real transport configured (e.g. a unit test exercising pure
		// ring/filter logic): resolve immediately with no descriptor.
		return event.BadFD, true, nil
	}
	return fetchFDFromSocket(p.Sock, blocking, p.DMS)
}

func (p *Pump) handleSwallow(e *event.Event) {
	if e.TargetKind() != event.TargetDeviceNode {
		return
	}
	switch e.DeviceNodeKind {
	case event.DeviceNodeAltConnection:
		p.altConnFD = e.FD
		p.altConnPath = e.Msg.String()
	case event.DeviceNodeKeyStore:
		p.keyStoreFD = e.FD
	}
}

// AltConnectionFD and AltConnectionPath expose the most recently swallowed
// DEVICE_NODE(alt-connection) fd/path, consulted by internal/migrate as
// the cached fallback endpoint (spec.md §4.2 step 6).
func (p *Pump) AltConnectionFD() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.altConnFD
}

func (p *Pump) AltConnectionPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.altConnPath
}

// KeyStoreFD exposes the most recently swallowed DEVICE_NODE(key-store) fd.
func (p *Pump) KeyStoreFD() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyStoreFD
}

// NoAccelHandles reports whether a BUFFER_FAIL has flipped this
// connection out of accelerated-handle-passing mode.
func (p *Pump) NoAccelHandles() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noAccelHandles
}

