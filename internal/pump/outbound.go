package pump

import "github.com/letoram/arcan-sub007/internal/event"

// scanForExit reports whether an EXIT event is already queued on the
// inbound ring. Implicit fallback triggers must refuse to migrate when
// the peer wants termination, not reconnection (spec.md §4.3 "Fallback
// triggers").
func (p *Pump) scanForExit() bool {
	for i := 0; i < p.InRing.Len(); i++ {
		e, ok := p.InRing.PeekAt(i)
		if !ok {
			break
		}
		if e.Category == event.CategoryTarget && e.TargetKind() == event.TargetExit {
			return true
		}
	}
	return false
}

// triggerFallback invokes the configured fallback unless an EXIT is
// already pending.
func (p *Pump) triggerFallback() error {
	if p.scanForExit() {
		return ErrDead
	}
	if p.Fallback == nil {
		return ErrDead
	}
	if err := p.Fallback(); err != nil {
		return err
	}
	p.pendingReset = true
	return nil
}

// pumpWhilePaused processes inbound events (blocking) until unpaused, so
// that the outbound side does not spin and does not race a pending
// unpause, per spec.md §4.2 step 2.
func (p *Pump) pumpWhilePaused() error {
	for p.Paused() {
		if p.dead() {
			return ErrDead
		}
		if _, err := p.Dequeue(true); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue commits e to the outbound ring, blocking if the ring is full
// until space appears or the connection dies, per spec.md §4.2
// "Outbound (client → server)".
func (p *Pump) Enqueue(e event.Event) error {
	if p.dead() {
		if err := p.triggerFallback(); err != nil {
			return err
		}
	}

	if err := p.pumpWhilePaused(); err != nil {
		return err
	}

	for !p.OutRing.Push(p.stamp(e)) {
		if p.dead() {
			return ErrDead
		}
		p.EventSlot.Wait(p.DMS)
	}

	p.afterCommit(e)
	p.EventSlot.Post()
	return p.ping()
}

// TryEnqueue is Enqueue's non-blocking variant: it returns ErrRingFull
// instead of blocking when the outbound ring has no free slot.
func (p *Pump) TryEnqueue(e event.Event) error {
	if p.dead() {
		return ErrDead
	}
	if p.Paused() {
		// Non-blocking callers never spin on pause; they simply fail fast
		// the way a full ring would, since pumpWhilePaused would block.
		return ErrRingFull
	}
	if !p.OutRing.Push(p.stamp(e)) {
		return ErrRingFull
	}
	p.afterCommit(e)
	p.EventSlot.Post()
	return p.ping()
}

// stamp marks EXTERNAL events with the most recently signalled frame id,
// spec.md §4.2 step 4.
func (p *Pump) stamp(e event.Event) event.Event {
	if e.Category == event.CategoryExternal {
		e.FrameID = p.lastFrameID
	}
	return e
}

// SetLastFrameID records the frame id that signalpump most recently
// published, consulted by stamp.
func (p *Pump) SetLastFrameID(id uint32) {
	p.mu.Lock()
	p.lastFrameID = id
	p.mu.Unlock()
}

func (p *Pump) afterCommit(e event.Event) {
	if e.Category == event.CategoryExternal && e.ExternalKind() == event.ExternalRegister {
		p.mu.Lock()
		p.GUID[0] = e.IOEv[0].U
		p.GUID[1] = e.IOEv[1].U
		p.mu.Unlock()
	}
}
