// Package preroll implements the initial-burst capture of spec.md §4.4:
// between acquire and the first frame, the peer sends a run of hint
// events terminated by ACTIVATE. Preroll stashes them into an Initial
// structure, duplicating every descriptor so it survives past the
// one-event consume window; reading the normal pump after Initial has
// been consumed discards it and closes its descriptors.
package preroll

import (
	"errors"

	"github.com/letoram/arcan-sub007/internal/event"
	"golang.org/x/sys/unix"
)

// ErrAlreadyConsumed is returned by Take on a second call.
var ErrAlreadyConsumed = errors.New("preroll: initial structure already consumed")

// Source is the subset of *pump.Pump preroll collects from.
type Source interface {
	Dequeue(blocking bool) (event.Event, error)
}

// Initial is the burst of hint events observed before ACTIVATE, each
// descriptor independently duplicated so the caller owns its own fd.
type Initial struct {
	Events []event.Event
}

// Close releases every duplicated descriptor the caller did not already
// consume (spec.md "calling the normal event pump after initial has been
// read discards it and closes its descriptors").
func (in *Initial) Close() {
	for i := range in.Events {
		if in.Events[i].FD != event.BadFD {
			unix.Close(in.Events[i].FD)
			in.Events[i].FD = event.BadFD
		}
	}
	in.Events = nil
}

// collector runs once per connection, gathering every event up to and
// including ACTIVATE.
type collector struct {
	src Source
}

// Run drains src until a TARGET/ACTIVATE event is observed (inclusive),
// returning the captured burst. Every descriptor-bearing event's fd is
// duplicated with dup() so the original pump-owned copy can still be
// closed normally by later machinery without invalidating this copy.
func Run(src Source) (*Initial, error) {
	c := &collector{src: src}
	return c.run()
}

func (c *collector) run() (*Initial, error) {
	in := &Initial{}
	for {
		e, err := c.src.Dequeue(true)
		if err != nil {
			return nil, err
		}
		if e.FD != event.BadFD {
			dup, err := unix.Dup(e.FD)
			if err != nil {
				in.Close()
				return nil, err
			}
			e.FD = dup
		}
		in.Events = append(in.Events, e)
		if e.Category == event.CategoryTarget && e.TargetKind() == event.TargetActivate {
			return in, nil
		}
	}
}

// Once consumes an *Initial exactly one time: Take returns it once and
// ErrAlreadyConsumed on any later call, and Discard closes its
// descriptors if Take was never called, matching spec.md's one-shot
// consume semantics.
type Once struct {
	initial  *Initial
	consumed bool
}

// NewOnce wraps in for one-shot delivery.
func NewOnce(in *Initial) *Once { return &Once{initial: in} }

// Take returns the stashed burst exactly once. The caller becomes
// responsible for closing the returned events' descriptors.
func (o *Once) Take() (*Initial, error) {
	if o.consumed {
		return nil, ErrAlreadyConsumed
	}
	o.consumed = true
	return o.initial, nil
}

// Discard marks the initial structure consumed without returning it,
// closing its descriptors — the "normal pump used before Take" path.
func (o *Once) Discard() {
	if o.consumed {
		return
	}
	o.consumed = true
	if o.initial != nil {
		o.initial.Close()
	}
}
