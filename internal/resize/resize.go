// Package resize implements the client-side resize/renegotiate
// algorithm of spec.md §4.1 "Resize algorithm": wait out any outstanding
// buffer ownership, compute the new layout's required size, remap if
// the platform-imposed maximum allows it, hand the request to the peer
// via the resize tri-state word, and wait for acceptance or rejection.
package resize

import (
	"errors"
	"time"

	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/syncslot"
)

// ErrTooLarge is returned when even a single video buffer at the
// requested geometry exceeds MaxMapSize (spec.md §4.1 step 3).
var ErrTooLarge = errors.New("resize: required size exceeds platform maximum even at vcount=1")

// ErrRejected is returned when the peer wrote resized=-1.
var ErrRejected = errors.New("resize: rejected by peer")

// Status is the reset-hook status of spec.md §4.1 step 8.
type Status int

const (
	// NoChange indicates buffer base pointers did not move: no remap was
	// necessary (the common case for a resize to the current geometry,
	// spec.md §8 R1).
	NoChange Status = iota
	// Remap indicates buffer base pointers moved and callers holding
	// stale pointers must re-derive them.
	Remap
)

// Remapper abstracts the platform remap step (ftruncate + mremap, or
// munmap+mmap) so resize can be exercised without a real shared mapping.
// Request calls it only when the required size changed; a non-nil error
// signals remap failure (caller must restore old size).
type Remapper interface {
	Remap(newSize uint64) error
}

// pollInterval bounds how often the resize wait re-checks the resized
// tri-state and the dead-man switch.
const pollInterval = time.Millisecond

// Resizer drives one segment's client-side resize requests.
type Resizer struct {
	Page      *page.Page
	VideoSlot *syncslot.Slot
	AudioSlot *syncslot.Slot
	DMS       syncslot.DeadManSwitch

	// MaxMapSize is the platform-imposed mapping size ceiling (spec.md
	// §4.1 step 3). Zero means unbounded.
	MaxMapSize uint64

	Remap Remapper // nil-safe: no-op (the Go model never truly remaps)

	// ResetHook is invoked after a successful resize with NoChange or
	// Remap, per spec.md §4.1 step 8.
	ResetHook func(Status)
}

// Request implements the full client-side resize algorithm. It blocks
// until the peer accepts (resized cleared to 0) or rejects (-1), or the
// dead-man switch drops.
func (r *Resizer) Request(g page.Geometry, vcount, acount int, abufSize uint32, rate uint32) error {
	if err := r.waitOutstandingBuffers(); err != nil {
		return err
	}

	size := page.RequiredSize(g, vcount, acount, abufSize)
	if r.MaxMapSize != 0 && size > r.MaxMapSize {
		vcount = 1
		size = page.RequiredSize(g, vcount, acount, abufSize)
		if size > r.MaxMapSize {
			return ErrTooLarge
		}
	}

	oldSize := r.Page.SegmentSize
	needsRemap := size != oldSize
	if needsRemap && r.Remap != nil {
		if err := r.Remap.Remap(size); err != nil {
			return err
		}
	}

	if err := r.Page.ApplyLayout(g, vcount, acount, abufSize, rate); err != nil {
		if needsRemap && r.Remap != nil {
			_ = r.Remap.Remap(oldSize) // best-effort restore
		}
		return err
	}

	r.Page.Resized = page.ResizeRequested
	r.VideoSlot.Post()

	if err := r.waitOutcome(); err != nil {
		return err
	}

	status := NoChange
	if needsRemap {
		status = Remap
	}
	if r.ResetHook != nil {
		r.ResetHook(status)
	}
	return nil
}

func (r *Resizer) waitOutstandingBuffers() error {
	for r.Page.VReady != 0 {
		if r.DMS != nil && r.DMS.Dead() {
			return nil
		}
		r.VideoSlot.Wait(r.DMS)
		if r.Page.VReady == 0 {
			break
		}
		time.Sleep(pollInterval)
	}
	for r.Page.AReady != 0 {
		if r.DMS != nil && r.DMS.Dead() {
			return nil
		}
		r.AudioSlot.Wait(r.DMS)
		if r.Page.AReady == 0 {
			break
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// waitOutcome blocks until the peer clears Resized to idle (acceptance)
// or sets it to rejected, or the dead-man switch drops.
func (r *Resizer) waitOutcome() error {
	for {
		if r.DMS != nil && r.DMS.Dead() {
			return nil
		}
		switch r.Page.Resized {
		case page.ResizeIdle:
			return nil
		case page.ResizeRejected:
			r.Page.Resized = page.ResizeIdle
			return ErrRejected
		}
		time.Sleep(pollInterval)
	}
}
