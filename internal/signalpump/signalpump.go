// Package signalpump implements the buffer publish half of spec.md §4.5
// ("Signal pump"): signal(mask) flips page ownership bits and wakes the
// peer's sync slot; signalhandle additionally passes an accelerated
// buffer plane as a descriptor and names its geometry with a
// BUFFERSTREAM event.
package signalpump

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/pump"
	"github.com/letoram/arcan-sub007/internal/syncslot"
)

// Mask selects which buffer classes a single signal() call publishes.
type Mask uint8

const (
	Video Mask = 1 << iota
	Audio
)

// Role distinguishes the three segment directions spec.md §4.5
// describes. Output-direction segments receive rather than produce:
// signal() on them just clears the ready flags instead of publishing.
type Role uint8

const (
	RoleNormal Role = iota
	RoleEncoder
	RolePaste
)

func (r Role) outputDirection() bool { return r == RoleEncoder || r == RolePaste }

// MaxBufferStreamPlanes bounds signalhandle's repeat-call plane count
// (spec.md §4.5 "up to four planes").
const MaxBufferStreamPlanes = fdpass.MaxFDsPerMessage

// ErrNoOp is returned by Signal when the auto-dirty pass found no pixel
// difference and the publish was skipped entirely.
var ErrNoOp = errors.New("signalpump: no-op, buffer unchanged")

// FallbackFunc mirrors pump.FallbackFunc so signalpump does not need to
// depend on a concrete fallback implementation.
type FallbackFunc func() error

// Signaler drives one segment's video/audio publish side.
type Signaler struct {
	mu sync.Mutex

	Page      *page.Page
	VideoSlot *syncslot.Slot
	AudioSlot *syncslot.Slot
	DMS       syncslot.DeadManSwitch
	Sock      *net.UnixConn // nil-safe: used only by SignalHandle

	Pump *pump.Pump // used to stamp/enqueue BUFFERSTREAM and read last-frame id

	Fallback FallbackFunc

	Role Role

	// MigrationInFlight, if set, reports whether a migration is
	// currently being performed, per spec.md §4.5 "if migration is in
	// flight, return 0."
	MigrationInFlight func() bool

	workingVideo int
	workingAudio int

	prevVideo []byte // snapshot of the previously published video buffer, for auto-dirty diffing
	frameSeq  uint32
}

// New creates a Signaler bound to p's buffer chains and sync slots.
func New(p *page.Page, videoSlot, audioSlot *syncslot.Slot, dms syncslot.DeadManSwitch) *Signaler {
	return &Signaler{Page: p, VideoSlot: videoSlot, AudioSlot: audioSlot, DMS: dms}
}

func (s *Signaler) dead() bool {
	return s.DMS != nil && s.DMS.Dead()
}

func (s *Signaler) triggerFallback() error {
	if s.Fallback == nil {
		return pump.ErrDead
	}
	return s.Fallback()
}

func (s *Signaler) migrating() bool {
	return s.MigrationInFlight != nil && s.MigrationInFlight()
}

// Signal implements spec.md §4.5 signal(mask): publishes the current
// video and/or audio buffer. It returns ErrNoOp (not an error condition
// a caller need treat as failure) when an auto-dirty pass determined the
// video buffer was unchanged.
func (s *Signaler) Signal(mask Mask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.migrating() {
		return nil
	}
	if s.dead() {
		if err := s.triggerFallback(); err != nil {
			return err
		}
		return nil
	}

	if s.Role.outputDirection() {
		if mask&Video != 0 {
			s.Page.AcquireVideo()
		}
		if mask&Audio != 0 {
			s.Page.AcquireAudio()
		}
		return nil
	}

	var noOp bool
	if mask&Audio != 0 {
		if err := s.signalAudio(); err != nil {
			return err
		}
	}
	if mask&Video != 0 {
		published, err := s.signalVideo()
		if err != nil {
			return err
		}
		noOp = !published
	}
	if noOp {
		return ErrNoOp
	}
	return nil
}

func (s *Signaler) signalAudio() error {
	idx := s.workingAudio
	used := s.Page.ABufSize
	if err := s.Page.PublishAudio(idx, used); err != nil {
		return err
	}
	s.workingAudio = (idx + 1) % s.Page.Audio.Count()

	if s.Page.Audio.Count() == 1 || s.Page.AudioOwned(s.workingAudio) {
		s.AudioSlot.Wait(s.DMS)
	} else {
		s.AudioSlot.TryWait(s.DMS)
	}
	return nil
}

// signalVideo returns published=false (with nil error) exactly when an
// auto-dirty comparison determined nothing changed.
func (s *Signaler) signalVideo() (published bool, err error) {
	idx := s.workingVideo
	buf := s.Page.Video.At(idx)

	autoDirty := s.Page.Hints&page.HintSubregionDirty != 0 && s.Page.Video.Count() >= 2
	if autoDirty {
		if s.prevVideo != nil {
			rect, changed := computeDirtyRect(buf, s.prevVideo, s.Page.Geometry, s.Page.Hints&page.HintIgnoreAlpha != 0)
			if !changed {
				return false, nil
			}
			s.Page.Dirty = rect
		} else {
			s.Page.Dirty = page.Full(s.Page.Geometry)
		}
	} else if !s.Page.Dirty.Valid(s.Page.Geometry) {
		s.Page.Dirty = page.Full(s.Page.Geometry)
	}

	if err := s.Page.PublishVideo(idx); err != nil {
		return false, err
	}

	s.prevVideo = append(s.prevVideo[:0], buf...)
	s.frameSeq++
	if s.Pump != nil {
		s.Pump.SetLastFrameID(s.frameSeq)
	}

	s.workingVideo = (idx + 1) % s.Page.Video.Count()
	if s.Page.Video.Count() == 1 || s.Page.VideoOwned(s.workingVideo) {
		s.VideoSlot.Wait(s.DMS)
	} else {
		s.VideoSlot.TryWait(s.DMS)
	}
	return true, nil
}

// SignalHandle implements spec.md §4.5 signalhandle(fd, stride, format):
// passes an accelerated buffer plane as ancillary data and enqueues a
// BUFFERSTREAM event naming its geometry. planesLeft lets a caller chain
// up to MaxBufferStreamPlanes calls for a multi-plane format.
func (s *Signaler) SignalHandle(fd int, stride, format int, planesLeft int) error {
	if s.Sock == nil {
		return fmt.Errorf("signalpump: no socket configured for descriptor passing")
	}
	if planesLeft < 0 || planesLeft >= MaxBufferStreamPlanes {
		return fmt.Errorf("signalpump: planesLeft %d out of range", planesLeft)
	}
	if err := fdpass.SendFD(s.Sock, fd); err != nil {
		return err
	}

	e := event.Event{Category: event.CategoryExternal, Kind: uint8(event.ExternalBufferStream)}
	e.IOEv[0].I = int64(stride)
	e.IOEv[1].I = int64(format)
	e.IOEv[2].I = int64(planesLeft)

	if s.Pump == nil {
		return fmt.Errorf("signalpump: no pump configured to enqueue BUFFERSTREAM")
	}
	return s.Pump.Enqueue(e)
}
