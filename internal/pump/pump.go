// Package pump implements the event/descriptor multiplexer of spec.md
// §4.2: outbound enqueue, inbound dequeue with descriptor pairing,
// DISPLAYHINT/FONTHINT pause-mode coalescing, and the priority-ordered
// inbound state machine.
package pump

import (
	"errors"
	"net"
	"sync"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/ring"
	"github.com/letoram/arcan-sub007/internal/syncslot"
)

// ErrRingFull is returned by TryEnqueue when the outbound ring has no
// free slot (spec.md §7).
var ErrRingFull = errors.New("pump: ring full")

// ErrDead is returned by any operation attempted after the dead-man
// switch has dropped and no fallback is configured.
var ErrDead = errors.New("pump: connection dead")

// DeadManSwitch abstracts the page-level and local dead-man switch so
// the pump can be driven in tests without a real shared page.
type DeadManSwitch interface {
	Dead() bool
}

// FallbackFunc is invoked when an implicit fallback trigger fires
// (spec.md §4.3 "Fallback triggers"). It returns nil on a successful
// migration (in which case the pump will synthesize the post-migration
// RESET on the next Dequeue), or an error if migration could not be
// started/completed.
type FallbackFunc func() error

// Pump multiplexes one connection's event traffic. It owns no page
// memory itself — OutRing/InRing are views into the shared page (or, in
// tests, plain heap rings shared directly between two Pumps to build a
// loopback harness satisfying R2).
type Pump struct {
	mu sync.Mutex

	OutRing *ring.Ring[event.Event]
	InRing  *ring.Ring[event.Event]

	EventSlot *syncslot.Slot
	DMS       DeadManSwitch
	Sock      *net.UnixConn // nil-safe: loopback tests pass no socket

	Fallback FallbackFunc

	// GUID is the cached register identity, spec.md §4.2 "If the event
	// is a REGISTER that carries a GUID, cache it for re-register on
	// migration."
	GUID [2]uint64

	lastFrameID uint32

	paused       bool
	manualPause  bool
	pendingReset bool // a migration just completed; deliver synthetic RESET first

	pendingDisplayHint *event.Event
	pendingFontHint    *event.Event

	// displayHintAcc accumulates an in-progress, not-yet-paused DISPLAYHINT
	// merge burst (scenario 3); distinct from pendingDisplayHint, which is
	// reserved for the pause-aggregation replay slot.
	displayHintAcc *event.Event

	escrowEvent *event.Event  // descriptor-bearing event awaiting its fd
	escrowAct   escrowAction // what to do with it once the fd arrives
	fdSource    FDSource     // overrides Sock-based fd fetch when set (tests)

	// pendingConsumeFD/fdTaken implement spec.md §4.2's consume rule: the
	// descriptor delivered by the previous Dequeue is closed at the start
	// of the next one unless the caller called TakeDescriptor.
	pendingConsumeFD int
	fdTaken          bool

	multipart *multipartState // in-progress multipart message chain, if any

	alive bool // false after EXIT has been delivered

	// lastStepFrame/haveLastStep track the last STEPFRAME id seen, for P6.
	lastStepFrame int64
	haveLastStep  bool

	// altConnFD/altConnPath/keyStoreFD cache DEVICE_NODE descriptors that
	// are swallowed rather than forwarded (spec.md §4.2 step 6).
	altConnFD      int
	altConnPath    string
	keyStoreFD     int
	noAccelHandles bool

	initialDone bool // preroll's "initial" structure has been consumed
}

// New creates a Pump bound to the given rings and sync slot.
func New(out, in *ring.Ring[event.Event], slot *syncslot.Slot, dms DeadManSwitch) *Pump {
	return &Pump{
		OutRing:          out,
		InRing:           in,
		EventSlot:        slot,
		DMS:              dms,
		alive:            true,
		pendingConsumeFD: event.BadFD,
	}
}

// SetManualPause toggles whether PAUSE/UNPAUSE toggle p.paused
// automatically (spec.md §4.2 step 6 "unless manual-pause mode").
func (p *Pump) SetManualPause(manual bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manualPause = manual
}

// Paused reports the current pause state.
func (p *Pump) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Alive reports whether EXIT has not yet been observed.
func (p *Pump) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

func (p *Pump) dead() bool {
	return p.DMS != nil && p.DMS.Dead()
}

func (p *Pump) ping() error {
	if p.Sock == nil {
		return nil
	}
	return fdpass.Ping(p.Sock)
}

// Rebind swaps in a freshly dialed connection's rings, dead-man switch,
// and socket after a successful migration (spec.md §4.3 step 4, "rebind
// the caller's queues in place"). It is called from inside the very
// Fallback closure this Pump just invoked, which may already hold mu, so
// it deliberately does not lock — OutRing/InRing/Sock/DMS are fields
// this package reads and writes without taking mu.
func (p *Pump) Rebind(out, in *ring.Ring[event.Event], dms DeadManSwitch, sock *net.UnixConn) {
	p.OutRing = out
	p.InRing = in
	p.DMS = dms
	p.Sock = sock
}
