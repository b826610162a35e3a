package connect

import (
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/pump"
	"github.com/letoram/arcan-sub007/internal/registry"
	"github.com/letoram/arcan-sub007/internal/resize"
	"github.com/letoram/arcan-sub007/internal/ring"
	"github.com/letoram/arcan-sub007/internal/signalpump"
	"github.com/letoram/arcan-sub007/internal/syncslot"
	"github.com/letoram/arcan-sub007/internal/watchdog"
)

// ringCapacity is the number of in-flight events each direction's ring
// can hold before TryEnqueue reports ErrRingFull.
const ringCapacity = 64

// localDMS is the context's own dead-man switch word, cleared once by
// the watchdog on peer death and never un-cleared (I6).
type localDMS struct{ dead bool }

func (d *localDMS) Dead() bool  { return d.dead }
func (d *localDMS) Clear()      { d.dead = true }

// Context aggregates everything one connection (or subsegment) owns:
// the mapped page, the event pump, the signal pump, the watchdog, and
// the negotiated flags/GUID — spec.md §3 "Connection/context".
type Context struct {
	Page *page.Page
	Pump *pump.Pump
	Sig  *signalpump.Signaler
	Dog  *watchdog.Watchdog
	DMS  *localDMS

	// Resizer drives this connection's client-side resize requests
	// (spec.md §4.1); constructed against the same page/slots/DMS Open
	// already built.
	Resizer *resize.Resizer

	Sock *net.UnixConn
	GUID [2]uint64

	Flags    Flags
	Fallback *Endpoint

	EventSlot, VideoSlot, AudioSlot *syncslot.Slot
}

// Open builds a Context around an already-mapped page and an
// already-established socket: the common tail end of both the
// SocketFD-inherited path and the dial/relay path, once an actual
// connection exists. It sends REGISTER carrying the context's GUID
// unless Flags has NoRegister set, matching SHMIF_NOREGISTER's meaning
// in the original source.
func Open(p *page.Page, sock *net.UnixConn, flags Flags, parentPID int) (*Context, error) {
	eventSlot := &syncslot.Slot{}
	videoSlot := &syncslot.Slot{}
	audioSlot := &syncslot.Slot{}
	dms := &localDMS{}

	outRing := ring.New[event.Event](ringCapacity)
	inRing := ring.New[event.Event](ringCapacity)

	pm := pump.New(outRing, inRing, eventSlot, dms)
	pm.Sock = sock
	pm.SetManualPause(flags.Has(ManualPause))

	sig := signalpump.New(p, videoSlot, audioSlot, dms)

	ctx := &Context{
		Page:      p,
		Pump:      pm,
		Sig:       sig,
		DMS:       dms,
		Sock:      sock,
		Flags:     flags,
		EventSlot: eventSlot,
		VideoSlot: videoSlot,
		AudioSlot: audioSlot,
		Resizer: &resize.Resizer{
			Page:      p,
			VideoSlot: videoSlot,
			AudioSlot: audioSlot,
			DMS:       dms,
		},
	}

	guid := uuid.New()
	hi, lo := guid[:8], guid[8:]
	ctx.GUID = [2]uint64{beU64(hi), beU64(lo)}

	if !flags.Has(DisableGuard) {
		ctx.Dog = &watchdog.Watchdog{
			ParentPID: parentPID,
			Sock:      sock,
			PageDMS:   dms,
			Slots:     []watchdog.Slot{eventSlot, videoSlot, audioSlot},
		}
		ctx.Dog.Start()
	}

	if !flags.Has(NoRegister) {
		if err := ctx.register(); err != nil {
			return nil, fmt.Errorf("connect: register: %w", err)
		}
	}

	return ctx, nil
}

func (c *Context) register() error {
	ev := event.Event{Category: event.CategoryExternal, Kind: uint8(event.ExternalRegister)}
	ev.IOEv[0].U = c.GUID[0]
	ev.IOEv[1].U = c.GUID[1]
	return c.Pump.Enqueue(ev)
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// Close tears down the watchdog and closes the socket. The page is
// heap memory with no shared-memory name, so there is nothing to unlink
// and the DontUnlink flag has no effect here.
func (c *Context) Close() error {
	if c.Dog != nil {
		c.Dog.Stop()
	}
	c.DMS.Clear()
	if c.Sock != nil {
		return c.Sock.Close()
	}
	return nil
}

// Registry is the process-wide primary/output/accessibility slot
// (spec.md §9), exposed here for convenience; callers that want fixture
// isolation construct their own registry.Registry instead of using this.
var Registry = registry.Default
