// Package subsegment implements both subsegment allocation variants of
// spec.md §4.3: the server-offered form (a NEWSEGMENT event carries a
// socket fd and page name) and the client-requested form (SEGREQ then an
// acquireloop that buffers intervening events until NEWSEGMENT or
// REQFAIL arrives).
package subsegment

import (
	"errors"
	"net"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/page"
)

// Kind enumerates the subsegment types a server can offer or a client can
// request, mirroring the SEGID_* constants of the original protocol
// (spec.md §4.3 "a kind and a 32-bit request id").
type Kind int64

const (
	KindUnknown Kind = iota
	KindApplication
	KindClipboardPaste
	KindDebug
	KindEncoder
	KindHandover
	KindPopup
	KindCursor
	KindAccessibility
	KindBridgeWayland
	KindBridgeX
	KindMedia
)

// ErrReqFailed is returned when the peer answers a SEGREQ with REQFAIL.
var ErrReqFailed = errors.New("subsegment: request denied by peer")

// ErrNoDescriptor is returned when a NEWSEGMENT event is acquired without
// a descriptor having been escrowed for it.
var ErrNoDescriptor = errors.New("subsegment: NEWSEGMENT carried no descriptor")

// DeadManSwitch is the minimal interface a parent/child DMS must satisfy,
// shared with internal/syncslot and internal/pump's identical interface.
type DeadManSwitch interface {
	Dead() bool
}

// localDMS is a child subsegment's own independently-droppable switch.
type localDMS struct{ dead bool }

func (d *localDMS) Dead() bool { return d.dead }
func (d *localDMS) Clear()     { d.dead = true }

// Implication composes a child's own DMS with its parent's: the child is
// considered dead if either has dropped, spec.md §4.3 "the child's DMS
// independently exists but is logically ANDed with the parent's in the
// watchdog."
type Implication struct {
	Own    *localDMS
	Parent DeadManSwitch
}

func (i Implication) Dead() bool {
	return i.Own.Dead() || (i.Parent != nil && i.Parent.Dead())
}

// Mapper maps a newly offered subsegment's page given the descriptor
// escrowed with its NEWSEGMENT event and the page name carried in the
// event's message field.
type Mapper func(fd int, pageName string) (*page.Page, error)

// Acquired is the result of a successful subsegment allocation: a new
// page sharing no buffers with the parent, and its own independently
// droppable, parent-implied dead-man switch (spec.md §4.3 step 5: "a new
// context sharing no buffers with the parent").
type Acquired struct {
	Page *page.Page
	DMS  Implication
}

// AcquireOffered implements the server-offered variant: the descriptor
// escrowed alongside evt is used to map the page named in evt's message.
func AcquireOffered(evt event.Event, parent DeadManSwitch, mapFn Mapper) (*Acquired, error) {
	if evt.FD == event.BadFD {
		return nil, ErrNoDescriptor
	}
	name := evt.Msg.String()
	p, err := mapFn(evt.FD, name)
	if err != nil {
		return nil, err
	}
	return &Acquired{
		Page: p,
		DMS:  Implication{Own: &localDMS{}, Parent: parent},
	}, nil
}

// Source is the subset of *pump.Pump the acquireloop dequeues from.
type Source interface {
	Dequeue(blocking bool) (event.Event, error)
}

// Sink is the subset of *pump.Pump used to make the SEGREQ request.
type Sink interface {
	Enqueue(event.Event) error
}

// segreqReqIDWord/segreqKindWord name which IOEv slots carry the request
// id and requested segment kind on a SEGREQ/matching NEWSEGMENT, per
// spec.md §4.3 "a kind and a 32-bit request id."
const (
	segreqKindWord = 0
	segreqIDWord   = 1
)

// Request enqueues SEGREQ for the given subsegment kind carrying the
// caller-chosen reqID, which Acquire then matches against the eventual
// NEWSEGMENT.
func Request(sink Sink, reqID uint32, kind int64) error {
	e := event.Event{Category: event.CategoryExternal, Kind: uint8(event.ExternalSegreq)}
	e.IOEv[segreqKindWord].I = kind
	e.IOEv[segreqIDWord].I = int64(reqID)
	return sink.Enqueue(e)
}

// Offer implements the server-offered subsegment variant: the descriptor
// is sent as ancillary data on sock before the matching NEWSEGMENT event
// is enqueued, per the fdpass package's documented ordering for
// server-originated descriptors (spec.md §4.2/§4.3). pageName is carried
// in the event's message field the same way AcquireOffered reads it back
// out on the receiving side.
func Offer(sock *net.UnixConn, sink Sink, fd int, kind Kind, pageName string) error {
	if err := fdpass.SendFD(sock, fd); err != nil {
		return err
	}
	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetNewSegment)}
	e.IOEv[segreqKindWord].I = int64(kind)
	e.Msg = event.NewMessage(pageName)
	return sink.Enqueue(e)
}

// Acquire runs the client-requested acquireloop of spec.md §4.3: normal
// event dispatch continues via src, but every event is buffered until
// either a NEWSEGMENT whose request id matches reqID arrives (success)
// or REQFAIL arrives (failure). The buffered events are returned in
// order so the caller can redeliver the interleaving it would otherwise
// have seen.
func Acquire(src Source, reqID uint32, parent DeadManSwitch, mapFn Mapper) (*Acquired, []event.Event, error) {
	var buffered []event.Event
	for {
		e, err := src.Dequeue(true)
		if err != nil {
			return nil, buffered, err
		}
		if e.Category != event.CategoryTarget {
			buffered = append(buffered, e)
			continue
		}
		switch e.TargetKind() {
		case event.TargetNewSegment:
			if uint32(e.IOEv[segreqIDWord].I) != reqID {
				buffered = append(buffered, e)
				continue
			}
			acq, err := AcquireOffered(e, parent, mapFn)
			return acq, buffered, err
		case event.TargetReqFail:
			if uint32(e.IOEv[segreqIDWord].I) != reqID {
				buffered = append(buffered, e)
				continue
			}
			return nil, buffered, ErrReqFailed
		default:
			buffered = append(buffered, e)
		}
	}
}
