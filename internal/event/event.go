// Package event implements the fixed-size tagged-union event record of
// spec.md §3.3/§6 "Event record", and the descriptor-bearer classification
// used by internal/pump and internal/fdpass.
package event

import (
	"time"
	"unicode/utf8"
)

// Category is the top-level discriminator of an event record.
type Category uint8

const (
	CategoryTarget Category = iota
	CategoryExternal
	CategoryIO
)

func (c Category) String() string {
	switch c {
	case CategoryTarget:
		return "TARGET"
	case CategoryExternal:
		return "EXTERNAL"
	case CategoryIO:
		return "IO"
	default:
		return "UNKNOWN"
	}
}

// TargetKind enumerates server→client lifecycle/hint commands, spec.md
// §3.3.
type TargetKind uint8

const (
	TargetDisplayHint TargetKind = iota
	TargetFontHint
	TargetOutputHint
	TargetGraphMode
	TargetGeoHint
	TargetDeviceNode
	TargetBchunkIn
	TargetBchunkOut
	TargetStore
	TargetRestore
	TargetReset
	TargetPause
	TargetUnpause
	TargetExit
	TargetStepFrame
	TargetNewSegment
	TargetMessage
	TargetBufferFail
	TargetActivate
	TargetReqFail

	// TargetMessageOverflow is the synthetic "invalid" signal
	// internal/pump delivers in place of an assembled message when a
	// multipart chain exceeds its bounded scratch buffer (spec.md §4.2
	// "Multipart messages"). It is never sent by a peer.
	TargetMessageOverflow
)

// ExternalKind enumerates client→server events, spec.md §3.3.
type ExternalKind uint8

const (
	ExternalRegister ExternalKind = iota
	ExternalIdent
	ExternalSegreq
	ExternalMessage
	ExternalBufferStream
	ExternalViewport
	ExternalClock
)

// IOKind enumerates translated input events, spec.md §3.3.
type IOKind uint8

const (
	IOKeyboard IOKind = iota
	IOMouseAnalog
	IOMouseDigital
	IOTouch
	IOAnalogDevice
)

// DeviceNodeSubkind distinguishes the DEVICE_NODE special cases handled
// inline by the inbound pump, spec.md §4.2 step 6.
type DeviceNodeSubkind uint8

const (
	DeviceNodeGeneric DeviceNodeSubkind = iota
	DeviceNodeAltConnection
	DeviceNodeKeyStore
)

const (
	// MessageCap is the fixed capacity of a TARGET/EXTERNAL message field
	// (spec.md §6: "78-byte message").
	MessageCap = 78
	// LabelCap is the fixed capacity of a TARGET label field.
	LabelCap = 32
	// BadFD is the sentinel fd value used when a descriptor-bearing
	// event's descriptor could not be attached (P3).
	BadFD = -1
)

// IOEvents holds up to 8 generic ioev words, spec.md §6.
type IOEvents [8]IOWord

// IOWord is one generic ioev slot; only one of the fields is meaningful
// per (kind, index), mirroring the C union's reinterpretation.
type IOWord struct {
	I int64
	F float64
	U uint64
}

// Message is a fixed-capacity, possibly multipart string field, spec.md
// §4.2 "Multipart messages".
type Message struct {
	Data      [MessageCap]byte
	Len       int
	Multipart bool // continuation bit: more segments follow
}

func NewMessage(s string) Message {
	var m Message
	n := copy(m.Data[:], s)
	m.Len = n
	return m
}

func (m Message) String() string {
	return string(m.Data[:m.Len])
}

// NewMultipartMessages splits s into a chain of MessageCap-sized
// messages, never cutting through a multi-byte rune, with Multipart set
// on every segment but the last (spec.md §4.2 "Multipart messages":
// "decompose long strings into UTF-8-aligned segments with a
// continuation bit"). A string that already fits in one segment yields a
// single, non-multipart Message, same as NewMessage.
func NewMultipartMessages(s string) []Message {
	var out []Message
	var seg []byte
	var rb [utf8.UTFMax]byte

	for _, r := range s {
		n := utf8.EncodeRune(rb[:], r)
		if len(seg)+n > MessageCap {
			m := NewMessage(string(seg))
			m.Multipart = true
			out = append(out, m)
			seg = seg[:0]
		}
		seg = append(seg, rb[:n]...)
	}
	return append(out, NewMessage(string(seg)))
}

// Event is the fixed-size tagged union shared by all three categories.
type Event struct {
	Category Category
	Kind     uint8 // reinterpreted as TargetKind/ExternalKind/IOKind

	IOEv IOEvents
	Msg  Message
	Label [LabelCap]byte
	Timestamp time.Time

	FrameID uint32 // EXTERNAL: stamped with the most recent signalled frame id

	// DeviceNodeKind is only meaningful for TargetDeviceNode events.
	DeviceNodeKind DeviceNodeSubkind

	// FD is the descriptor attached to this event by the inbound pump's
	// escrow step, or BadFD if this event carries none (spec.md §4.2
	// step 4, P3).
	FD int

	// FDLess marks an otherwise descriptor-bearing kind (e.g. a
	// DEVICE_NODE with no actual fd attached) as not a descriptor bearer
	// for this particular instance, per spec.md scenario 2 in §8.
	FDLess bool

	// FullMsg is the receiver-side assembled string for a TARGET/EXTERNAL
	// message event, populated by internal/pump once a (possibly
	// multipart) chain completes. Msg itself stays bounded to MessageCap
	// and reflects only the last segment's bytes; callers that want the
	// whole string should read FullMsg.
	FullMsg string
}

// TargetKind returns e.Kind reinterpreted for a TARGET event.
func (e *Event) TargetKind() TargetKind { return TargetKind(e.Kind) }

// ExternalKind returns e.Kind reinterpreted for an EXTERNAL event.
func (e *Event) ExternalKind() ExternalKind { return ExternalKind(e.Kind) }

// IOKind returns e.Kind reinterpreted for an IO event.
func (e *Event) IOKind() IOKind { return IOKind(e.Kind) }

// descriptorBearingTargets is the small enumerated subset of TARGET
// events that carry a file descriptor out-of-band, spec.md §3.3.
var descriptorBearingTargets = map[TargetKind]bool{
	TargetFontHint:   true,
	TargetStore:      true,
	TargetRestore:    true,
	TargetBchunkIn:   true,
	TargetBchunkOut:  true,
	TargetNewSegment: true,
	TargetDeviceNode: true,
}

// CarriesDescriptor reports whether e declares itself a descriptor
// bearer, spec.md §3.3 "A small enumerated subset of TARGET events
// carries a file descriptor."
//
// DEVICE_NODE only actually carries a descriptor some of the time (the
// generic/alt-connection/key-store subkinds all pass an fd in the real
// protocol; callers that construct a fd-less DEVICE_NODE set FDLess).
func (e *Event) CarriesDescriptor() bool {
	if e.Category != CategoryTarget || e.FDLess {
		return false
	}
	return descriptorBearingTargets[e.TargetKind()]
}
