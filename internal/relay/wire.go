package relay

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Frame is the unit cmd/arcan-net multiplexes over one "a12[s]://"
// network link: spec.md's per-segment stream socket carries raw
// wakeup bytes and SCM_RIGHTS fds locally, but a network relay has no
// ancillary-data channel, so events and buffer payloads for every
// segment sharing the link are each wrapped in a Frame and CBOR-encoded
// (a compact, self-describing format well suited to a mixed
// event/binary-payload envelope like this one).
type Frame struct {
	SegmentToken uint32 `cbor:"1,keyasint"`
	IsEvent      bool   `cbor:"2,keyasint"`
	Event        []byte `cbor:"3,keyasint,omitempty"` // an encoded event.Event, when IsEvent
	Payload      []byte `cbor:"4,keyasint,omitempty"` // a video/audio buffer slice, when !IsEvent
}

// EncodeFrame serializes f for writing to the relay link.
func EncodeFrame(f Frame) ([]byte, error) {
	b, err := cbor.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("relay: encode frame: %w", err)
	}
	return b, nil
}

// DecodeFrame parses a Frame previously produced by EncodeFrame.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("relay: decode frame: %w", err)
	}
	return f, nil
}
