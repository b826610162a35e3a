// Package relay implements the "a12[s]://" external relay spawn of
// spec.md §6's endpoint grammar, and the SwappableWriter indirection that
// atomically retargets an outbound write path from a primary connection
// to a fallback connection without the holder's reference changing
// identity. The migration wiring in internal/connect does not use it (it
// rebinds the pump with pump.Pump.Rebind instead). It is the same
// trick the teacher's internal/webrtc.SwappableWriter uses to move a PTY
// session from relay-relayed I/O to a P2P DataChannel.
package relay

import (
	"fmt"
	"sync"
)

// WriteFn sends a single descriptor-carrying byte (or small control
// frame) over whichever socket is currently active.
type WriteFn func(p []byte) error

// SwappableWriter holds the currently active outbound path and allows it
// to be swapped atomically, mirroring internal/webrtc/transport.go's
// relay/DataChannel swap but for shmif's primary/fallback sockets.
type SwappableWriter struct {
	mu      sync.Mutex
	primary WriteFn
	active  WriteFn // nil: use primary
	mode    string  // "primary" or "fallback"
}

// NewSwappableWriter wraps the initial primary-connection write function.
func NewSwappableWriter(primary WriteFn) *SwappableWriter {
	return &SwappableWriter{primary: primary, mode: "primary"}
}

// Write sends p via whichever path is currently active. The lock is held
// through the call so a concurrent MigrateTo cannot interleave with an
// in-flight write.
func (sw *SwappableWriter) Write(p []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	w := sw.active
	if w == nil {
		w = sw.primary
	}
	return w(p)
}

// MigrateTo atomically swaps the active path to fallback, the write
// function bound to the freshly dialed migration target. Subsequent
// Write calls go through fallback until the next MigrateTo/FallbackToPrimary.
func (sw *SwappableWriter) MigrateTo(fallback WriteFn) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if fallback == nil {
		return fmt.Errorf("relay: nil fallback write function")
	}
	sw.active = fallback
	sw.mode = "fallback"
	return nil
}

// FallbackToPrimary reverts to the original primary path, e.g. after a
// migration target itself fails and a caller re-dials the original.
func (sw *SwappableWriter) FallbackToPrimary() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.active = nil
	sw.mode = "primary"
}

// Mode reports which path is currently active ("primary" or "fallback").
func (sw *SwappableWriter) Mode() string {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.mode
}
