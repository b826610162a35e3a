//go:build !linux

package syncslot

import (
	"sync/atomic"
	"time"
)

// waitOn has no kernel wait-on-address primitive wired on this platform,
// so it spins with the sleep interval spec.md §4.1 documents as the
// fallback ("otherwise spin with a 1ms sleep").
func waitOn(word *atomic.Uint32, want uint32, timeout time.Duration) {
	if word.Load() != want {
		return
	}
	time.Sleep(timeout)
}

// wake is a no-op: spinning waiters notice the cleared word on their next
// poll tick without needing an explicit wakeup.
func wake(word *atomic.Uint32) {}
