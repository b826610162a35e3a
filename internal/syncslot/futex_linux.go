//go:build linux

package syncslot

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// waitOn blocks on the futex word while it still equals want, bounded by
// timeout. Spurious wakeups simply fall back to the caller's poll loop.
func waitOn(word *atomic.Uint32, want uint32, timeout time.Duration) {
	if word.Load() != want {
		return
	}
	ts := unix.NsecToTimespec(int64(timeout))
	ptr := (*uint32)(unsafe.Pointer(word))
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(ptr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(want),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	_ = errno // ETIMEDOUT/EAGAIN/EINTR are all fine: caller re-checks the condition
}

// wake wakes every waiter blocked on word via FUTEX_WAIT.
func wake(word *atomic.Uint32) {
	ptr := (*uint32)(unsafe.Pointer(word))
	unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(ptr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(1<<31-1),
		0, 0, 0,
	)
}
