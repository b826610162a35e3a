// Package watchdog implements the per-connection liveness monitor of
// spec.md §4.3 "Watchdog": a detached goroutine that polls a parent PID
// and/or peer socket once a second and, on the first sign of death, pulls
// the dead-man switch, posts every sync slot, and shuts the socket down
// so no waiter can sleep through the event.
package watchdog

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/letoram/arcan-sub007/internal/syncslot"
	"golang.org/x/sys/unix"
)

// pollInterval matches spec.md §4.3 "once per second".
const pollInterval = time.Second

// Slot is the subset of *syncslot.Slot the watchdog needs to post on
// death, kept as an interface so tests can use a lightweight fake.
type Slot interface {
	Post()
}

// PageDMS is the page-resident dead-man-switch byte; Clear implements
// "clear page DMS" (spec.md §4.3 step 1).
type PageDMS interface {
	Clear()
}

// Watchdog monitors one connection's peer liveness.
type Watchdog struct {
	ParentPID int            // 0: no PID to monitor
	Sock      *net.UnixConn  // nil: no socket to peek
	PageDMS   PageDMS        // nil-safe
	Slots     []Slot         // event/video/audio sync slots, posted on death
	OnExit    func()         // optional at-exit callback (spec.md step 5)

	local  atomic.Bool // local DMS word; true once dead
	paused atomic.Bool

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

// Dead reports whether the watchdog has observed (or been told of) death.
// It satisfies both pump.DeadManSwitch and syncslot.DeadManSwitch.
func (w *Watchdog) Dead() bool { return w.local.Load() }

// Start launches the monitoring goroutine. It is a no-op if already
// running. The goroutine detaches itself (per spec.md "must be released,
// not joined, because the thread detaches itself") — Stop only requests
// it to exit its poll loop; it does not wait for it.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.stopCh = make(chan struct{})
	go w.run(w.stopCh)
}

// Pause suspends polling so the caller can retarget Sock/ParentPID during
// a resize or migration (spec.md "can be paused during resize or
// migration so the caller can retarget it").
func (w *Watchdog) Pause() { w.paused.Store(true) }

// Resume un-suspends polling after a retarget.
func (w *Watchdog) Resume() { w.paused.Store(false) }

// Retarget swaps the monitored socket/PID while paused.
func (w *Watchdog) Retarget(sock *net.UnixConn, pid int) {
	w.mu.Lock()
	w.Sock = sock
	w.ParentPID = pid
	w.mu.Unlock()
}

// Stop requests the poll loop to exit without running the death sequence.
// Used when a context is torn down cleanly (no crash to report).
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	close(w.stopCh)
	w.started = false
}

func (w *Watchdog) run(stop chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.paused.Load() {
				continue
			}
			if w.peerDead() {
				w.declareDead()
				return
			}
		}
	}
}

func (w *Watchdog) peerDead() bool {
	w.mu.Lock()
	pid := w.ParentPID
	sock := w.Sock
	w.mu.Unlock()

	if pid != 0 {
		if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
			return true
		}
	}
	if sock != nil {
		raw, err := sock.SyscallConn()
		if err != nil {
			return true
		}
		buf := make([]byte, 1)
		var peekErr error
		var n int
		ctrlErr := raw.Read(func(fd uintptr) bool {
			n, _, peekErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
			return true
		})
		if ctrlErr != nil {
			return true
		}
		if peekErr != nil && peekErr != unix.EAGAIN && peekErr != unix.EWOULDBLOCK {
			return true
		}
		if peekErr == nil && n == 0 {
			return true // orderly peer shutdown: recv returned EOF
		}
	}
	return false
}

// declareDead runs the death sequence of spec.md §4.3: clear both DMS
// words, post every sync slot, shut the socket down, then invoke the
// optional exit callback.
func (w *Watchdog) declareDead() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.PageDMS != nil {
		w.PageDMS.Clear()
	}
	w.local.Store(true)
	for _, s := range w.Slots {
		s.Post()
	}
	if w.Sock != nil {
		_ = w.Sock.Close()
	}
	if w.OnExit != nil {
		w.OnExit()
	}
}

var _ syncslot.DeadManSwitch = (*Watchdog)(nil)
