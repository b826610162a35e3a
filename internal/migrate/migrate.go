// Package migrate implements the crash-resilient migration engine of
// spec.md §4.3 "Crash-resilient migration": guarded by the creating
// goroutine, it dials a replacement endpoint (watching the endpoint's
// directory with fsnotify where available, falling back to exponential
// backoff), builds a fresh connection, copies buffer contents across,
// rebinds the caller's queues in place, and queues a synthetic RESET.
package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/pump"
)

// ErrBadSource is returned when a goroutine other than the one that
// created the primary context attempts to migrate (spec.md step 1).
var ErrBadSource = errors.New("migrate: only the creating goroutine may migrate")

// ErrExitPending is returned when EXIT is already queued: the peer wants
// termination, not migration (spec.md "Fallback triggers").
var ErrExitPending = errors.New("migrate: EXIT pending, fallback refused")

// ErrNoEndpoint is returned when neither a requested endpoint nor a
// cached fallback is known.
var ErrNoEndpoint = errors.New("migrate: no endpoint to migrate to")

// Connection is what Dial produces: a freshly mapped page plus the pump
// bound to it, ready to be re-registered and rebound.
type Connection struct {
	Page *page.Page
	Pump *pump.Pump
}

// Dialer connects (or spawns a relay for) one endpoint string, returning
// a fresh Connection or an error to retry.
type Dialer func(ctx context.Context, endpoint string) (*Connection, error)

// Remapper attempts to place the new page's backing mapping at the old
// base address (spec.md step 6); ok reports whether the old address was
// obtainable. When ok is false the caller has a new address and spec.md
// says to "warn (aliasing clients will break)" rather than fail.
type Remapper func(old, new *page.Page) (ok bool)

// Engine drives one context's migration lifecycle. The zero value is
// usable once Owner has been set via Guard.
type Engine struct {
	owner     int64 // creating goroutine's caller-supplied token
	hasOwner  bool

	Dial     Dialer
	Remap    Remapper // nil-safe: treated as "new address, proceed anyway"
	GUID     [2]uint64

	// BaseBackoff/MaxBackoff bound the exponential retry schedule used
	// when no fsnotify watch is available or the watch never fires
	// (spec.md step 2).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// MaxAttempts bounds the loop-mode retry count; zero means unbounded
	// (the caller's context.Context cancellation is the other way out).
	MaxAttempts int
}

// Guard records the calling goroutine's identity token; subsequent calls
// to Migrate from a different token are rejected with ErrBadSource, per
// spec.md step 1. Go has no portable goroutine id, so callers supply
// their own token explicitly.
func (e *Engine) Guard(token int64) {
	e.owner = token
	e.hasOwner = true
}

// Result is everything Migrate hands back so the caller can swap its
// held references (page/pump) for the fresh ones.
type Result struct {
	Connection *Connection
	Remapped   bool // true: old base address reused; false: new address, caller must warn
}

// Migrate implements spec.md §4.3 steps 1-10. oldConn is the failing
// connection (used to copy buffer contents and to release its waiters);
// requested/fallback are candidate endpoint strings, at least one of
// which must be non-empty.
func (e *Engine) Migrate(ctx context.Context, token int64, oldConn *Connection, pendingExit bool, requested, fallback string) (*Result, error) {
	if !e.hasOwner || token != e.owner {
		return nil, ErrBadSource
	}
	if pendingExit {
		return nil, ErrExitPending
	}
	if requested == "" && fallback == "" {
		return nil, ErrNoEndpoint
	}

	conn, err := e.dialLoop(ctx, requested, fallback)
	if err != nil {
		return nil, err
	}

	e.reregister(conn)
	e.releaseWaiters(oldConn)
	CopyBufferContents(oldConn.Page, conn.Page)

	remapped := false
	if e.Remap != nil {
		remapped = e.Remap(oldConn.Page, conn.Page)
	}

	conn.Pump.TriggerReset()

	return &Result{Connection: conn, Remapped: remapped}, nil
}

// reregister re-sends REGISTER carrying the cached GUID so identity
// persists across reconnect (spec.md step 3).
func (e *Engine) reregister(conn *Connection) {
	if e.GUID == [2]uint64{} {
		return
	}
	reg := event.Event{Category: event.CategoryExternal, Kind: uint8(event.ExternalRegister)}
	reg.IOEv[0].U = e.GUID[0]
	reg.IOEv[1].U = e.GUID[1]
	_ = conn.Pump.Enqueue(reg)
}

// releaseWaiters wakes anything blocked on the old connection's slots so
// they observe the dead-man switch rather than sleeping through the
// handoff (spec.md step 4).
func (e *Engine) releaseWaiters(oldConn *Connection) {
	if oldConn == nil || oldConn.Pump == nil {
		return
	}
	oldConn.Pump.EventSlot.Post()
}

// dialLoop implements step 2: alternate between requested and fallback,
// preferring an fsnotify watch on the endpoint's directory to wake the
// retry over blind backoff sleep when the endpoint is a filesystem path.
func (e *Engine) dialLoop(ctx context.Context, requested, fallback string) (*Connection, error) {
	endpoints := make([]string, 0, 2)
	if requested != "" {
		endpoints = append(endpoints, requested)
	}
	if fallback != "" && fallback != requested {
		endpoints = append(endpoints, fallback)
	}

	base := e.BaseBackoff
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	max := e.MaxBackoff
	if max <= 0 {
		max = 5 * time.Second
	}
	bo := newBackoff(base, max)

	attempts := 0
	for i := 0; ; i = (i + 1) % len(endpoints) {
		ep := endpoints[i]
		conn, err := e.Dial(ctx, ep)
		if err == nil {
			return conn, nil
		}
		attempts++
		if e.MaxAttempts > 0 && attempts >= e.MaxAttempts {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !e.waitForRetry(ctx, ep, bo) {
			return nil, ctx.Err()
		}
	}
}

// waitForRetry sleeps before the next dial attempt, preferring an
// fsnotify watch on ep's containing directory (when ep looks like a
// filesystem path) to wake early, otherwise falling back to the
// exponential backoff schedule. Returns false only if ctx was cancelled.
func (e *Engine) waitForRetry(ctx context.Context, ep string, bo *backoff) bool {
	dir := filepath.Dir(ep)
	watcher, err := fsnotify.NewWatcher()
	if err != nil || watcher.Add(dir) != nil {
		if watcher != nil {
			watcher.Close()
		}
		return sleepBackoff(ctx, bo)
	}
	defer watcher.Close()

	timer := time.NewTimer(bo.next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-watcher.Events:
		return true
	case <-timer.C:
		return true
	}
}

func sleepBackoff(ctx context.Context, bo *backoff) bool {
	timer := time.NewTimer(bo.next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
