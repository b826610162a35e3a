package connect

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/logger"
	"github.com/letoram/arcan-sub007/internal/migrate"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/pump"
	"github.com/letoram/arcan-sub007/internal/ring"
	"github.com/letoram/arcan-sub007/internal/syncslot"
)

// migrationToken is the fixed owner token passed to migrate.Engine.Guard:
// this package's migration wiring assumes a single owning goroutine per
// Context (the one that called Open/Connect), the same assumption
// internal/migrate's own doc comment makes about Go having no portable
// goroutine id.
const migrationToken = 1

// WireMigration attaches a migrate.Engine to c so that the pump's and
// signal pump's implicit fallback triggers and the watchdog's at-exit
// callback (spec.md §4.3 "Fallback triggers") all funnel into the
// crash-resilient migration algorithm instead of resolving to a bare
// dead connection. g/vcount/acount/abufSize/rate are the geometry this
// Context was opened with, used to allocate the replacement page; dial
// is the same platform connector the caller gave Open/Connect; requested
// and fallback are the raw endpoint strings (ARCAN_CONNPATH/ARCAN_ALTCONN)
// migrate redials against. It is a no-op when both are empty or when the
// NoAutoReconnect flag is set. When DisableGuard left c.Dog nil, the pump
// and signal pump fallbacks are still wired and only the watchdog hook is
// skipped.
func (c *Context) WireMigration(g page.Geometry, vcount, acount int, abufSize, rate uint32, dial func(Endpoint) (*net.UnixConn, int, error), requested, fallback string) {
	if c.Flags.Has(NoAutoReconnect) {
		return
	}
	if requested == "" && fallback == "" {
		return
	}

	engine := &migrate.Engine{
		GUID:        c.GUID,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
	engine.Guard(migrationToken)
	engine.Dial = func(_ context.Context, endpoint string) (*migrate.Connection, error) {
		ep, err := resolveTarget(endpoint)
		if err != nil {
			return nil, err
		}
		sock, _, err := dial(ep)
		if err != nil {
			return nil, err
		}
		np, err := page.New(g, vcount, acount, abufSize, rate)
		if err != nil {
			sock.Close()
			return nil, err
		}
		pm := pump.New(ring.New[event.Event](ringCapacity), ring.New[event.Event](ringCapacity), &syncslot.Slot{}, &localDMS{})
		pm.Sock = sock
		return &migrate.Connection{Page: np, Pump: pm}, nil
	}

	// runMigrate is shared by every Fallback trigger so they all converge
	// on the one migration path. pendingExit is always false here:
	// pump.triggerFallback already refuses to call Fallback when an EXIT
	// is queued, and neither the signal pump nor the watchdog's at-exit
	// path have a graceful-EXIT concept of their own to check.
	log := logger.WithGUID(c.GUID)

	runMigrate := func() error {
		log.Info("migration triggered", slog.String("requested", requested), slog.String("fallback", fallback))
		if c.Dog != nil {
			c.Dog.Pause()
		}
		old := &migrate.Connection{Page: c.Page, Pump: c.Pump}
		result, err := engine.Migrate(context.Background(), migrationToken, old, false, requested, fallback)
		if err != nil {
			log.Warn("migration failed", slog.Any("err", err))
			if c.Dog != nil {
				c.Dog.Resume()
			}
			return err
		}

		newPump := result.Connection.Pump
		c.Page = result.Connection.Page
		c.Pump.Rebind(newPump.OutRing, newPump.InRing, newPump.DMS, newPump.Sock)
		if dms, ok := newPump.DMS.(*localDMS); ok {
			c.DMS = dms
		}
		c.Sig.Page = c.Page
		c.Sig.DMS = newPump.DMS
		c.Sig.Sock = newPump.Sock
		c.Sock = newPump.Sock

		if c.Dog != nil {
			c.Dog.Retarget(newPump.Sock, 0)
			c.Dog.Resume()
		}
		log.Info("migration succeeded")
		return nil
	}

	c.Pump.Fallback = runMigrate
	c.Sig.Fallback = runMigrate
	if c.Dog != nil {
		// declareDead already holds the watchdog's own mutex when it
		// invokes OnExit, and runMigrate reaches back into Retarget (which
		// takes that same mutex) — run it on its own goroutine so the
		// death sequence can finish unwinding first.
		c.Dog.OnExit = func() { go func() { _ = runMigrate() }() }
	}
}
