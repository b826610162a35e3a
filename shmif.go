// Package shmif is the public entry point for the substrate: Connect
// builds a Context by resolving an endpoint (spec.md §6), mapping
// a page, and wiring the event pump, signal pump, and watchdog together,
// the way arcan's own arcan_shmif_control.c gives callers one
// arcan_shmif_cont after a successful arcan_shmif_open.
package shmif

import (
	"fmt"
	"net"

	"github.com/letoram/arcan-sub007/internal/argstr"
	"github.com/letoram/arcan-sub007/internal/connect"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/preroll"
)

// Context is a connection: the mapped page, the event/signal pumps, and
// the watchdog, plus whatever initial hints preroll captured.
type Context struct {
	*connect.Context
	Initial *preroll.Initial

	// Arg is ARCAN_ARG decoded per spec.md §6, carried through from the
	// environment this Context was resolved against.
	Arg argstr.Args
}

// Config is the caller-supplied geometry/buffer-count a client opens
// with, before any negotiation (spec.md §4.1).
type Config struct {
	Geometry  page.Geometry
	VCount    int
	ACount    int
	ABufSize  uint32
	AudioRate uint32
}

// Connect resolves an endpoint per the environment (spec.md §6), dials
// it, and brings a Context up: allocate the page, open the connection,
// REGISTER, and run preroll to capture the initial-hints burst up to and
// including ACTIVATE (spec.md §4.4).
//
// dial is the platform-specific connector (a plain AF_UNIX dial, a
// relay spawn via internal/relay, or simply wrapping an inherited
// ARCAN_SOCKIN_FD); it is injected so this function stays testable
// without a real socket.
func Connect(cfg Config, env connect.Env, dial func(connect.Endpoint) (*net.UnixConn, int, error)) (*Context, error) {
	resolved, err := connect.Resolve(env)
	if err != nil {
		return nil, fmt.Errorf("shmif: resolve: %w", err)
	}

	sock, parentPID, err := dial(resolved.Primary)
	if err != nil {
		return nil, fmt.Errorf("shmif: dial: %w", err)
	}

	p, err := page.New(cfg.Geometry, cfg.VCount, cfg.ACount, cfg.ABufSize, cfg.AudioRate)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("shmif: page: %w", err)
	}

	cctx, err := connect.Open(p, sock, resolved.Flags, parentPID)
	if err != nil {
		sock.Close()
		return nil, fmt.Errorf("shmif: open: %w", err)
	}
	if resolved.Fallback != nil {
		cctx.Fallback = resolved.Fallback
	}
	cctx.WireMigration(cfg.Geometry, cfg.VCount, cfg.ACount, cfg.ABufSize, cfg.AudioRate, dial, env.ConnPath, env.AltConn)

	ctx := &Context{Context: cctx, Arg: resolved.ParsedArg}

	if !resolved.Flags.Has(connect.NoActivate) {
		initial, err := preroll.Run(cctx.Pump)
		if err != nil {
			cctx.Close()
			return nil, fmt.Errorf("shmif: preroll: %w", err)
		}
		ctx.Initial = initial
	}

	return ctx, nil
}
