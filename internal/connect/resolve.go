package connect

import (
	"fmt"
	"os"
	"strconv"

	"github.com/letoram/arcan-sub007/internal/argstr"
	"github.com/letoram/arcan-sub007/internal/relay"
)

// Endpoint is a resolved connection target: exactly one of SocketFD,
// Relay, or Path is set.
type Endpoint struct {
	SocketFD int           // ARCAN_SOCKIN_FD: already-open socket, inherited
	Relay    *relay.Endpoint // an "a12[s]://" endpoint to spawn cmd/arcan-net for
	Path     string        // a plain AF_UNIX socket path
}

// Env is the subset of the environment spec.md §6 names, gathered into a
// struct so resolution can be unit tested without touching the real
// process environment.
type Env struct {
	ConnPath  string
	ConnFlags string
	SockInFD  string
	Arg       string
	AltConn   string
	ShmKey    string
}

// ReadEnv gathers the reserved environment variables from the process
// environment.
func ReadEnv() Env {
	return Env{
		ConnPath:  os.Getenv("ARCAN_CONNPATH"),
		ConnFlags: os.Getenv("ARCAN_CONNFL"),
		SockInFD:  os.Getenv("ARCAN_SOCKIN_FD"),
		Arg:       os.Getenv("ARCAN_ARG"),
		AltConn:   os.Getenv("ARCAN_ALTCONN"),
		ShmKey:    os.Getenv("ARCAN_SHMKEY"),
	}
}

// Resolved is the result of applying the resolution order to an Env.
type Resolved struct {
	Primary  Endpoint
	Fallback *Endpoint // from ARCAN_ALTCONN, if set
	Flags    Flags
	Arg      string      // ARCAN_ARG, raw
	ParsedArg argstr.Args // ARCAN_ARG decoded per spec.md §6
}

// Resolve applies spec.md §6's endpoint precedence: an inherited open
// socket (ARCAN_SOCKIN_FD) takes priority over a named connection path
// (ARCAN_CONNPATH), which may itself be an "a12[s]://" relay form. A
// fallback endpoint (ARCAN_ALTCONN), if present, is resolved the same
// way and carried alongside for internal/migrate.
func Resolve(env Env) (*Resolved, error) {
	flags, err := ParseFlags(env.ConnFlags)
	if err != nil {
		return nil, fmt.Errorf("connect: ARCAN_CONNFL: %w", err)
	}

	r := &Resolved{Flags: flags, Arg: env.Arg, ParsedArg: argstr.Parse(env.Arg)}

	if env.SockInFD != "" {
		fd, err := strconv.Atoi(env.SockInFD)
		if err != nil {
			return nil, fmt.Errorf("connect: ARCAN_SOCKIN_FD: %w", err)
		}
		r.Primary = Endpoint{SocketFD: fd}
	} else if env.ConnPath != "" {
		ep, err := resolveTarget(env.ConnPath)
		if err != nil {
			return nil, err
		}
		r.Primary = ep
	} else {
		return nil, fmt.Errorf("connect: no ARCAN_SOCKIN_FD or ARCAN_CONNPATH set")
	}

	if env.AltConn != "" {
		ep, err := resolveTarget(env.AltConn)
		if err != nil {
			return nil, err
		}
		r.Fallback = &ep
	}

	return r, nil
}

func resolveTarget(s string) (Endpoint, error) {
	if relayEp, ok := relay.ParseEndpoint(s); ok {
		return Endpoint{Relay: &relayEp}, nil
	}
	return Endpoint{Path: s}, nil
}
