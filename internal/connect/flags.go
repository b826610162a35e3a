// Package connect implements the client-side bring-up sequence of
// spec.md §6: endpoint resolution (the precedence order over
// ARCAN_CONNPATH/ARCAN_SOCKIN_FD/ARCAN_ALTCONN and friends), the
// ARCAN_CONNFL flag mask, and wiring the mapped page, event pump, signal
// pump and watchdog into one connection context.
package connect

import "strconv"

// Flags is the ARCAN_CONNFL OR-mask (spec.md §6 "Inherited environment").
// Bit names mirror the ones original_source/src/shmif/arcan_shmif_control.c
// tests against (SHMIF_NOACTIVATE, SHMIF_DONT_UNLINK, ...); this module
// assigns its own bit positions since the original header wasn't part of
// the retrieval pack, but every name here corresponds to a flag the
// original source actually branches on.
type Flags uint32

const (
	// NoActivate skips the wait-for-ACTIVATE step in preroll: the caller
	// gets control immediately after REGISTER, matching SHMIF_NOACTIVATE.
	NoActivate Flags = 1 << iota
	// NoActivateResize names SHMIF_NOACTIVATE_RESIZE. It is parsed and
	// printed but no code in this module reads it; preroll never waits
	// for a post-activate resize either way.
	NoActivateResize
	// NoRegister skips sending REGISTER on open, matching SHMIF_NOREGISTER
	// (used for segments acquired via a NEWSEGMENT escrow, which are
	// already registered by construction).
	NoRegister
	// DontUnlink names SHMIF_DONT_UNLINK. It is parsed and printed but no
	// code in this module reads it: pages are heap memory with no
	// shared-memory name, so nothing is unlinked with or without it.
	DontUnlink
	// DisableGuard disables watchdog start, matching SHMIF_DISABLE_GUARD /
	// ARCAN_SHMIF_NOGUARD.
	DisableGuard
	// AcquireFatalFail names SHMIF_ACQUIRE_FATALFAIL. It is parsed and
	// printed but no code in this module reads it: a failed initial
	// acquire always returns an error and never exits the process.
	AcquireFatalFail
	// ConnectLoop names SHMIF_CONNECT_LOOP. It is parsed and printed but
	// no code in this module reads it: shmif.Connect fails on the first
	// dial error, and the migration engine retries whether or not it is set.
	ConnectLoop
	// NoAutoReconnect disables the migration engine's implicit fallback
	// trigger on peer loss, matching SHMIF_NOAUTO_RECONNECT.
	NoAutoReconnect
	// ManualPause opts out of automatic pause/resume aggregation handling,
	// matching SHMIF_MANUAL_PAUSE.
	ManualPause
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ParseFlags parses the numeric OR-mask carried in ARCAN_CONNFL. An
// empty string yields the zero value (no flags), matching the env var
// being simply unset.
func ParseFlags(s string) (Flags, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return Flags(n), nil
}

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{NoActivate, "NOACTIVATE"},
		{NoActivateResize, "NOACTIVATE_RESIZE"},
		{NoRegister, "NOREGISTER"},
		{DontUnlink, "DONT_UNLINK"},
		{DisableGuard, "DISABLE_GUARD"},
		{AcquireFatalFail, "ACQUIRE_FATALFAIL"},
		{ConnectLoop, "CONNECT_LOOP"},
		{NoAutoReconnect, "NOAUTO_RECONNECT"},
		{ManualPause, "MANUAL_PAUSE"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "0"
	}
	return out
}
