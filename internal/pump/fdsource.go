package pump

import (
	"errors"
	"net"
	"time"

	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
)

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// pollInterval bounds how long a non-blocking descriptor fetch attempt
// waits before reporting "not ready", mirroring internal/syncslot's
// poll-fallback cadence.
const pollInterval = 2 * time.Millisecond

// fetchFDFromSocket is the real-transport FDSource used whenever a Pump
// has no custom FDSource installed. In blocking mode it waits
// (re-checking dms between attempts) until a descriptor arrives or the
// connection is declared dead; in non-blocking mode it makes one
// deadline-bounded attempt and reports got=false on timeout.
func fetchFDFromSocket(conn *net.UnixConn, blocking bool, dms DeadManSwitch) (fd int, got bool, err error) {
	if !blocking {
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return event.BadFD, false, err
		}
		defer conn.SetReadDeadline(time.Time{})
		fd, rerr := fdpass.RecvFD(conn)
		if rerr != nil {
			if isTimeout(rerr) {
				return event.BadFD, false, nil
			}
			return event.BadFD, false, rerr
		}
		return fd, true, nil
	}

	for {
		if dms != nil && dms.Dead() {
			return event.BadFD, false, ErrDead
		}
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return event.BadFD, false, err
		}
		fd, rerr := fdpass.RecvFD(conn)
		if rerr == nil {
			conn.SetReadDeadline(time.Time{})
			return fd, true, nil
		}
		if isTimeout(rerr) {
			continue
		}
		conn.SetReadDeadline(time.Time{})
		return event.BadFD, false, rerr
	}
}
