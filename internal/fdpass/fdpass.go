// Package fdpass implements ancillary-data file descriptor passing on
// the stream socket, spec.md §4.2/§6: one byte of wakeup traffic plus
// SCM_RIGHTS ancillary data. SendFDs can put up to four descriptors in
// one message; RecvFD returns only the first descriptor of a message.
package fdpass

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// MaxFDsPerMessage is the upper bound spec.md §6 documents ("a single
// recvmsg may return up to four").
const MaxFDsPerMessage = 4

// Ping writes the single wakeup byte spec.md §4.2 step 5 requires after
// every enqueue.
func Ping(conn *net.UnixConn) error {
	_, err := conn.Write([]byte{0})
	return err
}

// SendFD sends a single descriptor as ancillary data. Callers send it
// *before* enqueuing the paired event, for server-originated descriptors
// and client-originated ones (BUFFERSTREAM, state-save paths) alike, per
// spec.md §4.2.
func SendFD(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	_, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("fdpass: sendmsg: %w", err)
	}
	return nil
}

// RecvFD reads one descriptor from ancillary data, blocking until one
// arrives or the connection errors. If a message carries more than one
// descriptor, only the first is returned; the others are not closed. It is the receiver side of the
// descriptor-escrow state machine in internal/pump; ordering with the
// byte stream is guaranteed by the kernel delivering SCM_RIGHTS
// alongside the data that triggered it.
func RecvFD(conn *net.UnixConn) (int, error) {
	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 1)
	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("fdpass: recvmsg: %w", err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("fdpass: parse cmsg: %w", err)
	}
	for _, m := range msgs {
		fds, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("fdpass: no descriptor in ancillary data")
}

// SendFDs sends up to MaxFDsPerMessage descriptors in one message.
// signalpump.SignalHandle does not use it; it sends one plane per call
// with SendFD.
func SendFDs(conn *net.UnixConn, fds []int) error {
	if len(fds) == 0 {
		return nil
	}
	if len(fds) > MaxFDsPerMessage {
		return fmt.Errorf("fdpass: %d descriptors exceeds max %d", len(fds), MaxFDsPerMessage)
	}
	rights := unix.UnixRights(fds...)
	_, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("fdpass: sendmsg (batch): %w", err)
	}
	return nil
}
