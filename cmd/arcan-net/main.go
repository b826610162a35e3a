// Command arcan-net is the external relay binary spawned for
// "a12[s]://tag@host[:port]" endpoints (spec.md §6). Everything read from
// its inherited socketpair fd (the local shmif client/server side) is
// wrapped in a length-prefixed internal/relay.Frame and forwarded to the
// TCP connection named by <host>:<port>, and vice versa — the network
// leg has no SCM_RIGHTS ancillary channel, so every local chunk travels
// as an opaque Frame payload the far end's arcan-net unwraps back onto
// its own local socketpair. Identity/auth (--ident/--soft-auth/
// --keystore) are accepted but not cryptographically enforced here; they
// exist so the command-line shape matches the grammar a caller's
// internal/relay.Spawn builds.
package main

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/letoram/arcan-sub007/internal/logger"
	"github.com/letoram/arcan-sub007/internal/relay"
)

// relayChunkSize bounds how much of the local byte stream is wrapped
// into a single Frame payload per read.
const relayChunkSize = 16384

// maxFrameSize bounds a single length-prefixed frame read from the
// network leg, guarding against a corrupt or hostile peer claiming an
// unbounded length.
const maxFrameSize = 1 << 20

func main() {
	var ident string
	var softAuth bool
	var keystoreFD int
	var socketFD int

	root := &cobra.Command{
		Use:   "arcan-net -X --ident <ident> [--soft-auth | --keystore <fd>] -S <socketfd> <host> <port>",
		Short: "byte relay between a local shmif segment and a remote a12 endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init("info", ""); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			secure, _ := cmd.Flags().GetBool("secure")
			host, port := args[0], args[1]
			return relayLoop(socketFD, host+":"+port, secure, ident, softAuth, keystoreFD)
		},
	}

	root.Flags().BoolP("frameserver", "X", true, "run as a frameserver-spawned relay (always true here)")
	root.Flags().StringVar(&ident, "ident", "", "peer identity tag")
	root.Flags().BoolVar(&softAuth, "soft-auth", false, "accept without a keystore")
	root.Flags().IntVar(&keystoreFD, "keystore", -1, "fd of a keystore to authenticate against")
	root.Flags().IntVarP(&socketFD, "socket", "S", 3, "inherited socketpair fd (the local shmif side)")
	root.Flags().Bool("secure", false, "use TLS for the outbound a12s:// leg")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func relayLoop(socketFD int, addr string, secure bool, ident string, softAuth bool, keystoreFD int) error {
	local := os.NewFile(uintptr(socketFD), "local")
	localConn, err := net.FileConn(local)
	if err != nil {
		return fmt.Errorf("arcan-net: local fd: %w", err)
	}
	defer localConn.Close()

	var remote net.Conn
	if secure {
		remote, err = tls.Dial("tcp", addr, &tls.Config{})
	} else {
		remote, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("arcan-net: dial %s: %w", addr, err)
	}
	defer remote.Close()

	logger.Log.Info("relay established", slog.String("ident", ident), slog.String("remote", addr), slog.Bool("soft_auth", softAuth), slog.Int("keystore_fd", keystoreFD))

	done := make(chan error, 2)
	go func() { done <- pumpLocalToRemote(localConn, remote) }()
	go func() { done <- pumpRemoteToLocal(remote, localConn) }()

	return <-done
}

// pumpLocalToRemote reads raw bytes off the local shmif-side socket,
// wraps each chunk in a relay.Frame, and writes it length-prefixed to
// the remote leg.
func pumpLocalToRemote(local net.Conn, remote net.Conn) error {
	buf := make([]byte, relayChunkSize)
	for {
		n, err := local.Read(buf)
		if n > 0 {
			frame, ferr := relay.EncodeFrame(relay.Frame{Payload: append([]byte(nil), buf[:n]...)})
			if ferr != nil {
				return ferr
			}
			if werr := writeFrame(remote, frame); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// pumpRemoteToLocal reads length-prefixed relay.Frames off the remote
// leg and replays each payload onto the local shmif-side socket.
func pumpRemoteToLocal(remote net.Conn, local net.Conn) error {
	for {
		raw, err := readFrame(remote)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frame, err := relay.DecodeFrame(raw)
		if err != nil {
			return err
		}
		if len(frame.Payload) == 0 {
			continue
		}
		if _, err := local.Write(frame.Payload); err != nil {
			return err
		}
	}
}

// writeFrame writes a 4-byte big-endian length prefix followed by b.
func writeFrame(w io.Writer, b []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("arcan-net: frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
