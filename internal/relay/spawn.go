// Package relay also owns spawning the external relay binary named by
// the "a12[s]://tag@host[:port]" endpoint form (spec.md §6): a socketpair
// is created, one end is inherited by the child process via ExtraFiles,
// and the child is invoked with the fixed argument shape spec.md names:
//
//	arcan-net -X --ident <ident> [--soft-auth | --keystore <fd>] -S <socketfd> <host> <port>
package relay

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"golang.org/x/sys/unix"
)

// Endpoint is a parsed "a12[s]://tag@host[:port]" endpoint.
type Endpoint struct {
	Secure bool // true: a12s://, false: a12://
	Ident  string
	Host   string
	Port   int
}

var endpointPattern = regexp.MustCompile(`^a12(s)?://([^@]+)@([^:/]+)(?::(\d+))?$`)

// ParseEndpoint recognises the a12[s]:// grammar, returning ok=false for
// any string that is not of this form (the caller falls through to the
// plain filesystem-path resolution order instead).
func ParseEndpoint(s string) (ep Endpoint, ok bool) {
	m := endpointPattern.FindStringSubmatch(s)
	if m == nil {
		return Endpoint{}, false
	}
	port := 6680 // arcan-net's conventional default
	if m[4] != "" {
		p, err := strconv.Atoi(m[4])
		if err != nil {
			return Endpoint{}, false
		}
		port = p
	}
	return Endpoint{Secure: m[1] == "s", Ident: m[2], Host: m[3], Port: port}, true
}

// Spawned is the result of a successful spawn.
type Spawned struct {
	Cmd  *exec.Cmd
	Conn *net.UnixConn // the parent-held end of the socketpair
}

// Spawn launches cmd/arcan-net bound to one end of a fresh socketpair,
// the other end inherited by the child as its -S argument, per spec.md
// §6's "<socketfd> being one end of a socketpair inherited by the
// child." A non-negative keystoreFD is passed to the relay as
// --keystore <fd> instead of --soft-auth.
func Spawn(binary string, ep Endpoint, keystoreFD int) (*Spawned, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("relay: socketpair: %w", err)
	}

	parentFile := os.NewFile(uintptr(fds[0]), "relay-parent")
	childFile := os.NewFile(uintptr(fds[1]), "relay-child")
	defer childFile.Close()

	parentConn, err := net.FileConn(parentFile)
	if err != nil {
		parentFile.Close()
		return nil, fmt.Errorf("relay: fileconn: %w", err)
	}
	parentFile.Close()

	args := []string{"-X", "--ident", ep.Ident}
	if keystoreFD >= 0 {
		args = append(args, "--keystore", strconv.Itoa(keystoreFD))
	} else {
		args = append(args, "--soft-auth")
	}
	// The child's copy of the socketpair fd is always fd 3: the first
	// entry of ExtraFiles, which Go places immediately after stderr.
	const childSocketFD = 3
	args = append(args, "-S", strconv.Itoa(childSocketFD), ep.Host, strconv.Itoa(ep.Port))

	cmd := exec.Command(binary, args...)
	cmd.ExtraFiles = []*os.File{childFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		parentConn.Close()
		return nil, fmt.Errorf("relay: start %s: %w", binary, err)
	}

	return &Spawned{Cmd: cmd, Conn: parentConn.(*net.UnixConn)}, nil
}
