package fdpass

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	toConn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "sp")
		c, err := net.FileConn(f)
		if err != nil {
			t.Fatalf("fileconn: %v", err)
		}
		f.Close()
		return c.(*net.UnixConn)
	}
	return toConn(fds[0]), toConn(fds[1])
}

func TestSendRecvFD(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "payload")
	if err != nil {
		t.Fatal(err)
	}
	defer tmp.Close()
	tmp.WriteString("hello")

	if err := SendFD(a, int(tmp.Fd())); err != nil {
		t.Fatalf("SendFD: %v", err)
	}

	got, err := RecvFD(b)
	if err != nil {
		t.Fatalf("RecvFD: %v", err)
	}
	defer unix.Close(got)

	buf := make([]byte, 5)
	n, err := unix.Pread(got, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected hello, got %q", buf[:n])
	}
}

func TestPing(t *testing.T) {
	a, b := socketpair(t)
	defer a.Close()
	defer b.Close()

	if err := Ping(a); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	buf := make([]byte, 1)
	n, err := b.Read(buf)
	if err != nil || n != 1 {
		t.Fatalf("expected to read 1 ping byte, got n=%d err=%v", n, err)
	}
}
