// Command shmif-displayd is a minimal reference display server: it
// listens on a named AF_UNIX socket, accepts one client connection at a
// time, allocates a page for it, runs preroll, offers a debug
// subsegment, and round-trips STORE/RESTORE through an optional
// sqlite-backed store — exercising the allocate/preroll/resize/
// subsegment/persistence path end to end the way arcan's own
// frameserver hosts exercise arcan_shmif_control.c.
package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/letoram/arcan-sub007/internal/connect"
	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/fdpass"
	"github.com/letoram/arcan-sub007/internal/logger"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/store"
	"github.com/letoram/arcan-sub007/internal/subsegment"
)

// displaySegmentToken identifies the single primary segment this
// single-client-at-a-time reference server hosts, so state persists
// across reconnects under --store-db.
const displaySegmentToken = 1

func main() {
	var sockPath string
	var width, height int
	var storeDB string

	root := &cobra.Command{
		Use:   "shmif-displayd",
		Short: "reference shmif display server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init("info", ""); err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			return serve(sockPath, width, height, storeDB)
		},
	}

	root.Flags().StringVar(&sockPath, "socket", "/tmp/shmif-displayd.sock", "listen socket path")
	root.Flags().IntVar(&width, "width", 1280, "initial client geometry width")
	root.Flags().IntVar(&height, "height", 720, "initial client geometry height")
	root.Flags().StringVar(&storeDB, "store-db", "", "sqlite path for STORE/RESTORE and last-words persistence (disabled if empty)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(sockPath string, width, height int, storeDB string) error {
	var db *store.Store
	if storeDB != "" {
		var err error
		db, err = store.Open(storeDB)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
		defer db.Close()
	}

	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	logger.Log.Info("listening", slog.String("socket", sockPath))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		handleClient(conn.(*net.UnixConn), width, height, db)
	}
}

func handleClient(sock *net.UnixConn, width, height int, db *store.Store) {
	defer sock.Close()

	p, err := page.New(page.Geometry{Width: width, Height: height}, 2, 2, 4096, 48000)
	if err != nil {
		logger.Log.Error("page allocate failed", slog.Any("err", err))
		return
	}
	p.SegmentToken = displaySegmentToken

	ctx, err := connect.Open(p, sock, connect.NoRegister, 0)
	if err != nil {
		logger.Log.Error("open failed", slog.Any("err", err))
		return
	}
	defer ctx.Close()

	logger.Log.Info("client connected", slog.Uint64("guid_hi", ctx.GUID[0]), slog.Uint64("guid_lo", ctx.GUID[1]))

	offerDebugSubsegment(ctx.Sock, ctx.Pump)

	if db != nil {
		sendRestore(ctx.Sock, ctx.Pump, db, displaySegmentToken)
		sendStore(ctx.Sock, ctx.Pump, db, displaySegmentToken)
	}

	for {
		ev, err := ctx.Pump.Dequeue(true)
		if err != nil {
			logger.Log.Info("client disconnected", slog.Any("err", err))
			return
		}
		if ev.Category == event.CategoryTarget && ev.TargetKind() == event.TargetExit {
			if db != nil {
				words := ev.FullMsg
				if words == "" {
					words = ev.Msg.String()
				}
				if words != "" {
					if err := db.SaveLastWords(displaySegmentToken, words); err != nil {
						logger.Log.Warn("save last words", slog.Any("err", err))
					}
				}
			}
			return
		}
	}
}

// offerDebugSubsegment hands the client an unsolicited debug subsegment
// over a fresh socketpair, exercising the server-offered half of spec.md
// §4.3 end to end. The retained local end is not used; nothing closes it
// explicitly, so it stays open until the garbage collector finalizes it.
func offerDebugSubsegment(sock *net.UnixConn, sink subsegment.Sink) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		logger.Log.Warn("subsegment: socketpair", slog.Any("err", err))
		return
	}
	localFile := os.NewFile(uintptr(fds[0]), "subsegment-debug-local")
	remoteFile := os.NewFile(uintptr(fds[1]), "subsegment-debug-remote")
	defer remoteFile.Close()

	if err := subsegment.Offer(sock, sink, int(remoteFile.Fd()), subsegment.KindDebug, "debug"); err != nil {
		logger.Log.Warn("subsegment: offer", slog.Any("err", err))
		localFile.Close()
		return
	}
	// localFile has no reader in this server and is not closed here; its
	// os.File finalizer closes the descriptor once it is garbage collected.
}

// sendStore asks the client to serialize its state over a fresh pipe,
// per the fdpass convention that a server-originated descriptor is sent
// before its paired event is enqueued.
func sendStore(sock *net.UnixConn, sink subsegment.Sink, db *store.Store, token uint32) {
	r, w, err := os.Pipe()
	if err != nil {
		logger.Log.Warn("store: pipe", slog.Any("err", err))
		return
	}
	if err := fdpass.SendFD(sock, int(w.Fd())); err != nil {
		logger.Log.Warn("store: send fd", slog.Any("err", err))
		r.Close()
		w.Close()
		return
	}
	w.Close()

	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetStore)}
	e.IOEv[0].U = uint64(token)
	if err := sink.Enqueue(e); err != nil {
		logger.Log.Warn("store: enqueue", slog.Any("err", err))
		r.Close()
		return
	}

	go func() {
		defer r.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, r); err != nil {
			logger.Log.Warn("store: read state", slog.Any("err", err))
			return
		}
		if err := db.SaveState(token, buf.Bytes()); err != nil {
			logger.Log.Warn("store: save state", slog.Any("err", err))
			return
		}
		logger.Log.Info("stored client state", slog.Int("bytes", buf.Len()))
	}()
}

// sendRestore hands the client back whatever state was last saved for
// token, over a pipe pre-filled and closed on the write side so the
// client's read sees a clean EOF.
func sendRestore(sock *net.UnixConn, sink subsegment.Sink, db *store.Store, token uint32) {
	data, ok, err := db.LoadState(token)
	if err != nil {
		logger.Log.Warn("restore: load state", slog.Any("err", err))
		return
	}
	if !ok {
		return
	}

	r, w, err := os.Pipe()
	if err != nil {
		logger.Log.Warn("restore: pipe", slog.Any("err", err))
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Log.Warn("restore: write state", slog.Any("err", err))
		w.Close()
		r.Close()
		return
	}
	w.Close()

	if err := fdpass.SendFD(sock, int(r.Fd())); err != nil {
		logger.Log.Warn("restore: send fd", slog.Any("err", err))
		r.Close()
		return
	}
	r.Close()

	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetRestore)}
	e.IOEv[0].U = uint64(token)
	if err := sink.Enqueue(e); err != nil {
		logger.Log.Warn("restore: enqueue", slog.Any("err", err))
		return
	}
	logger.Log.Info("restored client state", slog.Int("bytes", len(data)))
}
