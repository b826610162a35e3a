// Command shmif-client is a minimal reference client: it resolves an
// endpoint the way any shmif client does (ARCAN_CONNPATH/ARCAN_CONNFL or
// a --conn flag), dials it, negotiates an initial geometry, and reports
// the events it receives until EXIT or the connection dies.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/letoram/arcan-sub007/internal/config"
	"github.com/letoram/arcan-sub007/internal/connect"
	"github.com/letoram/arcan-sub007/internal/event"
	"github.com/letoram/arcan-sub007/internal/logger"
	"github.com/letoram/arcan-sub007/internal/page"
	"github.com/letoram/arcan-sub007/internal/relay"
	"github.com/letoram/arcan-sub007/shmif"
)

func main() {
	var connPath string
	var relayBinary string
	var resizeTo string
	var preset string
	var presetFile string

	root := &cobra.Command{
		Use:   "shmif-client",
		Short: "reference shmif client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init("info", ""); err != nil {
				return fmt.Errorf("logger: %w", err)
			}

			env, err := resolveEnv(preset, presetFile)
			if err != nil {
				return err
			}
			if connPath != "" {
				env.ConnPath = connPath
			}
			return run(env, relayBinary, resizeTo)
		},
	}

	root.Flags().StringVar(&connPath, "conn", "", "override ARCAN_CONNPATH")
	root.Flags().StringVar(&relayBinary, "relay-binary", "arcan-net", "binary to spawn for a12[s]:// endpoints")
	root.Flags().StringVar(&resizeTo, "resize", "", "request a resize to WxH once connected, e.g. 1280x720")
	root.Flags().StringVar(&preset, "preset", "", "name of a saved endpoint preset (see --preset-file)")
	root.Flags().StringVar(&presetFile, "preset-file", "", "preset file to load --preset from (default: config.DefaultPath())")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveEnv builds the connect.Env this client dials: a named preset
// loaded from disk when --preset is given, or the process environment
// otherwise (spec.md §6).
func resolveEnv(preset, presetFile string) (connect.Env, error) {
	if preset == "" {
		return connect.ReadEnv(), nil
	}

	path := presetFile
	if path == "" {
		path = config.DefaultPath()
	}
	file, err := config.Load(path)
	if err != nil {
		return connect.Env{}, fmt.Errorf("config: load: %w", err)
	}
	env, err := file.Resolve(preset)
	if err != nil {
		return connect.Env{}, fmt.Errorf("config: resolve %q: %w", preset, err)
	}
	return env, nil
}

func run(env connect.Env, relayBinary, resizeTo string) error {
	cfg := shmif.Config{
		Geometry:  page.Geometry{Width: 640, Height: 480},
		VCount:    2,
		ACount:    2,
		ABufSize:  4096,
		AudioRate: 48000,
	}

	ctx, err := shmif.Connect(cfg, env, func(ep connect.Endpoint) (*net.UnixConn, int, error) {
		return dial(ep, relayBinary)
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer ctx.Close()

	if resizeTo != "" {
		g, err := parseGeometry(resizeTo)
		if err != nil {
			return fmt.Errorf("resize: %w", err)
		}
		go requestResize(ctx, g, cfg)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		sendLastWords(ctx, "interrupted")
	}()

	for {
		ev, err := ctx.Pump.Dequeue(true)
		if err != nil {
			logger.Log.Info("connection ended", slog.Any("err", err))
			return nil
		}
		logger.Log.Info("event", slog.Any("category", ev.Category), slog.Any("kind", ev.Kind))

		switch {
		case ev.Category == event.CategoryTarget && ev.TargetKind() == event.TargetExit:
			return nil
		case ev.Category == event.CategoryTarget && ev.TargetKind() == event.TargetStore:
			handleStore(ctx, ev)
		case ev.Category == event.CategoryTarget && ev.TargetKind() == event.TargetRestore:
			handleRestore(ctx, ev)
		}
	}
}

// sendLastWords records a voluntary-exit reason on the local page, the
// same field the real protocol's client writes before quitting (spec.md
// §3.1 Prefix.LastWords), and carries it to the server in the EXIT
// event's message — this reference pair has no real cross-process shared
// page (page.New never mmaps), so the message is how the demo actually
// gets the words across.
func sendLastWords(ctx *shmif.Context, words string) {
	copy(ctx.Page.LastWords[:], words)
	e := event.Event{Category: event.CategoryTarget, Kind: uint8(event.TargetExit)}
	e.Msg = event.NewMessage(words)
	e.FullMsg = words
	if err := ctx.Pump.Enqueue(e); err != nil {
		logger.Log.Warn("send last words", slog.Any("err", err))
	}
}

// handleStore answers a server-initiated STORE by writing a small state
// blob to the escrowed descriptor and closing it, matching the original
// arcan_shmif_control.c's pattern of the client serializing its state to
// the fd the server handed it.
func handleStore(ctx *shmif.Context, ev event.Event) {
	if ev.FD == event.BadFD {
		logger.Log.Warn("STORE carried no descriptor")
		return
	}
	f := os.NewFile(uintptr(ctx.Pump.TakeDescriptor()), "store")
	defer f.Close()
	if _, err := f.Write([]byte("reference-client-state-v1")); err != nil {
		logger.Log.Warn("write state", slog.Any("err", err))
	}
}

// handleRestore answers a server-initiated RESTORE by reading back
// whatever state it previously handed STORE.
func handleRestore(ctx *shmif.Context, ev event.Event) {
	if ev.FD == event.BadFD {
		logger.Log.Warn("RESTORE carried no descriptor")
		return
	}
	f := os.NewFile(uintptr(ctx.Pump.TakeDescriptor()), "restore")
	defer f.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		logger.Log.Warn("read state", slog.Any("err", err))
		return
	}
	logger.Log.Info("restored state", slog.String("state", buf.String()))
}

// requestResize drives the client-side resize algorithm (spec.md §4.1) in
// the background: Request blocks on the peer's acceptance/rejection via
// the page's resize tri-state, independently of the event dequeue loop.
func requestResize(ctx *shmif.Context, g page.Geometry, cfg shmif.Config) {
	if err := ctx.Resizer.Request(g, cfg.VCount, cfg.ACount, cfg.ABufSize, cfg.AudioRate); err != nil {
		logger.Log.Warn("resize failed", slog.Any("err", err))
		return
	}
	logger.Log.Info("resize accepted", slog.Int("width", g.Width), slog.Int("height", g.Height))
}

// parseGeometry parses a "WxH" flag value, e.g. "1280x720".
func parseGeometry(s string) (page.Geometry, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return page.Geometry{}, fmt.Errorf("expected WxH, got %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return page.Geometry{}, fmt.Errorf("width: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return page.Geometry{}, fmt.Errorf("height: %w", err)
	}
	return page.Geometry{Width: width, Height: height}, nil
}

// dial implements connect.Endpoint resolution for the reference client:
// a relay spawn for "a12[s]://" endpoints, a plain AF_UNIX dial
// otherwise, and a direct wrap for an already-open inherited socket.
func dial(ep connect.Endpoint, relayBinary string) (*net.UnixConn, int, error) {
	switch {
	case ep.SocketFD != 0:
		f := os.NewFile(uintptr(ep.SocketFD), "inherited")
		c, err := net.FileConn(f)
		if err != nil {
			return nil, 0, err
		}
		return c.(*net.UnixConn), 0, nil

	case ep.Relay != nil:
		spawned, err := relay.Spawn(relayBinary, *ep.Relay, -1)
		if err != nil {
			return nil, 0, err
		}
		return spawned.Conn, spawned.Cmd.Process.Pid, nil

	default:
		c, err := net.Dial("unix", ep.Path)
		if err != nil {
			return nil, 0, err
		}
		return c.(*net.UnixConn), 0, nil
	}
}
