// dbgproxy runs an interactive debugger behind a filtering pseudo-terminal.
// An external controller injects commands through a local datagram socket;
// their echo and output never reach the user's screen.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/user/dbgproxy/internal/config"
	"github.com/user/dbgproxy/internal/monitor"
	"github.com/user/dbgproxy/internal/proxy"
	"github.com/user/dbgproxy/internal/record"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logOut := io.Writer(os.Stderr)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	ctx := context.Background()
	var taps []proxy.Tap

	if cfg.TranscriptDB != "" {
		rec, err := record.Open(ctx, cfg.TranscriptDB, cfg.Argv)
		if err != nil {
			slog.Error("transcript recorder setup failed", "error", err)
			return 1
		}
		defer func() {
			if err := rec.Close(ctx); err != nil {
				slog.Warn("transcript close", "error", err)
			}
		}()
		taps = append(taps, rec.Chunk)
		slog.Info("recording transcript", "db", cfg.TranscriptDB, "session", rec.SessionID())
	}

	if cfg.MonitorAddr != "" {
		hub := monitor.NewHub(cfg.MonitorAddr, slog.Default())
		if err := hub.Start(); err != nil {
			slog.Error("monitor setup failed", "error", err)
			return 1
		}
		defer hub.Close()
		taps = append(taps, hub.Broadcast)
	}

	sess, err := proxy.NewSession(proxy.Options{
		Argv:       cfg.Argv,
		SocketPath: cfg.SocketPath,
		Taps:       taps,
	})
	if err != nil {
		slog.Error("session setup failed", "error", err)
		return 1
	}
	defer sess.Close()

	if err := sess.Run(); err != nil {
		slog.Error("session failed", "error", err)
		return 1
	}
	return 0
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
