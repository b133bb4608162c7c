// Package proxy wires the terminal, the child pty, the control channel and
// the output filter into one interactive session. It hides the chatter of
// commands injected by an external controller while guaranteeing the user's
// terminal is never left in raw mode, whatever way the session ends.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/user/dbgproxy/internal/control"
	"github.com/user/dbgproxy/internal/filter"
	"github.com/user/dbgproxy/internal/pty"
	"github.com/user/dbgproxy/internal/term"
)

// Default sentinels: commands injected by the controlling editor are echoed
// with this prefix, and the debugger's prompt marks the end of their output.
var (
	defaultHiddenPrefix = []byte("server nvim-gdb-")
	defaultResumeMarker = []byte("\n(gdb) ")
)

// ErrNotATerminal is returned when stdin is not attached to a terminal.
var ErrNotATerminal = errors.New("proxy: stdin is not a terminal")

// child is the pty session surface the loop needs.
type child interface {
	Output() <-chan []byte
	Write(data []byte) error
	Resize(cols, rows uint16) error
	Close() error
}

// restorer undoes the raw-mode switch on the real terminal.
type restorer interface {
	Restore() error
}

// controlEndpoint is the bound command socket surface.
type controlEndpoint interface {
	Payloads() <-chan []byte
	Close() error
}

// Options configures a Session.
type Options struct {
	// Argv is the debugger command, exec'd behind the pty.
	Argv []string

	// SocketPath enables the control channel when non-empty.
	SocketPath string

	// Taps observe the visible output stream (transcript, monitor).
	Taps []Tap

	// HiddenPrefix and ResumeMarker override the default sentinels.
	HiddenPrefix []byte
	ResumeMarker []byte

	// FlushInterval overrides the one-second stall flush.
	FlushInterval time.Duration

	Logger *slog.Logger
}

// Session owns every descriptor-backed resource of one proxied debugger run.
// Created by NewSession in a fixed order, torn down by Close in reverse,
// unconditionally.
type Session struct {
	child  child
	guard  restorer
	ctrl   controlEndpoint
	winch  chan os.Signal
	loop   *loop
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewSession binds the control socket, switches the real terminal to raw
// mode, spawns the debugger behind a fresh pty, and installs the resize
// handler. If any step fails, everything established before it is undone:
// the terminal is restored and no socket file is left behind.
func NewSession(opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.HiddenPrefix == nil {
		opts.HiddenPrefix = defaultHiddenPrefix
	}
	if opts.ResumeMarker == nil {
		opts.ResumeMarker = defaultResumeMarker
	}

	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(os.Stdin.Fd()) {
		return nil, ErrNotATerminal
	}

	var ctrl *control.Channel
	if opts.SocketPath != "" {
		var err error
		ctrl, err = control.Bind(opts.SocketPath)
		if err != nil {
			return nil, err
		}
	}

	guard, err := term.MakeRaw(stdinFD)
	if err != nil {
		if ctrl != nil {
			_ = ctrl.Close()
		}
		return nil, err
	}

	sess, err := pty.Start(opts.Argv)
	if err != nil {
		_ = guard.Restore()
		if ctrl != nil {
			_ = ctrl.Close()
		}
		return nil, err
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)

	s := &Session{
		child:  sess,
		guard:  guard,
		winch:  winch,
		logger: logger,
	}
	var controlPayloads <-chan []byte
	if ctrl != nil {
		s.ctrl = ctrl
		controlPayloads = ctrl.Payloads()
	}

	s.loop = &loop{
		filter:        filter.New(opts.HiddenPrefix, opts.ResumeMarker),
		childOut:      sess.Output(),
		childWrite:    sess.Write,
		childResize:   sess.Resize,
		stdin:         readPump(os.Stdin),
		control:       controlPayloads,
		winch:         winch,
		stdout:        os.Stdout,
		geometry:      term.FDGeometry(stdinFD),
		taps:          opts.Taps,
		flushInterval: opts.FlushInterval,
		logger:        logger,
	}

	// Sync the child's window to the real terminal before any output flows.
	if err := s.loop.resize(); err != nil {
		logger.Warn("initial resize failed", "error", err)
	}

	return s, nil
}

// Run drives the session to completion. It returns nil when the child's
// output stream ends and an error on any unrecoverable I/O failure; the
// terminal is restored on every path before Run returns.
func (s *Session) Run() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Warn("session teardown", "error", err)
		}
	}()
	return s.loop.run()
}

// Close tears the session down: resize notifications stopped, terminal mode
// restored, child terminated, socket unlinked. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		signal.Stop(s.winch)

		if err := s.guard.Restore(); err != nil {
			s.closeErr = err
		}
		if err := s.child.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("proxy: close child: %w", err)
		}
		if s.ctrl != nil {
			if err := s.ctrl.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}

// readPump feeds chunks read from r into a channel, closing it on EOF or
// error. Keystrokes take this path from the raw-mode terminal to the loop.
func readPump(r *os.File) <-chan []byte {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 1024)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				out <- chunk
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
