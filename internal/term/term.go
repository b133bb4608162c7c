// Package term manages the real terminal: raw mode with guaranteed
// restoration, and window geometry queries.
package term

import (
	"fmt"
	"sync"

	"github.com/mattn/go-isatty"
	xterm "golang.org/x/term"
)

// Size is a terminal window size in character cells.
type Size struct {
	Cols uint16
	Rows uint16
}

// GeometryFunc returns the current size of the real terminal. It is queried
// fresh on every resize, never cached.
type GeometryFunc func() (Size, error)

// FDGeometry returns a GeometryFunc reading the window size of fd.
func FDGeometry(fd int) GeometryFunc {
	return func() (Size, error) {
		cols, rows, err := xterm.GetSize(fd)
		if err != nil {
			return Size{}, fmt.Errorf("term: get size: %w", err)
		}
		return Size{Cols: uint16(cols), Rows: uint16(rows)}, nil
	}
}

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd)
}

// RawGuard holds a terminal in raw mode and restores the saved state on
// Restore. Restore is idempotent and safe to call from teardown paths that
// may race (deferred cleanup vs. signal handling).
type RawGuard struct {
	fd    int
	saved *xterm.State

	mu       sync.Mutex
	restored bool
}

// MakeRaw snapshots the terminal state of fd and switches it to raw mode.
func MakeRaw(fd int) (*RawGuard, error) {
	saved, err := xterm.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("term: make raw: %w", err)
	}
	return &RawGuard{fd: fd, saved: saved}, nil
}

// Restore puts the terminal back into the state captured by MakeRaw.
// Subsequent calls are no-ops.
func (g *RawGuard) Restore() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.restored {
		return nil
	}
	g.restored = true
	if err := xterm.Restore(g.fd, g.saved); err != nil {
		return fmt.Errorf("term: restore: %w", err)
	}
	return nil
}
