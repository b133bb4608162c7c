package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/user/dbgproxy/internal/filter"
	"github.com/user/dbgproxy/internal/term"
)

// defaultFlushInterval bounds how long a provisionally withheld partial
// match can sit in the filter while the child is silent.
const defaultFlushInterval = time.Second

// Tap observes the visible output stream. Taps see exactly the bytes
// written to the user's terminal, in order; they must not block.
type Tap func(data []byte)

// loop multiplexes the session's event sources. All writes to the child and
// to the real terminal happen here, on the one goroutine running run().
type loop struct {
	filter *filter.Filter

	childOut    <-chan []byte
	childWrite  func(data []byte) error
	childResize func(cols, rows uint16) error

	stdin   <-chan []byte
	control <-chan []byte
	winch   <-chan os.Signal

	stdout   io.Writer
	geometry term.GeometryFunc

	taps          []Tap
	flushInterval time.Duration
	logger        *slog.Logger
}

// run drives the session until the child's output stream ends (normal
// termination, returns nil) or an unrecoverable I/O error occurs.
func (l *loop) run() error {
	timer := time.NewTimer(l.flushInterval)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.flushInterval)
	}

	for {
		select {
		case chunk, ok := <-l.childOut:
			if !ok {
				// End of stream. Release any open partial match so no
				// legitimate bytes are lost; a confirmed suppressed
				// region stays hidden, the session is over.
				return l.emit(l.filter.Flush())
			}
			if err := l.emit(l.filter.Feed(chunk)); err != nil {
				return err
			}
			resetTimer()

		case data, ok := <-l.stdin:
			if !ok {
				l.stdin = nil
				continue
			}
			if err := l.childWrite(data); err != nil {
				return err
			}
			resetTimer()

		case payload, ok := <-l.control:
			if !ok {
				l.control = nil
				continue
			}
			l.logger.Debug("forwarding control payload", "bytes", len(payload))
			if err := l.childWrite(payload); err != nil {
				return err
			}
			resetTimer()

		case <-l.winch:
			if err := l.resize(); err != nil {
				// The child may already be gone; its EOF ends the loop.
				l.logger.Debug("resize failed", "error", err)
			}

		case <-timer.C:
			if err := l.emit(l.filter.Flush()); err != nil {
				return err
			}
			timer.Reset(l.flushInterval)
		}
	}
}

// emit writes visible bytes to the real terminal and feeds the taps.
func (l *loop) emit(visible []byte) error {
	if len(visible) == 0 {
		return nil
	}
	if err := writeAll(l.stdout, visible); err != nil {
		return fmt.Errorf("proxy: write to terminal: %w", err)
	}
	for _, tap := range l.taps {
		tap(visible)
	}
	return nil
}

// resize queries the real terminal's current size and applies it to the
// child's pty.
func (l *loop) resize() error {
	size, err := l.geometry()
	if err != nil {
		return err
	}
	return l.childResize(size.Cols, size.Rows)
}

// writeAll retries short writes until data is fully consumed.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
