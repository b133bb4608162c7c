// Package pty owns the pseudo-terminal pair behind which the debugger runs.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
)

// readBufferSize is the chunk size for reads from the master side.
const readBufferSize = 1024

// Session wraps a child process running inside a PTY. The master descriptor
// is owned by the Session for its whole lifetime; callers interact with the
// child only through Write, Output and Resize.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	output chan []byte

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Start spawns argv attached to the subordinate side of a fresh PTY and
// retains the master side. The child inherits the caller's environment and
// working directory.
func Start(argv []string) (*Session, error) {
	if len(argv) == 0 {
		return nil, errors.New("pty: argv must not be empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := creackpty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("pty: start %q: %w", argv[0], err)
	}

	s := &Session{
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan []byte, 64),
	}
	go s.readPump()
	return s, nil
}

// readPump reads chunks from the master fd and delivers them on the output
// channel. It runs until read fails, which includes the EIO produced when
// the child exits and the subordinate side closes; the channel close is the
// session's end-of-stream signal.
func (s *Session) readPump() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.output <- chunk
		}
		if err != nil {
			break
		}
	}
	close(s.output)
}

// Output returns the channel of output chunks read from the child. The
// channel is closed when the child's stream ends.
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Write sends data to the child's input, retrying until every byte is
// consumed or the descriptor fails.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("pty: session is closed")
	}
	for len(data) > 0 {
		n, err := s.ptmx.Write(data)
		if err != nil {
			return fmt.Errorf("pty: write to child: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// Resize applies a window size to the master side so the child's line
// discipline tracks the user's real window.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("pty: session is closed")
	}
	if err := creackpty.Setsize(s.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("pty: resize: %w", err)
	}
	return nil
}

// Wait blocks until the child process exits and returns its wait status.
func (s *Session) Wait() error {
	return s.cmd.Wait()
}

// Close terminates the child (SIGTERM) and releases the master descriptor.
// It is safe to call Close multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = s.ptmx.Close()
	})
	return err
}
