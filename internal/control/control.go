// Package control receives injected debugger commands from an external
// controller over a Unix datagram socket. Each datagram is one complete
// command payload, forwarded verbatim to the child.
package control

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// receiveBufferSize bounds a single datagram payload.
const receiveBufferSize = 65536

// ErrBusy is returned by Bind when another live process holds the socket path.
var ErrBusy = errors.New("control: socket path in use")

// Channel is a bound datagram endpoint. The socket file exists for exactly
// the lifetime of the Channel: Bind clears a stale leftover, Close unlinks.
type Channel struct {
	path     string
	conn     *net.UnixConn
	payloads chan []byte

	closeOnce sync.Once
	closeErr  error
}

// Bind creates the datagram endpoint at path. A leftover socket file with no
// live owner is removed; a path held by a running process is reported as
// ErrBusy rather than silently stolen.
func Bind(path string) (*Channel, error) {
	live, err := probe(path)
	if err != nil {
		return nil, err
	}
	if live {
		return nil, fmt.Errorf("control: bind %q: %w", path, ErrBusy)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("control: remove stale socket %q: %w", path, err)
	}

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("control: bind %q: %w", path, err)
	}

	c := &Channel{
		path:     path,
		conn:     conn,
		payloads: make(chan []byte, 16),
	}
	go c.receivePump()
	return c, nil
}

// probe reports whether a live process is bound at path. Connecting to a
// datagram socket succeeds only while someone holds it; a stale file or a
// missing path both refuse the connection.
func probe(path string) (bool, error) {
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err == nil {
		conn.Close()
		return true, nil
	}
	if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("control: probe %q: %w", path, err)
}

// receivePump delivers one payload per datagram until the socket closes.
func (c *Channel) receivePump() {
	buf := make([]byte, receiveBufferSize)
	for {
		n, _, err := c.conn.ReadFromUnix(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			c.payloads <- payload
		}
		if err != nil {
			break
		}
	}
	close(c.payloads)
}

// Payloads returns the channel of received command payloads. It is closed
// when the endpoint shuts down.
func (c *Channel) Payloads() <-chan []byte {
	return c.payloads
}

// Path returns the bound socket path.
func (c *Channel) Path() string {
	return c.path
}

// Close shuts the endpoint down and unlinks the socket file, tolerating its
// prior absence. Safe to call multiple times.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) && c.closeErr == nil {
			c.closeErr = fmt.Errorf("control: remove socket %q: %w", c.path, err)
		}
	})
	return c.closeErr
}
