package server

import (
	"net"
	"sync"
	"time"
)

// readBufferSize is the size of each chunk read from the socket and
// handed to a Capability's Process method.
const readBufferSize = 4096

// Connection wraps a net.Conn with the deadline-aware plumbing a
// Listener needs: chunked reads, idle-timeout enforcement and
// idempotent close. Reads and writes are not buffered.
type Connection struct {
	conn        net.Conn
	idleTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps conn with the given idle timeout. A zero timeout
// disables deadline enforcement.
func NewConnection(conn net.Conn, idleTimeout time.Duration) *Connection {
	return &Connection{conn: conn, idleTimeout: idleTimeout}
}

// RemoteAddr returns the address of the connected peer.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Write writes b to the underlying connection.
func (c *Connection) Write(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// ReadChunk resets the idle deadline and reads the next chunk of bytes
// from the connection, returning io.EOF (or the underlying read error)
// when the peer closes or the deadline expires.
func (c *Connection) ReadChunk() ([]byte, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, readBufferSize)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], err
	}
	return nil, err
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed reports whether Close has already been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
