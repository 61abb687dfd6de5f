package server

import (
	"bufio"
	"crypto/tls"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Connection wraps a single client connection with buffered line I/O.
//
// Reads are owned by the connection's handler goroutine. Writes may come
// from any goroutine (replies from the handler, pushes from other
// connections' handlers) and are serialized by an internal mutex. Once the
// connection is closed, writes are dropped silently; the peer observes the
// close instead.
type Connection struct {
	conn        net.Conn
	reader      *bufio.Reader
	logger      *slog.Logger
	idleTimeout time.Duration

	writeMu sync.Mutex
	writer  *bufio.Writer

	closed atomic.Bool
}

// NewConnection creates a Connection over the given net.Conn.
// An idleTimeout of zero disables the read deadline.
func NewConnection(conn net.Conn, logger *slog.Logger, idleTimeout time.Duration) *Connection {
	return &Connection{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		writer:      bufio.NewWriter(conn),
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

// ReadLine reads one newline-terminated line and returns it without the
// trailing newline. A bare "\r" before the newline is also stripped.
func (c *Connection) ReadLine() (string, error) {
	if c.idleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return "", err
		}
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine writes a single line followed by "\n" and flushes.
// If the connection is already closed the write is dropped and nil is
// returned; a failed write closes the connection.
func (c *Connection) WriteLine(line string) error {
	if c.closed.Load() {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return nil
	}

	if _, err := c.writer.WriteString(line); err != nil {
		c.closeLocked()
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		c.closeLocked()
		return err
	}
	if err := c.writer.Flush(); err != nil {
		c.closeLocked()
		return err
	}
	return nil
}

// Close marks the connection closed and closes the underlying socket.
// Safe to call multiple times.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Connection) closeLocked() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

// IsClosed returns true once the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// IsTLS returns true if the underlying connection is a TLS connection.
func (c *Connection) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}
