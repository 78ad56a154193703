package netsock

import (
	"net"
	"sync"
	"time"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// Conn is a connected TCP handle. It is owned by one session; closing is
// idempotent.
type Conn struct {
	c *net.TCPConn

	closeOnce sync.Once
	closeErr  error
}

func newConn(c *net.TCPConn) *Conn {
	return &Conn{c: c}
}

// Wrap adopts an already connected TCP connection, for clients and tests.
func Wrap(c *net.TCPConn) *Conn {
	return newConn(c)
}

// Read reads into p. A timeout <= 0 blocks without a deadline. Partial reads
// return their count alongside the classified failure.
func (c *Conn) Read(p []byte, timeout time.Duration) (int, *diag.Error) {
	if err := c.c.SetReadDeadline(deadline(timeout)); err != nil {
		return 0, MapError(err).AddFailed("SetReadDeadline")
	}
	n, err := c.c.Read(p)
	if err != nil {
		return n, MapError(err)
	}
	return n, nil
}

// Write writes p. net.TCPConn writes fully or fails, so a short count
// always comes with a diagnostic.
func (c *Conn) Write(p []byte, timeout time.Duration) (int, *diag.Error) {
	if err := c.c.SetWriteDeadline(deadline(timeout)); err != nil {
		return 0, MapError(err).AddFailed("SetWriteDeadline")
	}
	n, err := c.c.Write(p)
	if err != nil {
		return n, MapError(err)
	}
	return n, nil
}

// CloseWrite half-closes the connection so the peer sees EOF after the
// last response byte.
func (c *Conn) CloseWrite() *diag.Error {
	if err := c.c.CloseWrite(); err != nil {
		return MapError(err)
	}
	return nil
}

func (c *Conn) Close() *diag.Error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close()
	})
	if c.closeErr != nil {
		return MapError(c.closeErr)
	}
	return nil
}

func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }
func (c *Conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
