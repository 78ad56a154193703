//go:build unix

package netsock

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// WaitReadable blocks until the peer sent data, closed its side, or the
// timeout expired. Nothing is consumed: readiness is probed with MSG_PEEK
// through the runtime poller.
func (c *Conn) WaitReadable(timeout time.Duration) *diag.Error {
	rc, err := c.c.SyscallConn()
	if err != nil {
		return MapError(err).AddFailed("SyscallConn")
	}
	if err := c.c.SetReadDeadline(deadline(timeout)); err != nil {
		return MapError(err).AddFailed("SetReadDeadline")
	}

	var (
		probe  [1]byte
		n      int
		perr   error
		probed bool
	)
	err = rc.Read(func(fd uintptr) bool {
		probed = true
		n, _, perr = unix.Recvfrom(int(fd), probe[:], unix.MSG_PEEK)
		return perr != unix.EAGAIN && perr != unix.EINTR
	})

	switch {
	case err != nil:
		return MapError(err)
	case !probed:
		fault("WaitReadable", "poller returned ready without probing the descriptor")
	case perr != nil:
		return MapError(perr)
	case n == 0:
		return diag.Newf(diag.ErrNetConnectionClosed, "peer closed while idle")
	}
	return nil
}
