package netsock

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

var errnoTable = []struct {
	errno syscall.Errno
	code  diag.Code
}{
	{syscall.EAGAIN, diag.ErrNetIOPending},
	{syscall.EWOULDBLOCK, diag.ErrNetIOPending},
	{syscall.EACCES, diag.ErrAccessDenied},
	{syscall.ENETDOWN, diag.ErrNetInternetDisconnected},
	{syscall.ETIMEDOUT, diag.ErrTimeout},
	{syscall.ECONNRESET, diag.ErrNetConnectionReset},
	{syscall.ENETRESET, diag.ErrNetConnectionReset},
	{syscall.EPIPE, diag.ErrNetConnectionReset},
	{syscall.ECONNABORTED, diag.ErrNetConnectionAborted},
	{syscall.ECONNREFUSED, diag.ErrNetConnectionRefused},
	{syscall.EHOSTUNREACH, diag.ErrNetAddressUnreachable},
	{syscall.ENETUNREACH, diag.ErrNetAddressUnreachable},
	{syscall.EADDRNOTAVAIL, diag.ErrNetAddressInvalid},
	{syscall.EADDRINUSE, diag.ErrNetAddressInUse},
	{syscall.EMSGSIZE, diag.ErrNetMsgTooBig},
	{syscall.ENOTCONN, diag.ErrNetSocketNotConnected},
	{syscall.EISCONN, diag.ErrNetSocketIsConnected},
	{syscall.EINVAL, diag.ErrInvalidArgument},
	{syscall.EBADF, diag.ErrInvalidHandle},
	{syscall.ECANCELED, diag.ErrAborted},
	{syscall.EFBIG, diag.ErrFileTooBig},
	{syscall.ENOENT, diag.ErrFileNotFound},
	{syscall.ENOSPC, diag.ErrFileNoSpace},
	{syscall.ENOSYS, diag.ErrNotImplemented},
	{syscall.ENOTSUP, diag.ErrNotImplemented},
	{syscall.EMFILE, diag.ErrInsufficientResources},
	{syscall.ENFILE, diag.ErrInsufficientResources},
	{syscall.ENOMEM, diag.ErrOutOfMemory},
	{syscall.ENOBUFS, diag.ErrOutOfMemory},
}

// ClassifyErrno maps a platform errno to a diagnostic code. Unlisted values
// map to errFailed.
func ClassifyErrno(errno syscall.Errno) diag.Code {
	if errno == 0 {
		return diag.Ok
	}
	for _, e := range errnoTable {
		if e.errno == errno {
			return e.code
		}
	}
	return diag.ErrFailed
}

// Classify maps a Go I/O error to a diagnostic code.
func Classify(err error) diag.Code {
	var errno syscall.Errno
	switch {
	case err == nil:
		return diag.Ok
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return diag.ErrNetConnectionClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return diag.ErrTimeout
	case errors.Is(err, net.ErrClosed):
		return diag.ErrNetConnectionAborted
	case errors.As(err, &errno):
		return ClassifyErrno(errno)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return diag.ErrTimeout
	}
	return diag.ErrFailed
}

// MapError wraps err into a classified diagnostic with err as its cause.
func MapError(err error) *diag.Error {
	if err == nil {
		return nil
	}
	return diag.Wrap(Classify(err), err)
}
