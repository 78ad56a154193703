package netsock

import (
	"context"
	"net"
	"strconv"
	"sync"

	"fortio.org/safecast"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// DefaultBacklog is the accept queue length requested by the server.
const DefaultBacklog = 10

// Listener is a listening TCP endpoint. It is owned by exactly one server.
type Listener struct {
	ln      *net.TCPListener
	backlog int

	closeOnce sync.Once
	closeErr  error
}

// Listen binds address:port and starts listening.
//
// address must be an IPv4 literal. The Go runtime sizes the accept queue
// from the system limit, so backlog is validated and recorded but cannot
// lower it.
func Listen(address string, port int, backlog int) (*Listener, *diag.Error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return nil, diag.Newf(diag.ErrNetAddressInvalid, "'%s' is not an IPv4 literal", address)
	}
	p, err := safecast.Conv[uint16](port)
	if err != nil || p == 0 {
		return nil, diag.Newf(diag.ErrNetAddressInvalid, "port %d is out of range", port)
	}
	if backlog <= 0 {
		return nil, diag.Newf(diag.ErrInvalidArgument, "backlog %d must be positive", backlog)
	}

	var lc net.ListenConfig
	addr := net.JoinHostPort(ip.To4().String(), strconv.Itoa(int(p)))
	ln, err := lc.Listen(context.Background(), "tcp4", addr)
	if err != nil {
		return nil, MapError(err).Addf("listen on %s", addr)
	}
	return &Listener{ln: ln.(*net.TCPListener), backlog: backlog}, nil
}

// Accept blocks until a peer connects or the listener is closed. A closed
// listener yields errNetConnectionAborted.
func (l *Listener) Accept() (*Conn, *diag.Error) {
	c, err := l.ln.AcceptTCP()
	if err != nil {
		derr := MapError(err)
		return nil, derr.AddFailed("Accept")
	}
	return newConn(c), nil
}

// Close stops listening. It is idempotent.
func (l *Listener) Close() *diag.Error {
	l.closeOnce.Do(func() {
		l.closeErr = l.ln.Close()
	})
	if l.closeErr != nil {
		return MapError(l.closeErr)
	}
	return nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Backlog() int { return l.backlog }
