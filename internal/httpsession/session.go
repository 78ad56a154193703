package httpsession

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/netsock"
	"github.com/luciancaetano/vmhttp/internal/tcpserver"
)

// State of a session's protocol state machine.
type State int32

const (
	StateAwaitRequest State = iota
	StateReadHeaders
	StateReadBody
	StateDispatch
	StateWriteResponse
	StateKeepAlive
	StateClosed
)

var stateNames = [...]string{"await-request", "read-headers", "read-body", "dispatch", "write-response", "keep-alive", "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	DefaultServerName    = "vmhttp/1.0"
	DefaultMaxBodySize   = 256 << 10
	DefaultMaxHeaderSize = 16 << 10

	// pollInterval bounds how long an idle session goes without checking
	// for Stop.
	pollInterval = 100 * time.Millisecond
	lingerLimit  = 500 * time.Millisecond
)

type Config struct {
	ServerName    string
	MaxBodySize   int
	MaxHeaderSize int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	KeepAlive     bool
	// MaxRequests closes the connection after this many responses; 0 means
	// unlimited.
	MaxRequests int
	// RequestsPerSecond limits requests on one connection; 0 disables it.
	RequestsPerSecond rate.Limit
	Burst             int

	Logger *slog.Logger
	// OnRequest is called after every response attempt. derr is the
	// processing or write failure, or nil.
	OnRequest func(req *Request, resp *Response, elapsed time.Duration, derr *diag.Error)
}

func DefaultConfig() Config {
	return Config{
		ServerName:    DefaultServerName,
		MaxBodySize:   DefaultMaxBodySize,
		MaxHeaderSize: DefaultMaxHeaderSize,
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
		KeepAlive:     true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ServerName == "" {
		c.ServerName = d.ServerName
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = d.MaxBodySize
	}
	if c.MaxHeaderSize <= 0 {
		c.MaxHeaderSize = d.MaxHeaderSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// connReader adapts a netsock.Conn to io.Reader for bufio. The diagnostic
// of a failed read is returned as the error value.
type connReader struct {
	conn    *netsock.Conn
	timeout time.Duration
	n       int64
}

func (r *connReader) Read(p []byte) (int, error) {
	n, derr := r.conn.Read(p, r.timeout)
	r.n += int64(n)
	if derr != nil {
		return n, derr
	}
	return n, nil
}

// Session drives the HTTP protocol on one connection.
type Session struct {
	id      string
	conn    *netsock.Conn
	cfg     Config
	proc    Processor
	onError ErrorHandler
	logger  *slog.Logger
	limiter *rate.Limiter

	state   atomic.Int32
	stopped atomic.Bool
	served  int

	cr   *connReader
	br   *bufio.Reader
	body []byte
}

var _ tcpserver.Session = (*Session)(nil)

// New creates a session for conn. A nil onError selects DefaultErrorHandler.
func New(conn *netsock.Conn, id string, cfg Config, proc Processor, onError ErrorHandler) *Session {
	cfg = cfg.withDefaults()
	if onError == nil {
		onError = DefaultErrorHandler
	}
	s := &Session{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		proc:    proc,
		onError: onError,
		logger:  logging.Or(cfg.Logger).With("component", "httpsession", "session_id", id),
		cr:      &connReader{conn: conn, timeout: cfg.ReadTimeout},
	}
	s.br = bufio.NewReader(s.cr)
	if cfg.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(cfg.RequestsPerSecond, cfg.Burst)
	}
	return s
}

// NewFactory returns a tcpserver.Factory producing sessions that share cfg,
// proc and onError.
func NewFactory(cfg Config, proc Processor, onError ErrorHandler) tcpserver.Factory {
	return func(conn *netsock.Conn, id string) tcpserver.Session {
		return New(conn, id, cfg, proc, onError)
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Served returns the number of responses written.
func (s *Session) Served() int { return s.served }

// Stop makes the session close at its next safe point: before waiting for
// a new request or after the current response.
func (s *Session) Stop() { s.stopped.Store(true) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Do serves requests until the connection closes. It returns the failure
// that ended the session, or nil for a clean close.
func (s *Session) Do(ctx context.Context) *diag.Error {
	defer s.setState(StateClosed)
	defer s.conn.Close()

	for first := true; ; first = false {
		s.setState(StateAwaitRequest)
		if !s.awaitRequest(ctx, first) {
			return nil
		}
		keep, derr := s.serveOne(ctx)
		if derr.Failed() {
			return derr
		}
		if !keep {
			s.lingerClose()
			return nil
		}
		s.setState(StateKeepAlive)
	}
}

// awaitRequest waits for the first byte of the next request. Idle expiry,
// peer close and Stop all end the session cleanly.
func (s *Session) awaitRequest(ctx context.Context, first bool) bool {
	if s.br.Buffered() > 0 {
		return true
	}
	timeout := s.cfg.IdleTimeout
	if first {
		timeout = s.cfg.ReadTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		if s.stopped.Load() || ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		derr := s.conn.WaitReadable(min(remaining, pollInterval))
		if derr == nil {
			return true
		}
		if derr.Code() != diag.ErrTimeout {
			return false
		}
	}
}

func (s *Session) serveOne(ctx context.Context) (bool, *diag.Error) {
	started := time.Now()
	req := &Request{
		SessionID:  s.id,
		RequestID:  uuid.NewString(),
		RemoteAddr: s.conn.RemoteAddr().String(),
	}

	if derr := s.readRequest(req); derr != nil {
		if disconnected(derr) {
			return false, derr.AddFailed("readRequest")
		}
		return false, s.fail(req, derr, started)
	}

	if s.limiter != nil && !s.limiter.Allow() {
		derr := diag.Newf(diag.ErrNetActionNotAllowed, "request rate exceeded on session %s", s.id)
		return false, s.fail(req, derr, started)
	}

	s.setState(StateDispatch)
	resp, perr, panicked := s.process(ctx, req)
	if panicked {
		return false, s.fail(req, perr, started)
	}
	if perr.Failed() {
		s.logger.Debug("processor failed", "request_id", req.RequestID, "err", perr)
		resp = s.errorResponse(req, perr)
	} else if resp == nil {
		resp = NewResponse(http.StatusOK)
	}

	keep := s.keepAlive(req, resp)
	werr := s.write(req, resp, keep)
	s.report(req, resp, started, firstFailure(perr, werr))
	if werr != nil {
		return false, werr
	}
	return keep, nil
}

func (s *Session) readRequest(req *Request) *diag.Error {
	s.setState(StateReadHeaders)
	start := s.cr.n - int64(s.br.Buffered())
	if derr := readHead(s.br, req, s.cfg.MaxHeaderSize); derr != nil {
		return derr
	}
	n, derr := bodyLength(&req.Header, s.cfg.MaxBodySize)
	if derr != nil {
		return derr
	}

	s.setState(StateReadBody)
	if cap(s.body) < n {
		s.body = make([]byte, n, min(max(n, 2*cap(s.body)), s.cfg.MaxBodySize))
	}
	req.Body = s.body[:n]
	if derr := readBody(s.br, req.Body); derr != nil {
		return derr
	}
	req.Size = s.cr.n - int64(s.br.Buffered()) - start
	return nil
}

// fail answers a request that could not be processed and closes the
// connection afterwards.
func (s *Session) fail(req *Request, derr *diag.Error, started time.Time) *diag.Error {
	s.logger.Debug("request rejected", "request_id", req.RequestID, "err", derr)
	resp := s.errorResponse(req, derr)
	resp.Close = true
	werr := s.write(req, resp, false)
	s.report(req, resp, started, derr)
	if werr != nil {
		werr.CopyMessages(derr, 0)
		return werr
	}
	s.lingerClose()
	return derr
}

// process calls the processor. A panic is turned into errUnknown so the
// peer still gets an answer; socket faults are re-raised.
func (s *Session) process(ctx context.Context, req *Request) (resp *Response, derr *diag.Error, panicked bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*netsock.Fault); ok {
			panic(f)
		}
		s.logger.Error("processor panicked", "request_id", req.RequestID, "panic", r)
		resp, derr, panicked = nil, diag.Newf(diag.ErrUnknown, "processor panicked: %v", r), true
	}()
	resp, derr = s.proc.Process(ctx, req)
	return resp, derr, false
}

// errorResponse builds the answer for derr. If the error handler panics,
// DefaultErrorHandler fills a fresh response instead.
func (s *Session) errorResponse(req *Request, derr *diag.Error) (resp *Response) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*netsock.Fault); ok {
			panic(f)
		}
		s.logger.Error("error handler panicked", "request_id", req.RequestID, "panic", r)
		resp = NewResponse(StatusFor(derr.Code()))
		DefaultErrorHandler(derr, req, resp)
	}()
	resp = NewResponse(StatusFor(derr.Code()))
	s.onError(derr, req, resp)
	return resp
}

func (s *Session) keepAlive(req *Request, resp *Response) bool {
	if !s.cfg.KeepAlive || resp.Close || s.stopped.Load() || !req.WantsKeepAlive() {
		return false
	}
	return s.cfg.MaxRequests == 0 || s.served+1 < s.cfg.MaxRequests
}

func (s *Session) write(req *Request, resp *Response, keep bool) *diag.Error {
	s.setState(StateWriteResponse)

	if req.Major == 1 && req.Minor == 0 {
		resp.major, resp.minor = 1, 0
	}
	resp.omitBody = req.Method == http.MethodHead
	resp.Header.Set("Server", s.cfg.ServerName)
	resp.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if keep {
		resp.Header.Set("Connection", "keep-alive")
	} else {
		resp.Header.Set("Connection", "close")
	}
	resp.Header.Set("X-Request-Id", req.RequestID)

	var buf bytes.Buffer
	if _, err := resp.WriteTo(&buf); err != nil {
		derr := readError(err).AddFailed("Response.WriteTo")
		resp = NewResponse(http.StatusInternalServerError)
		resp.Header.Set("Server", s.cfg.ServerName)
		resp.Header.Set("Connection", "close")
		buf.Reset()
		resp.WriteTo(&buf)
		s.conn.Write(buf.Bytes(), s.cfg.WriteTimeout)
		return derr
	}

	if _, derr := s.conn.Write(buf.Bytes(), s.cfg.WriteTimeout); derr != nil {
		derr.AddFailed("Conn.Write")
		s.logger.Debug("response write failed", "request_id", req.RequestID, "err", derr)
		return derr
	}
	resp.written = int64(buf.Len())
	s.served++
	return nil
}

func (s *Session) report(req *Request, resp *Response, started time.Time, derr *diag.Error) {
	if s.cfg.OnRequest != nil {
		s.cfg.OnRequest(req, resp, time.Since(started), derr)
	}
}

// lingerClose half-closes and discards unread input for a short while so an
// unread request body does not turn the close into a reset that destroys
// the response in flight.
func (s *Session) lingerClose() {
	if s.conn.CloseWrite() != nil {
		return
	}
	deadline := time.Now().Add(lingerLimit)
	buf := make([]byte, 4096)
	for time.Now().Before(deadline) {
		if _, derr := s.conn.Read(buf, time.Until(deadline)); derr != nil {
			return
		}
	}
}

func disconnected(derr *diag.Error) bool {
	switch derr.Code() {
	case diag.ErrNetConnectionClosed, diag.ErrNetConnectionReset, diag.ErrNetConnectionAborted:
		return true
	}
	return false
}

func firstFailure(errs ...*diag.Error) *diag.Error {
	for _, e := range errs {
		if e.Failed() {
			return e
		}
	}
	return nil
}
