package tcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/netsock"
)

// Session is the unit of work for one accepted connection.
type Session interface {
	ID() string
	// Do drives the connection to completion. A failing result is
	// reported through OnSessionError; it never affects other sessions.
	Do(ctx context.Context) *diag.Error
	// Stop asks the session to finish at its next safe point. It must not
	// interrupt in-flight I/O.
	Stop()
}

// Factory builds the session for a freshly accepted connection. The
// session owns conn from then on.
type Factory func(conn *netsock.Conn, id string) Session

// State of the server lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Hooks are optional lifecycle callbacks. They run on session goroutines
// and must be safe for concurrent use.
type Hooks struct {
	OnSessionOpen  func(s Session, remoteAddr string)
	OnSessionError func(s Session, err *diag.Error)
	OnSessionClose func(s Session, elapsed time.Duration)
	OnStateChange  func(state State)
}

// RateLimitConfig limits how fast connections are accepted.
type RateLimitConfig struct {
	// ConnectionsPerSecond is the sustained accept rate
	ConnectionsPerSecond rate.Limit
	// Burst is the token bucket capacity
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig allows 500 connections per second with a burst
// of 1000.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		ConnectionsPerSecond: 500,
		Burst:                1000,
		Enabled:              true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

type Config struct {
	Address string
	Backlog int
	// MaxSessions caps concurrently running sessions; 0 means unlimited.
	MaxSessions int64
	RateLimit   *RateLimitConfig
	Logger      *slog.Logger
	Hooks       Hooks
}

// Server accepts connections on one listener and runs a session per
// connection.
type Server struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    atomic.Int32
	ln       *netsock.Listener
	sessions map[string]Session

	limiter *rate.Limiter
	sem     *semaphore.Weighted

	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}
	workers    sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.Address == "" {
		cfg.Address = "0.0.0.0"
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = netsock.DefaultBacklog
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = NoRateLimit()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logging.Or(cfg.Logger).With("component", "tcpserver"),
		sessions: make(map[string]Session),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(cfg.RateLimit.ConnectionsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.MaxSessions > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxSessions)
	}
	return s
}

func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	if s.cfg.Hooks.OnStateChange != nil {
		s.cfg.Hooks.OnStateChange(st)
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start binds the listener and returns once the accept loop is running.
func (s *Server) Start(port int, factory Factory) *diag.Error {
	if port == 0 || factory == nil {
		return diag.Newf(diag.ErrInvalidArgument, "port %d, factory set %v", port, factory != nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateIdle {
		return diag.Newf(diag.ErrInvalidOperation, "server is %s", s.State())
	}

	ln, derr := netsock.Listen(s.cfg.Address, port, s.cfg.Backlog)
	if derr.Failed() {
		return derr.AddFailed("netsock.Listen")
	}
	s.ln = ln
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.acceptDone = make(chan struct{})
	s.setState(StateRunning)

	s.logger.Info("listening", "addr", ln.Addr().String(), "backlog", ln.Backlog())
	go s.acceptLoop(factory)
	return nil
}

// Stop closes the listener and asks every live session to finish. Requests
// already being processed run to completion. It does not wait; use Wait for
// that.
func (s *Server) Stop() *diag.Error {
	s.mu.Lock()
	if s.State() != StateRunning {
		st := s.State()
		s.mu.Unlock()
		return diag.Newf(diag.WrnObjNotInit, "stop requested while %s", st)
	}
	s.setState(StateStopping)
	s.cancel()
	derr := s.ln.Close()
	live := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Stop()
	}
	s.logger.Info("stopping", "sessions", len(live))
	if derr.Failed() {
		return derr.AddFailed("Listener.Close")
	}
	return nil
}

// Wait blocks until the accept loop and every session worker have exited.
func (s *Server) Wait() *diag.Error {
	s.mu.Lock()
	if s.State() == StateIdle {
		s.mu.Unlock()
		return diag.Newf(diag.ErrObjNotInit, "server was never started")
	}
	done := s.acceptDone
	s.mu.Unlock()

	<-done
	s.workers.Wait()

	s.mu.Lock()
	if s.State() != StateStopped {
		s.setState(StateStopped)
		s.logger.Info("stopped")
	}
	s.mu.Unlock()
	return nil
}

func (s *Server) acceptLoop(factory Factory) {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}
		if s.sem != nil {
			if err := s.sem.Acquire(s.ctx, 1); err != nil {
				return
			}
		}

		conn, derr := s.ln.Accept()
		if derr.Failed() {
			s.release()
			if s.ctx.Err() != nil || derr.Code() == diag.ErrNetConnectionAborted {
				return
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", "err", derr, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-s.ctx.Done():
				return
			}
		}
		backoff = 0
		s.spawn(factory, conn)
	}
}

func (s *Server) spawn(factory Factory, conn *netsock.Conn) {
	id := uuid.New().String()
	sess := factory(conn, id)

	s.mu.Lock()
	if s.State() != StateRunning {
		s.mu.Unlock()
		conn.Close()
		s.release()
		return
	}
	s.sessions[id] = sess
	s.workers.Add(1)
	s.mu.Unlock()

	go s.run(sess, conn)
}

func (s *Server) run(sess Session, conn *netsock.Conn) {
	started := time.Now()
	remote := conn.RemoteAddr().String()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.sessions, sess.ID())
		s.mu.Unlock()
		s.release()
		if s.cfg.Hooks.OnSessionClose != nil {
			s.cfg.Hooks.OnSessionClose(sess, time.Since(started))
		}
		s.workers.Done()
	}()

	if s.cfg.Hooks.OnSessionOpen != nil {
		s.cfg.Hooks.OnSessionOpen(sess, remote)
	}

	derr := s.do(sess)
	if derr.Failed() {
		s.logger.Debug("session failed", "session_id", sess.ID(), "remote_addr", remote, "err", derr)
		if s.cfg.Hooks.OnSessionError != nil {
			s.cfg.Hooks.OnSessionError(sess, derr)
		}
	}
}

// do runs the session and turns a panic into a diagnostic so one broken
// session cannot take the process down. Socket faults are re-raised.
// Sessions get a context that Stop does not cancel: they wind down through
// Session.Stop at their next safe point, and in-flight work completes.
func (s *Server) do(sess Session) (derr *diag.Error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*netsock.Fault); ok {
			panic(f)
		}
		derr = diag.Newf(diag.ErrUnknown, "session panicked: %v", r)
	}()
	return sess.Do(context.WithoutCancel(s.ctx))
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
