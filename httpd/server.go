package httpd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/vmhttp"
	"github.com/luciancaetano/vmhttp/internal/contract"
	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/dispatch"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/httpsession"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/metrics"
	"github.com/luciancaetano/vmhttp/internal/monitor"
	"github.com/luciancaetano/vmhttp/internal/protocol"
	"github.com/luciancaetano/vmhttp/internal/tcpserver"
	"github.com/luciancaetano/vmhttp/internal/version"
)

const monitorStopTimeout = 5 * time.Second

// Status is the answer of the monitor's server.status method.
type Status struct {
	State         string      `json:"state"`
	Addr          string      `json:"addr,omitempty"`
	Sessions      int         `json:"sessions"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Version       string      `json:"version"`
	Engine        EngineStats `json:"engine"`
}

// Server assembles the script engine, the contract runner, the dispatch
// adapter, the connection server and the optional monitor.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	logFile io.Closer

	engine  *engine.Engine
	adapter *dispatch.Adapter
	metrics *metrics.Metrics
	tcp     *tcpserver.Server
	monitor *monitor.Server
	factory tcpserver.Factory

	mu        sync.Mutex
	started   time.Time
	stopWatch func() bool
	closeOnce sync.Once
}

var _ vmhttp.Server = (*Server)(nil)

// New validates cfg and wires every component. Nothing is bound until
// Start.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", vmhttp.ErrConfigInvalid, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, metrics: metrics.New()}
	if o.logger != nil {
		s.logger = o.logger
	} else {
		logger, closer, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		s.logger, s.logFile = logger, closer
	}

	s.engine = engine.New(engine.Config{
		ExecTimeout: cfg.Engine.ExecTimeout.Duration,
		MaxImages:   cfg.Engine.MaxImages,
		Logger:      s.logger,
	})
	runner := contract.NewRunner(s.engine, s.logger)
	s.adapter = dispatch.New(dispatch.Config{
		ImagesDir:   cfg.Engine.ImagesDir,
		ScriptsDir:  cfg.Engine.ScriptsDir,
		ExposeTrail: cfg.Engine.ExposeTrail,
		Mapper:      o.mapper,
		Logger:      s.logger,
	}, s.engine, runner)

	onError := o.onError
	if onError == nil {
		onError = dispatch.ErrorBody(cfg.Engine.ExposeTrail)
	}
	s.factory = httpsession.NewFactory(httpsession.Config{
		ServerName:        cfg.Server.Name,
		MaxBodySize:       cfg.Session.MaxBodySize,
		MaxHeaderSize:     cfg.Session.MaxHeaderSize,
		ReadTimeout:       cfg.Session.ReadTimeout.Duration,
		WriteTimeout:      cfg.Session.WriteTimeout.Duration,
		IdleTimeout:       cfg.Session.IdleTimeout.Duration,
		KeepAlive:         cfg.Session.KeepAlive,
		MaxRequests:       cfg.Session.MaxRequests,
		RequestsPerSecond: rate.Limit(cfg.Session.RequestsPerSecond),
		Burst:             cfg.Session.Burst,
		Logger:            s.logger,
		OnRequest:         s.onRequest,
	}, s.adapter, onError)

	acceptLimit := tcpserver.NoRateLimit()
	if cfg.Server.AcceptRate > 0 {
		acceptLimit = &tcpserver.RateLimitConfig{
			ConnectionsPerSecond: rate.Limit(cfg.Server.AcceptRate),
			Burst:                max(cfg.Server.AcceptBurst, 1),
			Enabled:              true,
		}
	}
	s.tcp = tcpserver.New(tcpserver.Config{
		Address:     cfg.Server.Address,
		Backlog:     cfg.Server.Backlog,
		MaxSessions: cfg.Server.MaxSessions,
		RateLimit:   acceptLimit,
		Logger:      s.logger,
		Hooks: tcpserver.Hooks{
			OnSessionOpen:  s.onSessionOpen,
			OnSessionError: s.onSessionError,
			OnSessionClose: s.onSessionClose,
			OnStateChange:  s.onStateChange,
		},
	})

	if cfg.Monitor.Enabled {
		s.monitor = monitor.New(&monitor.Config{
			Address:     cfg.Monitor.Address,
			RateLimit:   o.monitorLimit,
			CheckOrigin: o.checkOrigin,
			OnConnect: func(ob vmhttp.Observer) {
				s.logger.Info("observer connected", "observer_id", ob.ID(), "remote_addr", ob.RemoteAddr())
			},
			OnDisconnect: func(ob vmhttp.Observer, voluntary bool) {
				s.logger.Info("observer disconnected", "observer_id", ob.ID(), "voluntary", voluntary)
			},
			Metrics: s.metrics,
			Status:  func() any { return s.Status() },
			Logger:  s.logger,
		})
	}
	return s, nil
}

// Start binds the HTTP listener, then the monitor when enabled. The server
// stops by itself when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if derr := s.tcp.Start(s.cfg.Server.Port, s.factory); derr.Failed() {
		return fmt.Errorf("%s: %w", vmhttp.ErrServerStartFailed, derr)
	}
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	if s.monitor != nil {
		if err := s.monitor.Start(ctx); err != nil {
			s.tcp.Stop()
			s.tcp.Wait()
			return fmt.Errorf("%s: %w", vmhttp.ErrServerStartFailed, err)
		}
	}

	s.mu.Lock()
	s.stopWatch = context.AfterFunc(ctx, func() {
		if err := s.Stop(); err != nil {
			s.logger.Error("stop after cancellation failed", "err", err)
		}
	})
	s.mu.Unlock()
	return nil
}

// Stop closes the listener, waits for every session to finish and then
// shuts the monitor down. Stopping a server that is not running is a no-op.
func (s *Server) Stop() error {
	derr := s.tcp.Stop()
	if derr.Failed() {
		return derr
	}
	if derr != nil {
		s.logger.Debug("stop ignored", "err", derr)
	}
	if s.tcp.State() != tcpserver.StateIdle {
		if werr := s.tcp.Wait(); werr.Failed() {
			return werr
		}
	}

	var err error
	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), monitorStopTimeout)
		err = s.monitor.Stop(ctx)
		cancel()
	}
	if s.tcp.State() == tcpserver.StateStopped {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			if s.stopWatch != nil {
				s.stopWatch()
			}
			s.mu.Unlock()
			if s.logFile != nil {
				s.logFile.Close()
			}
		})
	}
	return err
}

// Wait blocks until the server has stopped. It fails on a server that was
// never started.
func (s *Server) Wait() error {
	if derr := s.tcp.Wait(); derr.Failed() {
		return derr
	}
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.tcp.Addr()
}

// MonitorAddr returns the monitor's bound address, or nil when the monitor
// is disabled or not started.
func (s *Server) MonitorAddr() net.Addr {
	if s.monitor == nil {
		return nil
	}
	return s.monitor.Addr()
}

func (s *Server) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

func (s *Server) Status() Status {
	st := Status{
		State:    s.tcp.State().String(),
		Sessions: s.tcp.Sessions(),
		Version:  version.Current().Version,
		Engine:   s.engine.Stats(),
	}
	if addr := s.tcp.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	s.mu.Lock()
	if !s.started.IsZero() {
		st.UptimeSeconds = time.Since(s.started).Seconds()
	}
	s.mu.Unlock()
	return st
}

func (s *Server) publish(event uint32, v any) {
	if s.monitor == nil {
		return
	}
	if err := s.monitor.Publish(event, v); err != nil {
		s.logger.Debug("publish failed", "event", event, "err", err)
	}
}

func (s *Server) onRequest(req *httpsession.Request, resp *httpsession.Response, elapsed time.Duration, derr *diag.Error) {
	route := dispatch.Route(req.Path)
	s.metrics.RecordRequest(route, resp.Status, elapsed, req.Size, resp.Written())

	ev := protocol.RequestServed{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Method:    req.Method,
		Path:      req.Path,
		Route:     route,
		Status:    resp.Status,
		Duration:  elapsed.Microseconds(),
	}
	if derr.Failed() {
		s.metrics.RecordError(derr.Name())
		ev.Error = derr.Name()
	}
	s.publish(vmhttp.EventRequestServed, ev)
}

func (s *Server) onSessionOpen(sess tcpserver.Session, remoteAddr string) {
	s.metrics.ConnectionOpened()
	s.publish(vmhttp.EventSessionOpened, protocol.SessionOpened{
		SessionID:  sess.ID(),
		RemoteAddr: remoteAddr,
		At:         time.Now().UnixMilli(),
	})
}

// onSessionError reports the failure that ended a session. Request-level
// failures were already counted by onRequest.
func (s *Server) onSessionError(sess tcpserver.Session, derr *diag.Error) {
	s.logger.Debug("session ended with failure", "session_id", sess.ID(), "err", derr)
	s.publish(vmhttp.EventDiagnostic, protocol.NewDiagnostic(sess.ID(), derr))
}

func (s *Server) onSessionClose(sess tcpserver.Session, elapsed time.Duration) {
	s.metrics.ConnectionClosed()
	ev := protocol.SessionClosed{
		SessionID: sess.ID(),
		Duration:  elapsed.Microseconds(),
	}
	if hs, ok := sess.(*httpsession.Session); ok {
		ev.Served = hs.Served()
	}
	s.publish(vmhttp.EventSessionClosed, ev)
}

// onStateChange runs with the connection server's lock held; it must not
// call back into s.tcp.
func (s *Server) onStateChange(state tcpserver.State) {
	s.publish(vmhttp.EventServerState, protocol.ServerState{
		State: state.String(),
		At:    time.Now().UnixMilli(),
	})
}
