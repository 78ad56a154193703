// Package monitor serves the operator event feed: a WebSocket endpoint that
// pushes server events, JSON-RPC status methods on the same connection, and
// plain HTTP metrics and health endpoints.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/vmhttp"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/metrics"
	"github.com/luciancaetano/vmhttp/internal/protocol"
)

// CheckOriginFn validates the origin of a WebSocket upgrade request.
type CheckOriginFn = func(r *http.Request) bool

// OnConnectFn is called after the handshake, before the read loop starts.
type OnConnectFn = func(o vmhttp.Observer)

// OnDisconnectFn is called when an observer goes away. voluntary is true when
// the peer closed the connection.
type OnDisconnectFn = func(o vmhttp.Observer, voluntary bool)

// JSONRPCHandler answers one JSON-RPC method.
type JSONRPCHandler = func(params map[string]any) (any, error)

type Config struct {
	Address      string
	RateLimit    *RateLimitConfig
	CheckOrigin  CheckOriginFn
	OnConnect    OnConnectFn
	OnDisconnect OnDisconnectFn
	// Metrics backs /metrics and metrics.snapshot when set.
	Metrics *metrics.Metrics
	// Status backs server.status when set.
	Status func() any
	Logger *slog.Logger
}

// RateLimitConfig limits inbound observer messages
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages an observer can send per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig allows 10 messages per second with a burst of 20.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 10,
		Burst:             20,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// Server implements vmhttp.Monitor
type Server struct {
	addr      string
	server    *http.Server
	ln        net.Listener
	observers sync.Map // map[string]*Observer

	jsonRPCHandlers sync.Map // map[string]JSONRPCHandler

	rateLimitConfig *RateLimitConfig
	metrics         *metrics.Metrics

	mu           sync.RWMutex
	running      bool
	stopWatch    func() bool
	upgrader     websocket.Upgrader
	onConnect    OnConnectFn
	onDisconnect OnDisconnectFn
	logger       *slog.Logger
}

var _ vmhttp.Monitor = (*Server)(nil)

// New creates a monitor. A nil RateLimit uses DefaultRateLimitConfig; a nil
// CheckOrigin accepts same-origin requests only.
func New(cfg *Config) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = DefaultRateLimitConfig()
	}
	s := &Server{
		addr:            cfg.Address,
		rateLimitConfig: cfg.RateLimit,
		metrics:         cfg.Metrics,
		onConnect:       cfg.OnConnect,
		onDisconnect:    cfg.OnDisconnect,
		logger:          logging.Or(cfg.Logger).With("component", "monitor"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}

	if cfg.Metrics != nil {
		s.RegisterJSONRPCHandler("metrics.snapshot", func(map[string]any) (any, error) {
			return cfg.Metrics.Snapshot(), nil
		})
	}
	if cfg.Status != nil {
		s.RegisterJSONRPCHandler("server.status", func(map[string]any) (any, error) {
			return cfg.Status(), nil
		})
	}
	return s
}

// Start binds the monitor address and serves in the background. The monitor
// stops when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New(vmhttp.ErrMonitorRunning)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitor listen on %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.ln = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("monitor stopped", "err", err)
		}
	}()

	s.stopWatch = context.AfterFunc(ctx, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(stopCtx)
	})
	s.logger.Info("monitor listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes every observer and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.stopWatch != nil {
		s.stopWatch()
	}
	srv := s.server
	s.mu.Unlock()

	s.observers.Range(func(_, value any) bool {
		if o, ok := value.(*Observer); ok {
			o.CloseWithCode(ctx, websocket.CloseGoingAway, "monitor stopping")
		}
		return true
	})

	return srv.Shutdown(ctx)
}

// Observers returns the number of connected observers.
func (s *Server) Observers() int {
	n := 0
	s.observers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *Server) RegisterJSONRPCHandler(method string, handler JSONRPCHandler) error {
	if method == "" || handler == nil {
		return errors.New(vmhttp.ErrInvalidRequest)
	}
	s.jsonRPCHandlers.Store(method, handler)
	return nil
}

// Publish frames v as event and offers it to every observer.
func (s *Server) Publish(event uint32, v any) error {
	frame, err := protocol.EncodeEvent(event, v)
	if err != nil {
		return err
	}
	s.observers.Range(func(_, value any) bool {
		if o, ok := value.(*Observer); ok {
			if err := o.offer(frame); err != nil {
				s.logger.Debug("event not delivered", "observer_id", o.ID(), "event", event, "err", err)
			}
		}
		return true
	})
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	o := NewObserver(conn, r.RemoteAddr, s.rateLimitConfig)
	s.observers.Store(o.ID(), o)
	s.logger.Debug("observer connected", "observer_id", o.ID(), "remote_addr", o.RemoteAddr())

	go s.handleObserver(o)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var snapshot metrics.Snapshot
	if s.metrics != nil {
		snapshot = s.metrics.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Debug("metrics write failed", "err", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// handleObserver runs the read loop of one observer.
func (s *Server) handleObserver(o *Observer) {
	voluntary := false
	defer func() {
		if s.onDisconnect != nil {
			s.onDisconnect(o, voluntary)
		}
		s.observers.Delete(o.ID())
		o.Close(context.Background())
	}()

	o.conn.SetReadDeadline(time.Now().Add(readTimeout))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	if s.onConnect != nil {
		s.onConnect(o)
	}

	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			voluntary = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("unexpected observer close", "observer_id", o.ID(), "err", err)
			}
			return
		}
		o.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !o.CheckRateLimit() {
			s.logger.Warn("observer rate limit exceeded", "observer_id", o.ID(), "remote_addr", o.RemoteAddr())
			o.CloseWithCode(context.Background(), websocket.ClosePolicyViolation, vmhttp.ErrRateLimitExceeded)
			return
		}

		id, payload, err := protocol.Decode(data)
		if err != nil {
			o.CloseWithCode(context.Background(), websocket.CloseProtocolError, vmhttp.ErrInvalidMessageFormat)
			return
		}

		// Observers only talk JSON-RPC; other frames are ignored.
		if id == vmhttp.CmdJSONRPC {
			go s.handleJSONRPCMessage(o, payload)
		}
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) handleJSONRPCMessage(o *Observer, payload []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendJSONRPCError(o, nil, vmhttp.JSONRPCParseError, vmhttp.ErrParseError)
		return
	}

	if req.JSONRPC != vmhttp.JSONRPCVersion {
		s.sendJSONRPCError(o, req.ID, vmhttp.JSONRPCInvalidRequest, vmhttp.ErrInvalidRequest)
		return
	}

	handler, ok := s.jsonRPCHandlers.Load(req.Method)
	if !ok {
		s.sendJSONRPCError(o, req.ID, vmhttp.JSONRPCMethodNotFound, vmhttp.ErrMethodNotFound)
		return
	}

	result, err := handler.(JSONRPCHandler)(req.Params)
	if err != nil {
		s.sendJSONRPCError(o, req.ID, vmhttp.JSONRPCInternalError, err.Error())
		return
	}

	s.sendJSONRPC(o, JSONRPCResponse{JSONRPC: vmhttp.JSONRPCVersion, Result: result, ID: req.ID})
}

func (s *Server) sendJSONRPCError(o *Observer, id any, code int, message string) {
	s.sendJSONRPC(o, JSONRPCResponse{
		JSONRPC: vmhttp.JSONRPCVersion,
		Error:   &JSONRPCError{Code: code, Message: message},
		ID:      id,
	})
}

func (s *Server) sendJSONRPC(o *Observer, resp JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal JSON-RPC response", "err", err)
		if resp.Error != nil {
			return
		}
		s.sendJSONRPCError(o, resp.ID, vmhttp.JSONRPCInternalError, vmhttp.ErrInternalError)
		return
	}

	ctx, cancel := context.WithTimeout(o.Context(), writeTimeout)
	defer cancel()
	if err := o.Send(ctx, vmhttp.CmdJSONRPC, data); err != nil {
		s.logger.Debug("JSON-RPC response not sent", "observer_id", o.ID(), "err", err)
	}
}
