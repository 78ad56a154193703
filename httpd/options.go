package httpd

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/luciancaetano/vmhttp/internal/config"
	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/dispatch"
	"github.com/luciancaetano/vmhttp/internal/engine"
	"github.com/luciancaetano/vmhttp/internal/httpsession"
	"github.com/luciancaetano/vmhttp/internal/metrics"
	"github.com/luciancaetano/vmhttp/internal/monitor"
)

type Config = config.Config
type Request = httpsession.Request
type Response = httpsession.Response
type Error = diag.Error
type ResultMapper = dispatch.ResultMapper
type ErrorHandler = httpsession.ErrorHandler
type CheckOriginFn = monitor.CheckOriginFn
type MonitorRateLimitConfig = monitor.RateLimitConfig
type EngineStats = engine.Stats
type MetricsSnapshot = metrics.Snapshot

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads path (optional) over the defaults and applies VMHTTP_*
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultMapper writes {"result": <output>}.
func DefaultMapper(req *Request, out json.RawMessage, resp *Response) *Error {
	return dispatch.DefaultMapper(req, out, resp)
}

// AllOrigins accepts monitor connections from any origin (development only).
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

type Option func(*options)

type options struct {
	logger       *slog.Logger
	mapper       ResultMapper
	onError      ErrorHandler
	checkOrigin  CheckOriginFn
	monitorLimit *MonitorRateLimitConfig
}

// WithLogger replaces the logger built from Config.Log.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResultMapper replaces the writer of successful script results.
func WithResultMapper(m ResultMapper) Option {
	return func(o *options) { o.mapper = m }
}

// WithErrorHandler replaces the JSON error body writer.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// WithCheckOrigin sets the monitor's WebSocket origin check.
func WithCheckOrigin(fn CheckOriginFn) Option {
	return func(o *options) { o.checkOrigin = fn }
}

// WithMonitorRateLimit sets the inbound message limit for observers.
func WithMonitorRateLimit(cfg *MonitorRateLimitConfig) Option {
	return func(o *options) { o.monitorLimit = cfg }
}
