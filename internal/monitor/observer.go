package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/vmhttp"
	"github.com/luciancaetano/vmhttp/internal/protocol"
)

const (
	pingPeriod   = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	queueSize    = 256
)

// Observer implements vmhttp.Observer
type Observer struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	ctx         context.Context
	cancel      context.CancelFunc
	sendCh      chan []byte
	mu          sync.RWMutex
	closed      bool
	rateLimiter *rate.Limiter // nil when rate limiting is disabled
	dropped     atomic.Int64
}

var _ vmhttp.Observer = (*Observer)(nil)

// NewObserver wraps an upgraded connection and starts its write pump.
func NewObserver(conn *websocket.Conn, remoteAddr string, rateLimitConfig *RateLimitConfig) *Observer {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rateLimitConfig != nil && rateLimitConfig.Enabled {
		limiter = rate.NewLimiter(rateLimitConfig.MessagesPerSecond, rateLimitConfig.Burst)
	}

	o := &Observer{
		id:          uuid.New().String(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		ctx:         ctx,
		cancel:      cancel,
		sendCh:      make(chan []byte, queueSize),
		rateLimiter: limiter,
	}

	go o.writePump()

	return o
}

func (o *Observer) ID() string { return o.id }

func (o *Observer) RemoteAddr() string { return o.remoteAddr }

func (o *Observer) Context() context.Context { return o.ctx }

// Dropped returns how many published events did not fit in the queue.
func (o *Observer) Dropped() int64 { return o.dropped.Load() }

// Send encodes and queues a frame, waiting for room in the queue.
func (o *Observer) Send(ctx context.Context, event uint32, payload []byte) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("%s: %w", vmhttp.ErrFailedToEncode, err)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return errors.New(vmhttp.ErrConnectionClosed)
	}

	// The read lock is held while sending so Close cannot close sendCh
	// underneath.
	select {
	case o.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return errors.New(vmhttp.ErrContextCancelled)
	}
}

// offer queues an already framed message without waiting.
func (o *Observer) offer(frame []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return errors.New(vmhttp.ErrConnectionClosed)
	}

	select {
	case o.sendCh <- frame:
		return nil
	default:
		o.dropped.Add(1)
		return errors.New(vmhttp.ErrQueueFull)
	}
}

func (o *Observer) Close(ctx context.Context) error {
	return o.CloseWithCode(ctx, websocket.CloseNormalClosure, "")
}

// CloseWithCode sends a close frame with code and reason, then closes the
// connection.
func (o *Observer) CloseWithCode(ctx context.Context, code int, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}

	o.closed = true
	o.cancel()

	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	o.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	close(o.sendCh)
	return o.conn.Close()
}

func (o *Observer) IsAlive() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return !o.closed
}

// CheckRateLimit reports whether one more inbound message is allowed.
func (o *Observer) CheckRateLimit() bool {
	if o.rateLimiter == nil {
		return true
	}
	return o.rateLimiter.Allow()
}

// writePump moves queued frames to the connection and pings the peer.
func (o *Observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case message, ok := <-o.sendCh:
			if !ok {
				return
			}
			o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-o.ctx.Done():
			return
		}
	}
}
