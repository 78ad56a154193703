package vmhttp

import (
	"context"
	"net"
)

// Server is an HTTP server that runs a script for every request.
//
// Example usage:
//
//	import "github.com/luciancaetano/vmhttp/httpd"
//
//	cfg := httpd.DefaultConfig()
//	cfg.Engine.ImagesDir = "./images"
//	server, err := httpd.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer server.Stop()
//	server.Wait()
type Server interface {
	// Start binds the listening socket and begins accepting connections in
	// the background. It returns once the socket is bound.
	//
	// Returns an error if the server is already running or if the address
	// cannot be bound.
	Start(ctx context.Context) error

	// Stop stops accepting connections, asks every session to finish its
	// current request and waits for them. Stopping a server that is not
	// running is not an error.
	Stop() error

	// Wait blocks until the server has stopped.
	Wait() error

	// Addr returns the bound address, or nil before Start.
	Addr() net.Addr
}

// Monitor is the operator-facing event feed. Observers connect over
// WebSocket and receive binary frames:
//
//	[4 bytes: event id (uint32, big-endian)][msgpack payload]
//
// JSON-RPC 2.0 requests may be sent on the same connection framed with the
// reserved id CmdJSONRPC.
type Monitor interface {
	// Start listens on the monitor address. It returns once the socket is
	// bound.
	Start(ctx context.Context) error

	// Stop closes every observer and shuts the monitor down.
	Stop(ctx context.Context) error

	// Publish encodes v as the payload of event and queues it for every
	// observer. It never blocks: an observer whose queue is full misses the
	// event.
	Publish(event uint32, v any) error

	// RegisterJSONRPCHandler registers a JSON-RPC 2.0 method.
	//
	// Example:
	//
	//	monitor.RegisterJSONRPCHandler("server.status", func(params map[string]any) (any, error) {
	//	    return map[string]string{"state": "running"}, nil
	//	})
	RegisterJSONRPCHandler(method string, handler func(params map[string]any) (any, error)) error
}

// Observer is a client connected to the monitor.
type Observer interface {
	// ID returns the identifier assigned when the observer connected.
	ID() string

	// RemoteAddr returns the observer's address, for example
	// "127.0.0.1:54321".
	RemoteAddr() string

	// Context is cancelled when the connection closes.
	Context() context.Context

	// Send queues one framed message for the observer.
	//
	// Returns an error if the connection is closed or ctx is cancelled.
	Send(ctx context.Context, event uint32, payload []byte) error

	// Close closes the connection with a normal closure.
	Close(ctx context.Context) error

	// CloseWithCode closes the connection with a WebSocket close code and an
	// optional reason.
	CloseWithCode(ctx context.Context, code int, reason string) error

	// IsAlive reports whether the connection is still open.
	IsAlive() bool
}
