// Package vmhttp provides an HTTP server that answers every request by running
// a sandboxed JavaScript program.
//
// The server is built from three layers: a socket layer with errno
// classification, a connection server that runs one worker per accepted
// connection, and an HTTP/1.x session state machine on top of it. Every
// layer reports failures with the diagnostic model of internal/diag: a
// numeric code classified as error or warning, plus a trail of context
// messages accumulated while the failure travels up.
//
// # Quick Start
//
//	import "github.com/luciancaetano/vmhttp/httpd"
//
//	cfg := httpd.DefaultConfig()
//	cfg.Server.Port = 8080
//	cfg.Engine.ImagesDir = "./images"
//
//	server, err := httpd.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := server.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	<-ctx.Done()
//	server.Wait()
//
// # Routes
//
// Only POST is served; any other method is answered with 405 and
// "Allow: POST".
//
//	POST /                      contract protocol (compile, cmdrun)
//	POST /run/<image>           runs <images_dir>/<image>.js
//	POST /run/<image>/<script>  runs the image, then <scripts_dir>/<script>.js
//
// A JSON request body is available to scripts as the global input. The
// completion value of the last program is returned as {"result": ...}.
//
// # Errors
//
// A failed request is answered with a JSON body:
//
//	{"request_id": "...", "error": {"code": 2147487747, "name": "errAccessDenied", "message": "..."}}
//
// The status is derived from the code: 400 for malformed requests and JSON
// errors, 403 for paths escaping their directory, 404 for unknown routes and
// files, 408 on read timeouts, 413 for oversized bodies, 429 when the
// per-connection rate limit is hit, 431 for oversized headers, 501 for
// unsupported features and 500 otherwise.
// Protocol errors close the connection after the response; script failures
// keep it open.
//
// # Monitor
//
// When enabled, a second listener serves:
//
//	GET /events   WebSocket event feed
//	GET /metrics  metrics snapshot as JSON
//	GET /healthz  liveness probe
//
// Event frames use a command pattern binary format:
//
//	[4 bytes: event id (uint32, big-endian)][N bytes: msgpack payload]
//
// JSON-RPC 2.0 requests (server.status, metrics.snapshot) travel on the same
// connection with the reserved id 0xFFFFFFFF.
//
// # Limits
//
//   - Request body: 256 KiB by default (max_body_size)
//   - Request head: 16 KiB by default (max_header_size)
//   - Script execution: 5s by default (exec_timeout)
//   - Monitor payload: 1 MiB
//   - Per-connection and per-observer rate limiting with token buckets
package vmhttp
