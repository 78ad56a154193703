package protocol

import "github.com/luciancaetano/vmhttp/internal/diag"

// Payloads of the monitor events. Times are Unix milliseconds, durations
// microseconds.

type SessionOpened struct {
	SessionID  string `msgpack:"session_id" json:"session_id"`
	RemoteAddr string `msgpack:"remote_addr" json:"remote_addr"`
	At         int64  `msgpack:"at" json:"at"`
}

type SessionClosed struct {
	SessionID string `msgpack:"session_id" json:"session_id"`
	Served    int    `msgpack:"served" json:"served"`
	Duration  int64  `msgpack:"duration_us" json:"duration_us"`
}

type RequestServed struct {
	SessionID string `msgpack:"session_id" json:"session_id"`
	RequestID string `msgpack:"request_id" json:"request_id"`
	Method    string `msgpack:"method" json:"method"`
	Path      string `msgpack:"path" json:"path"`
	Route     string `msgpack:"route" json:"route"`
	Status    int    `msgpack:"status" json:"status"`
	Duration  int64  `msgpack:"duration_us" json:"duration_us"`
	// Error is the diagnostic name of a failed request.
	Error string `msgpack:"error,omitempty" json:"error,omitempty"`
}

// Diagnostic reports a failure that ended a session.
type Diagnostic struct {
	SessionID string         `msgpack:"session_id" json:"session_id"`
	Code      uint32         `msgpack:"code" json:"code"`
	Name      string         `msgpack:"name" json:"name"`
	Trail     []diag.Message `msgpack:"trail" json:"trail"`
}

// NewDiagnostic captures derr for sessionID.
func NewDiagnostic(sessionID string, derr *diag.Error) Diagnostic {
	return Diagnostic{
		SessionID: sessionID,
		Code:      uint32(derr.Code()),
		Name:      derr.Name(),
		Trail:     derr.Messages(),
	}
}

type ServerState struct {
	State string `msgpack:"state" json:"state"`
	At    int64  `msgpack:"at" json:"at"`
}
