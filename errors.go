package vmhttp

// Reserved frame ids for internal use.
const (
	// CmdJSONRPC is reserved for JSON-RPC 2.0 messages
	CmdJSONRPC uint32 = 0xFFFFFFFF
)

// Monitor events.
const (
	EventSessionOpened uint32 = 0x01
	EventSessionClosed uint32 = 0x02
	EventRequestServed uint32 = 0x03
	EventDiagnostic    uint32 = 0x04
	EventServerState   uint32 = 0x05
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "Invalid message format"
	ErrParseError           = "Parse error"
	ErrInvalidRequest       = "Invalid Request"
	ErrMethodNotFound       = "Method not found"
	ErrInternalError        = "Internal error"
	ErrRateLimitExceeded    = "Rate limit exceeded"

	// Connection errors
	ErrConnectionClosed  = "observer connection is closed"
	ErrContextCancelled  = "observer context cancelled"
	ErrFailedToEncode    = "failed to encode message"
	ErrFailedToDecode    = "failed to decode message"
	ErrQueueFull         = "observer queue is full"
	ErrPayloadTooLarge   = "payload exceeds maximum size"
	ErrDataTooShort      = "data too short"
	ErrMonitorRunning    = "monitor already running"
	ErrServerRunning     = "server already running"
	ErrServerStartFailed = "server failed to start"

	// Configuration errors
	ErrConfigRead    = "failed to read config file"
	ErrConfigDecode  = "failed to decode config file"
	ErrConfigInvalid = "invalid configuration"
	ErrEnvInvalid    = "invalid environment variable"
)

// JSON-RPC 2.0 error codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// JSON-RPC version
const (
	JSONRPCVersion = "2.0"
)
