package vmhttp_test

import (
	"testing"

	"github.com/luciancaetano/vmhttp"
)

func TestConstants(t *testing.T) {
	t.Parallel()

	t.Run("event ids", func(t *testing.T) {
		events := []uint32{
			vmhttp.EventSessionOpened,
			vmhttp.EventSessionClosed,
			vmhttp.EventRequestServed,
			vmhttp.EventDiagnostic,
			vmhttp.EventServerState,
		}
		seen := make(map[uint32]bool)
		for _, id := range events {
			if seen[id] {
				t.Errorf("event id %#x is used twice", id)
			}
			if id == vmhttp.CmdJSONRPC {
				t.Errorf("event id %#x collides with CmdJSONRPC", id)
			}
			seen[id] = true
		}
		if vmhttp.CmdJSONRPC != 0xFFFFFFFF {
			t.Errorf("CmdJSONRPC = %#x, want 0xFFFFFFFF", vmhttp.CmdJSONRPC)
		}
	})

	t.Run("error messages", func(t *testing.T) {
		messages := []struct {
			name  string
			value string
		}{
			{"ErrInvalidMessageFormat", vmhttp.ErrInvalidMessageFormat},
			{"ErrParseError", vmhttp.ErrParseError},
			{"ErrInvalidRequest", vmhttp.ErrInvalidRequest},
			{"ErrMethodNotFound", vmhttp.ErrMethodNotFound},
			{"ErrInternalError", vmhttp.ErrInternalError},
			{"ErrRateLimitExceeded", vmhttp.ErrRateLimitExceeded},
			{"ErrConnectionClosed", vmhttp.ErrConnectionClosed},
			{"ErrQueueFull", vmhttp.ErrQueueFull},
			{"ErrServerStartFailed", vmhttp.ErrServerStartFailed},
			{"ErrConfigInvalid", vmhttp.ErrConfigInvalid},
			{"ErrEnvInvalid", vmhttp.ErrEnvInvalid},
		}
		for _, tt := range messages {
			if tt.value == "" {
				t.Errorf("%s should not be empty", tt.name)
			}
		}
	})

	t.Run("JSON-RPC error codes", func(t *testing.T) {
		tests := []struct {
			name string
			got  int
			want int
		}{
			{"JSONRPCParseError", vmhttp.JSONRPCParseError, -32700},
			{"JSONRPCInvalidRequest", vmhttp.JSONRPCInvalidRequest, -32600},
			{"JSONRPCMethodNotFound", vmhttp.JSONRPCMethodNotFound, -32601},
			{"JSONRPCInvalidParams", vmhttp.JSONRPCInvalidParams, -32602},
			{"JSONRPCInternalError", vmhttp.JSONRPCInternalError, -32603},
		}
		for _, tt := range tests {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		}
		if vmhttp.JSONRPCVersion != "2.0" {
			t.Errorf("JSONRPCVersion = %v, want 2.0", vmhttp.JSONRPCVersion)
		}
	})
}
