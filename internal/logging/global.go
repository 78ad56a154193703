package logging

import (
	"log/slog"
	"sync/atomic"
)

var global atomic.Pointer[slog.Logger]

func init() {
	global.Store(slog.Default())
}

func SetGlobal(l *slog.Logger) {
	if l == nil {
		return
	}
	global.Store(l)
}

func Global() *slog.Logger {
	return global.Load()
}

// Or returns l, or the global logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Global()
}
