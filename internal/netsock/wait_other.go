//go:build !unix

package netsock

import (
	"time"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

// WaitReadable has no peek primitive here; the following Read applies the
// timeout itself.
func (c *Conn) WaitReadable(timeout time.Duration) *diag.Error {
	return nil
}
