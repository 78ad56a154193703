package netsock

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/luciancaetano/vmhttp/internal/diag"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// pair returns a server-side Conn and the raw client connection.
func pair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	l, derr := Listen("127.0.0.1", freePort(t), DefaultBacklog)
	if derr != nil {
		t.Fatalf("Listen() = %v", derr)
	}
	t.Cleanup(func() { l.Close() })

	client, err := net.Dial("tcp4", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	conn, derr := l.Accept()
	if derr != nil {
		t.Fatalf("Accept() = %v", derr)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, client
}

func TestListenRejectsBadArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		port    int
		backlog int
		want    diag.Code
	}{
		{"hostname", "localhost", 8080, 10, diag.ErrNetAddressInvalid},
		{"ipv6 literal", "::1", 8080, 10, diag.ErrNetAddressInvalid},
		{"octet overflow", "256.1.1.1", 8080, 10, diag.ErrNetAddressInvalid},
		{"empty", "", 8080, 10, diag.ErrNetAddressInvalid},
		{"zero port", "127.0.0.1", 0, 10, diag.ErrNetAddressInvalid},
		{"negative port", "127.0.0.1", -1, 10, diag.ErrNetAddressInvalid},
		{"port overflow", "127.0.0.1", 70000, 10, diag.ErrNetAddressInvalid},
		{"zero backlog", "127.0.0.1", 8080, 0, diag.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, derr := Listen(tt.address, tt.port, tt.backlog)
			if l != nil {
				l.Close()
				t.Fatal("Listen() returned a listener")
			}
			if derr.Code() != tt.want {
				t.Errorf("Listen() code = %v, want %v", derr.Code(), tt.want)
			}
		})
	}
}

func TestListenAddressInUse(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	l, derr := Listen("127.0.0.1", port, DefaultBacklog)
	if derr != nil {
		t.Fatalf("Listen() = %v", derr)
	}
	defer l.Close()

	_, derr = Listen("127.0.0.1", port, DefaultBacklog)
	if derr.Code() != diag.ErrNetAddressInUse {
		t.Errorf("second Listen() code = %v, want %v", derr.Code(), diag.ErrNetAddressInUse)
	}
}

func TestAcceptAfterCloseIsAborted(t *testing.T) {
	t.Parallel()

	l, derr := Listen("127.0.0.1", freePort(t), DefaultBacklog)
	if derr != nil {
		t.Fatalf("Listen() = %v", derr)
	}

	done := make(chan *diag.Error, 1)
	go func() {
		_, derr := l.Accept()
		done <- derr
	}()

	if derr := l.Close(); derr != nil {
		t.Fatalf("Close() = %v", derr)
	}
	if derr := l.Close(); derr != nil {
		t.Fatalf("second Close() = %v", derr)
	}

	select {
	case derr := <-done:
		if derr.Code() != diag.ErrNetConnectionAborted {
			t.Errorf("Accept() code = %v, want %v", derr.Code(), diag.ErrNetConnectionAborted)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Accept() did not return after Close()")
	}
}

func TestReadTimeout(t *testing.T) {
	t.Parallel()

	conn, _ := pair(t)
	buf := make([]byte, 16)
	n, derr := conn.Read(buf, 50*time.Millisecond)
	if n != 0 {
		t.Errorf("Read() n = %d, want 0", n)
	}
	if derr.Code() != diag.ErrTimeout {
		t.Errorf("Read() code = %v, want %v", derr.Code(), diag.ErrTimeout)
	}
}

func TestReadAfterPeerClose(t *testing.T) {
	t.Parallel()

	conn, client := pair(t)
	client.Close()

	_, derr := conn.Read(make([]byte, 16), time.Second)
	if derr.Code() != diag.ErrNetConnectionClosed {
		t.Errorf("Read() code = %v, want %v", derr.Code(), diag.ErrNetConnectionClosed)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	conn, client := pair(t)
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write() = %v", err)
	}

	buf := make([]byte, 4)
	n, derr := conn.Read(buf, time.Second)
	if derr != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read() = %q, %v", buf[:n], derr)
	}

	if _, derr := conn.Write([]byte("pong"), time.Second); derr != nil {
		t.Fatalf("Write() = %v", derr)
	}
	if derr := conn.CloseWrite(); derr != nil {
		t.Fatalf("CloseWrite() = %v", derr)
	}
	got, err := io.ReadAll(client)
	if err != nil || string(got) != "pong" {
		t.Errorf("client read = %q, %v", got, err)
	}
}

func TestWaitReadable(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		conn, _ := pair(t)
		if derr := conn.WaitReadable(50 * time.Millisecond); derr.Code() != diag.ErrTimeout {
			t.Errorf("WaitReadable() code = %v, want %v", derr.Code(), diag.ErrTimeout)
		}
	})

	t.Run("data is not consumed", func(t *testing.T) {
		t.Parallel()
		conn, client := pair(t)
		client.Write([]byte("x"))
		if derr := conn.WaitReadable(time.Second); derr != nil {
			t.Fatalf("WaitReadable() = %v", derr)
		}
		buf := make([]byte, 1)
		if n, derr := conn.Read(buf, time.Second); n != 1 || buf[0] != 'x' {
			t.Errorf("Read() after wait = %q, %v", buf[:n], derr)
		}
	})

	t.Run("peer close", func(t *testing.T) {
		t.Parallel()
		conn, client := pair(t)
		client.Close()
		if derr := conn.WaitReadable(time.Second); derr.Code() != diag.ErrNetConnectionClosed {
			t.Errorf("WaitReadable() code = %v, want %v", derr.Code(), diag.ErrNetConnectionClosed)
		}
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want diag.Code
	}{
		{"nil", nil, diag.Ok},
		{"eof", io.EOF, diag.ErrNetConnectionClosed},
		{"deadline", fmt.Errorf("read: %w", os.ErrDeadlineExceeded), diag.ErrTimeout},
		{"closed", net.ErrClosed, diag.ErrNetConnectionAborted},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, diag.ErrNetConnectionReset},
		{"pipe", syscall.EPIPE, diag.ErrNetConnectionReset},
		{"in use", syscall.EADDRINUSE, diag.ErrNetAddressInUse},
		{"emfile", syscall.EMFILE, diag.ErrInsufficientResources},
		{"other", errors.New("boom"), diag.ErrFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapErrorKeepsCause(t *testing.T) {
	t.Parallel()

	derr := MapError(syscall.ECONNREFUSED)
	if derr.Code() != diag.ErrNetConnectionRefused {
		t.Errorf("code = %v, want %v", derr.Code(), diag.ErrNetConnectionRefused)
	}
	if !errors.Is(derr, syscall.ECONNREFUSED) {
		t.Error("cause lost")
	}
	if MapError(nil) != nil {
		t.Error("MapError(nil) != nil")
	}
}
