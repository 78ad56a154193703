package tcpserver

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luciancaetano/vmhttp/internal/diag"
	"github.com/luciancaetano/vmhttp/internal/logging"
	"github.com/luciancaetano/vmhttp/internal/netsock"
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

// greeter writes a line, then behaves according to mode until stopped.
type greeter struct {
	id   string
	conn *netsock.Conn
	mode string
	stop chan struct{}
	once sync.Once
}

func (g *greeter) ID() string { return g.id }

func (g *greeter) Stop() { g.once.Do(func() { close(g.stop) }) }

func (g *greeter) Do(ctx context.Context) *diag.Error {
	if _, derr := g.conn.Write([]byte("hello\n"), time.Second); derr != nil {
		return derr
	}
	switch g.mode {
	case "fail":
		return diag.Newf(diag.ErrFailed, "processor failed")
	case "panic":
		panic("boom")
	case "drain":
		<-g.stop
		time.Sleep(50 * time.Millisecond)
		msg := "finished\n"
		if ctx.Err() != nil {
			msg = "cancelled\n"
		}
		_, derr := g.conn.Write([]byte(msg), time.Second)
		return derr
	}
	select {
	case <-g.stop:
	case <-ctx.Done():
	}
	return nil
}

func factory(mode string) Factory {
	return func(conn *netsock.Conn, id string) Session {
		return &greeter{id: id, conn: conn, mode: mode, stop: make(chan struct{})}
	}
}

func newTestServer(hooks Hooks) *Server {
	return New(Config{Address: "127.0.0.1", Logger: logging.Discard(), Hooks: hooks})
}

// greet dials the server and waits for the session's first line.
func greet(t *testing.T, s *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp4", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil || line != "hello\n" {
		t.Fatalf("greeting = %q, %v", line, err)
	}
	return c
}

func shutdown(t *testing.T, s *Server) {
	t.Helper()
	if derr := s.Stop(); derr.Failed() {
		t.Fatalf("Stop() = %v", derr)
	}
	done := make(chan *diag.Error, 1)
	go func() { done <- s.Wait() }()
	select {
	case derr := <-done:
		if derr != nil {
			t.Fatalf("Wait() = %v", derr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return")
	}
}

func TestStartRejectsBadArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		port    int
		factory Factory
	}{
		{"zero port", 0, factory("")},
		{"nil factory", 8080, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(Hooks{})
			if derr := s.Start(tt.port, tt.factory); derr.Code() != diag.ErrInvalidArgument {
				t.Errorf("Start() code = %v, want %v", derr.Code(), diag.ErrInvalidArgument)
			}
			if s.State() != StateIdle {
				t.Errorf("State() = %v, want %v", s.State(), StateIdle)
			}
		})
	}
}

func TestStartPropagatesListenError(t *testing.T) {
	t.Parallel()

	s := New(Config{Address: "localhost", Logger: logging.Discard()})
	derr := s.Start(freePort(t), factory(""))
	if derr.Code() != diag.ErrNetAddressInvalid {
		t.Errorf("Start() code = %v, want %v", derr.Code(), diag.ErrNetAddressInvalid)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	var states []State
	var mu sync.Mutex
	s := newTestServer(Hooks{OnStateChange: func(st State) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}})

	if derr := s.Wait(); derr.Code() != diag.ErrObjNotInit {
		t.Errorf("Wait() before Start code = %v, want %v", derr.Code(), diag.ErrObjNotInit)
	}
	if derr := s.Stop(); derr.Code() != diag.WrnObjNotInit || derr.Failed() {
		t.Errorf("Stop() before Start = %v, want warning %v", derr.Code(), diag.WrnObjNotInit)
	}

	if derr := s.Start(freePort(t), factory("")); derr != nil {
		t.Fatalf("Start() = %v", derr)
	}
	if derr := s.Start(freePort(t), factory("")); derr.Code() != diag.ErrInvalidOperation {
		t.Errorf("second Start() code = %v, want %v", derr.Code(), diag.ErrInvalidOperation)
	}

	greet(t, s)
	shutdown(t, s)

	if s.State() != StateStopped {
		t.Errorf("State() = %v, want %v", s.State(), StateStopped)
	}
	if n := s.Sessions(); n != 0 {
		t.Errorf("Sessions() = %d, want 0", n)
	}
	if derr := s.Stop(); derr.Code() != diag.WrnObjNotInit {
		t.Errorf("Stop() after stop code = %v, want %v", derr.Code(), diag.WrnObjNotInit)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateRunning, StateStopping, StateStopped}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestStopWaitsForSessions(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	s := newTestServer(Hooks{OnSessionClose: func(Session, time.Duration) { closed.Add(1) }})
	if derr := s.Start(freePort(t), factory("")); derr != nil {
		t.Fatalf("Start() = %v", derr)
	}

	for range 3 {
		greet(t, s)
	}
	shutdown(t, s)

	if got := closed.Load(); got != 3 {
		t.Errorf("closed sessions = %d, want 3", got)
	}
}

func TestBulkheadIsolation(t *testing.T) {
	t.Parallel()

	errs := make(chan *diag.Error, 4)
	modes := make(chan string, 4)
	modes <- "fail"
	modes <- "panic"
	modes <- ""

	s := newTestServer(Hooks{OnSessionError: func(_ Session, derr *diag.Error) { errs <- derr }})
	f := func(conn *netsock.Conn, id string) Session {
		return factory(<-modes)(conn, id)
	}
	if derr := s.Start(freePort(t), f); derr != nil {
		t.Fatalf("Start() = %v", derr)
	}

	greet(t, s)
	greet(t, s)

	got := map[diag.Code]bool{}
	for range 2 {
		select {
		case derr := <-errs:
			got[derr.Code()] = true
		case <-time.After(5 * time.Second):
			t.Fatal("session error not reported")
		}
	}
	if !got[diag.ErrFailed] || !got[diag.ErrUnknown] {
		t.Errorf("reported codes = %v, want errFailed and errUnknown", got)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v, want %v", s.State(), StateRunning)
	}

	// a healthy sibling is still served
	greet(t, s)
	shutdown(t, s)
}

func TestMaxSessions(t *testing.T) {
	t.Parallel()

	opened := make(chan string, 2)
	s := New(Config{
		Address:     "127.0.0.1",
		MaxSessions: 1,
		Logger:      logging.Discard(),
		Hooks:       Hooks{OnSessionOpen: func(sess Session, _ string) { opened <- sess.ID() }},
	})

	var first atomic.Pointer[greeter]
	f := func(conn *netsock.Conn, id string) Session {
		g := factory("")(conn, id).(*greeter)
		first.CompareAndSwap(nil, g)
		return g
	}
	if derr := s.Start(freePort(t), f); derr != nil {
		t.Fatalf("Start() = %v", derr)
	}

	greet(t, s)
	<-opened

	second, err := net.Dial("tcp4", s.Addr().String())
	if err != nil {
		t.Fatalf("Dial() = %v", err)
	}
	defer second.Close()

	select {
	case id := <-opened:
		t.Fatalf("session %s opened while the limit was reached", id)
	case <-time.After(100 * time.Millisecond):
	}

	first.Load().Stop()
	select {
	case <-opened:
	case <-time.After(5 * time.Second):
		t.Fatal("second session never opened")
	}
	shutdown(t, s)
}

func TestStopLetsSessionsFinish(t *testing.T) {
	t.Parallel()

	s := newTestServer(Hooks{})
	if derr := s.Start(freePort(t), factory("drain")); derr != nil {
		t.Fatalf("Start() = %v", derr)
	}
	c := greet(t, s)

	if derr := s.Stop(); derr.Failed() {
		t.Fatalf("Stop() = %v", derr)
	}
	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil || line != "finished\n" {
		t.Errorf("line after Stop() = %q, %v, want %q", line, err, "finished\n")
	}
	if derr := s.Wait(); derr != nil {
		t.Errorf("Wait() = %v", derr)
	}
}

func TestRestartOnFreshServer(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	for range 2 {
		s := newTestServer(Hooks{})
		if derr := s.Start(port, factory("")); derr != nil {
			t.Fatalf("Start() = %v", derr)
		}
		greet(t, s)
		shutdown(t, s)
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	d := nextBackoff(0)
	if d != 5*time.Millisecond {
		t.Errorf("nextBackoff(0) = %v, want 5ms", d)
	}
	for range 20 {
		d = nextBackoff(d)
	}
	if d != time.Second {
		t.Errorf("nextBackoff cap = %v, want 1s", d)
	}
}

func TestRateLimitConfig(t *testing.T) {
	t.Parallel()

	if cfg := DefaultRateLimitConfig(); !cfg.Enabled || cfg.Burst != 1000 {
		t.Errorf("DefaultRateLimitConfig() = %+v", cfg)
	}
	if NoRateLimit().Enabled {
		t.Error("NoRateLimit().Enabled = true")
	}

	s := New(Config{RateLimit: DefaultRateLimitConfig()})
	if s.limiter == nil {
		t.Error("limiter not configured")
	}
}
