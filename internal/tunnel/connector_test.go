package tunnel

import (
	"context"
	"net"
	"testing"
	"time"
)

func newTestConnector(t *testing.T, ln net.Listener) *Connector {
	t.Helper()
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}
	return NewConnector(r)
}

func TestConnector_ConnectWritesNugget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	c := newTestConnector(t, ln)
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	conn, status, err := c.Connect(context.Background(), net.JoinHostPort("example.com", port), NewNugget([]byte("hello")), time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if status != StatusOk {
		t.Fatalf("status=%v want StatusOk", status)
	}
	defer conn.Close()

	select {
	case b := <-received:
		if string(b) != "hello" {
			t.Fatalf("target received %q, want %q", b, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for nugget bytes at target")
	}
}

func TestConnector_ConnectWithoutNuggetWritesNothing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := newTestConnector(t, ln)
	_, port, _ := net.SplitHostPort(ln.Addr().String())

	conn, status, err := c.Connect(context.Background(), net.JoinHostPort("example.com", port), Nugget{}, time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if status != StatusOk {
		t.Fatalf("status=%v want StatusOk", status)
	}
	defer conn.Close()

	select {
	case target := <-accepted:
		defer target.Close()
		_ = target.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		buf := make([]byte, 1)
		_, err := target.Read(buf)
		if err == nil {
			t.Fatalf("expected no bytes written to target, got some")
		}
	case <-time.After(time.Second):
		t.Fatal("target never accepted")
	}
}

func TestConnector_DialFailureIsBadGateway(t *testing.T) {
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}
	c := NewConnector(r)

	// Port 0 on an already-closed listener: find a free port, close it, dial it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, port, _ := net.SplitHostPort(addr)
	_, status, err := c.Connect(context.Background(), net.JoinHostPort("example.com", port), Nugget{}, time.Second)
	if err == nil {
		t.Fatalf("expected dial error against closed listener")
	}
	if status != StatusBadGateway {
		t.Fatalf("status=%v want StatusBadGateway", status)
	}
}

func TestConnector_DialTimeoutIsGatewayTimeout(t *testing.T) {
	// 10.255.255.1 is a non-routable address commonly used to force a
	// connect-timeout in tests without relying on network access.
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		return []string{"10.255.255.1"}, nil
	}
	c := NewConnector(r)

	_, status, err := c.Connect(context.Background(), "example.com:81", Nugget{}, time.Nanosecond)
	if err == nil {
		t.Fatalf("expected error")
	}
	if status != StatusGatewayTimeout && status != StatusBadGateway {
		t.Fatalf("status=%v want StatusGatewayTimeout or StatusBadGateway", status)
	}
}
