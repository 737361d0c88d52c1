package server

import (
	"context"
	"net"
	"testing"
	"time"

	"kvbus/internal/resp"
	"kvbus/internal/store"
)

func TestAcceptorServesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := store.New()
	defer s.Close()
	a := NewAcceptor(ln, s, testLogger(), nil)

	runErr := make(chan error, 1)
	go func() { runErr <- a.Run() }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	withTimeout(t, func() {
		sendFrame(t, conn, resp.Array{resp.NewBulkString("PING")})
		if f := readFrame(t, conn); !resp.Equal(f, "PONG") {
			t.Fatalf("got %#v", f)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestAcceptorShutdownClosesLiveConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := store.New()
	defer s.Close()
	a := NewAcceptor(ln, s, testLogger(), nil)
	go a.Run()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Give the acceptor a moment to register the connection before
	// shutting down, so the drain actually has something to wait for.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	withTimeout(t, func() {
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err == nil {
			t.Fatal("expected the connection to be closed after shutdown")
		}
	})
}

func TestAcceptorAdmissionSemaphoreSized(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	s := store.New()
	defer s.Close()
	a := NewAcceptor(ln, s, testLogger(), nil)

	if cap(a.sem) != maxConnections {
		t.Fatalf("got semaphore capacity %d, want %d", cap(a.sem), maxConnections)
	}
}
