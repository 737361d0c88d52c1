package server

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"kvbus/internal/resp"
	"kvbus/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

// testWriter discards everything; tests only care about behavior, not
// about what gets logged.
type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestHandler wires a Handler over one end of a net.Pipe, returning
// the other end for the test to drive as a client, plus the done channel
// the test controls as the shutdown signal.
func newTestHandler(t *testing.T, s *store.Store) (client net.Conn, done chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	done = make(chan struct{})
	h := NewHandler(serverConn, s, done, testLogger(), "test-trace", nil)
	go h.Serve()
	return clientConn, done
}

func sendFrame(t *testing.T, conn net.Conn, f resp.Frame) {
	t.Helper()
	if err := resp.WriteFrame(conn, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn net.Conn) resp.Frame {
	t.Helper()
	dec := resp.NewDecoder(conn)
	f, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func withTimeout(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestHandlerPing(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, _ := newTestHandler(t, s)
	defer conn.Close()

	withTimeout(t, func() {
		sendFrame(t, conn, resp.Array{resp.NewBulkString("PING")})
		f := readFrame(t, conn)
		if !resp.Equal(f, "PONG") {
			t.Fatalf("got %#v", f)
		}
	})
}

func TestHandlerSetThenGet(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, _ := newTestHandler(t, s)
	defer conn.Close()

	withTimeout(t, func() {
		sendFrame(t, conn, resp.Array{resp.NewBulkString("SET"), resp.NewBulkString("k"), resp.NewBulkString("v")})
		if f := readFrame(t, conn); !resp.Equal(f, "OK") {
			t.Fatalf("got %#v", f)
		}

		sendFrame(t, conn, resp.Array{resp.NewBulkString("GET"), resp.NewBulkString("k")})
		if f := readFrame(t, conn); !resp.Equal(f, "v") {
			t.Fatalf("got %#v", f)
		}
	})
}

func TestHandlerUnknownCommandKeepsConnectionOpen(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, _ := newTestHandler(t, s)
	defer conn.Close()

	withTimeout(t, func() {
		sendFrame(t, conn, resp.Array{resp.NewBulkString("FLUSHALL")})
		f := readFrame(t, conn)
		e, ok := f.(resp.ErrorString)
		if !ok || string(e) != "err unknown command 'flushall'" {
			t.Fatalf("got %#v", f)
		}

		// connection must still be usable afterwards
		sendFrame(t, conn, resp.Array{resp.NewBulkString("PING")})
		if f := readFrame(t, conn); !resp.Equal(f, "PONG") {
			t.Fatalf("got %#v", f)
		}
	})
}

func TestHandlerSetUnknownOptionIsRecoverable(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, _ := newTestHandler(t, s)
	defer conn.Close()

	withTimeout(t, func() {
		sendFrame(t, conn, resp.Array{
			resp.NewBulkString("SET"), resp.NewBulkString("k"), resp.NewBulkString("v"),
			resp.NewBulkString("XX"), resp.NewBulkString("1"),
		})
		if _, ok := readFrame(t, conn).(resp.ErrorString); !ok {
			t.Fatal("expected an error frame for the unknown SET option")
		}

		sendFrame(t, conn, resp.Array{resp.NewBulkString("PING")})
		if f := readFrame(t, conn); !resp.Equal(f, "PONG") {
			t.Fatalf("got %#v", f)
		}
	})
}

func TestHandlerProtocolErrorClosesConnection(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, _ := newTestHandler(t, s)
	defer conn.Close()

	withTimeout(t, func() {
		if _, err := conn.Write([]byte("not-resp-at-all\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		dec := resp.NewDecoder(conn)
		if _, err := dec.ReadFrame(); err == nil {
			t.Fatal("expected the connection to close on malformed input")
		}
	})
}

func TestHandlerShutdownClosesIdleConnection(t *testing.T) {
	s := store.New()
	defer s.Close()
	conn, done := newTestHandler(t, s)
	defer conn.Close()

	close(done)

	withTimeout(t, func() {
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err == nil {
			t.Fatal("expected read to fail once the server side closes on shutdown")
		}
	})
}
