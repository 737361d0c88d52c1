package resp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := NewDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return got
}

func TestRoundTripSimple(t *testing.T) {
	got := roundTrip(t, SimpleString("PONG"))
	if !Equal(got, "PONG") {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripError(t *testing.T) {
	got := roundTrip(t, ErrorString("err boom"))
	e, ok := got.(ErrorString)
	if !ok || string(e) != "err boom" {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripInteger(t *testing.T) {
	got := roundTrip(t, Integer(42))
	if got != Integer(42) {
		t.Errorf("got %#v, want 42", got)
	}
}

func TestRoundTripNull(t *testing.T) {
	got := roundTrip(t, Null{})
	if _, ok := got.(Null); !ok {
		t.Errorf("got %#v, want Null", got)
	}
}

func TestRoundTripBulk(t *testing.T) {
	got := roundTrip(t, BulkString("hello"))
	if !Equal(got, "hello") {
		t.Errorf("got %#v", got)
	}
}

func TestRoundTripNilBulk(t *testing.T) {
	got := roundTrip(t, BulkString(nil))
	if _, ok := got.(Null); !ok {
		t.Errorf("nil bulk should decode as Null, got %#v", got)
	}
}

func TestRoundTripArray(t *testing.T) {
	in := Array{BulkString("SET"), BulkString("k"), BulkString("v")}
	got := roundTrip(t, in)
	arr, ok := got.(Array)
	if !ok || len(arr) != 3 {
		t.Fatalf("got %#v", got)
	}
	for i, want := range []string{"SET", "k", "v"} {
		if !Equal(arr[i], want) {
			t.Errorf("element %d: got %#v, want %q", i, arr[i], want)
		}
	}
}

func TestRoundTripNestedArray(t *testing.T) {
	in := Array{Array{Integer(1), Integer(2)}, BulkString("x")}
	got := roundTrip(t, in)
	arr := got.(Array)
	inner := arr[0].(Array)
	if inner[0] != Integer(1) || inner[1] != Integer(2) {
		t.Errorf("nested array mismatch: %#v", inner)
	}
}

func TestReadFrameIncrementalDelivery(t *testing.T) {
	full := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	r := &slowReader{chunks: splitBytes(full, 3)}
	f, err := NewDecoder(r).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	arr := f.(Array)
	if !Equal(arr[0], "GET") || !Equal(arr[1], "foo") {
		t.Errorf("got %#v", arr)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader(nil)).ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestReadFramePartialThenEOF(t *testing.T) {
	partial := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfo")
	_, err := NewDecoder(bytes.NewReader(partial)).ReadFrame()
	if !errors.Is(err, ErrResetByPeer) {
		t.Errorf("got %v, want ErrResetByPeer", err)
	}
}

func TestReadFrameUnknownType(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte("!oops\r\n"))).ReadFrame()
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("got %v, want *ProtocolError", err)
	}
}

func TestReadFrameNegativeInteger(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte(":-1\r\n"))).ReadFrame()
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("got %v, want *ProtocolError for negative integer", err)
	}
}

func TestReadFrameMissingBulkTerminator(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte("$3\r\nabcXX"))).ReadFrame()
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("got %v, want *ProtocolError", err)
	}
}

// slowReader dribbles out chunks one Read call at a time, forcing the
// decoder's grow-and-retry path to run.
type slowReader struct {
	chunks [][]byte
}

func (r *slowReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func splitBytes(b []byte, size int) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		n := size
		if n > len(b) {
			n = len(b)
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}
