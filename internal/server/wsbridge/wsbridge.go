// Package wsbridge is an optional, off-core-path adapter (spec
// SPEC_FULL.md §5 "Bridge") that exposes the same command set kvbusd
// speaks over RESP as JSON-wrapped WebSocket text frames, for browser
// based debugging clients that can't speak RESP directly. It is never
// on the hot command-apply path: it talks to the same *store.Store
// every RESP connection does, through the same command package.
//
// Adapted from the teacher's internal/gateway Hub/Client: one
// writePump/readPump goroutine pair per connection, a buffered send
// channel, and NextWriter-based write coalescing, generalized from
// Redis-candle fan-out to kvbus's command/reply and pub/sub shape.
package wsbridge

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"kvbus/internal/command"
	"kvbus/internal/resp"
	"kvbus/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge runs an HTTP server that upgrades connections to WebSocket and
// bridges each one to store against the shared Store.
type Bridge struct {
	store *store.Store
	log   *slog.Logger
	addr  string
	srv   *http.Server
}

// New builds a Bridge bound to addr.
func New(addr string, s *store.Store, log *slog.Logger) *Bridge {
	b := &Bridge{store: s, log: log, addr: addr}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", b.handleUpgrade)
	b.srv = &http.Server{Addr: addr, Handler: mux}
	return b
}

// Start launches the bridge's HTTP server in a goroutine.
func (b *Bridge) Start() {
	go func() {
		b.log.Info("wsbridge listening", slog.String("addr", b.addr))
		if err := b.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Error("wsbridge server error", slog.Any("err", err))
		}
	}()
}

// Stop gracefully shuts down the bridge's HTTP server.
func (b *Bridge) Stop(ctx context.Context) error {
	return b.srv.Shutdown(ctx)
}

func (b *Bridge) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("wsbridge upgrade failed", slog.Any("err", err))
		return
	}
	c := &wsConn{
		conn:  conn,
		store: b.store,
		log:   b.log,
		send:  make(chan []byte, 64),
		done:  make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
}

// request is the JSON envelope a browser client sends: the command
// name and its string arguments, e.g. {"cmd":"GET","args":["hello"]}.
type request struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// response is the JSON envelope sent back for a request/response
// command (never used for streamed "message" pushes, see pushMessage in
// client.go).
type response struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Value string `json:"value,omitempty"`
	Null  bool   `json:"null,omitempty"`
	Int   *int64 `json:"int,omitempty"`
	Error string `json:"error,omitempty"`
}

// toFrame builds the resp.Array a RESP client would have sent for this
// request, reusing the exact same command.FromFrame parsing path the
// RESP acceptor uses — the bridge never reimplements command semantics.
func (req request) toFrame() resp.Frame {
	arr := resp.Array{resp.NewBulkString(req.Cmd)}
	for _, a := range req.Args {
		arr = append(arr, resp.NewBulkString(a))
	}
	return arr
}

func frameToResponse(f resp.Frame) response {
	switch v := f.(type) {
	case resp.SimpleString:
		return response{Type: "reply", OK: true, Value: string(v)}
	case resp.BulkString:
		return response{Type: "reply", OK: true, Value: string(v)}
	case resp.Null:
		return response{Type: "reply", OK: true, Null: true}
	case resp.Integer:
		n := int64(v)
		return response{Type: "reply", OK: true, Int: &n}
	case resp.ErrorString:
		return response{Type: "reply", OK: false, Error: string(v)}
	default:
		return response{Type: "reply", OK: false, Error: "wsbridge: unrepresentable reply"}
	}
}

// parseCommand turns a JSON request into a command.Command via the
// same FromFrame path RESP connections use.
func parseCommand(req request) (command.Command, error) {
	return command.FromFrame(req.toFrame())
}
