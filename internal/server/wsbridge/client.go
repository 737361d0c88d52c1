package wsbridge

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"kvbus/internal/command"
	"kvbus/internal/store"
)

// pushMessage is the JSON envelope a subscribed channel's publications
// arrive as, distinct from response so browser clients can tell a
// pushed message apart from a request's reply without an id to match.
type pushMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// ackMessage acknowledges a subscribe/unsubscribe, reporting the live
// channel count the same way the RESP subscribe/unsubscribe ack does.
type ackMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

// wsConn is one bridged WebSocket connection: a plain request/response
// loop that, once the client sends a SUBSCRIBE message, also relays
// published messages as JSON frames until every channel is released.
// Unlike the RESP subscribe session, request/response commands keep
// being served while channels are held.
//
// Adapted from gateway.Client's writePump/readPump split: one goroutine
// owns the socket for writing (coalescing queued sends via NextWriter),
// one owns it for reading, and a buffered send channel hands work from
// the rest of the connection's goroutines to the writer.
type wsConn struct {
	conn  *websocket.Conn
	store *store.Store
	log   *slog.Logger

	send chan []byte
	done chan struct{}
	stop sync.Once

	mu    sync.Mutex
	subs  map[string]*store.Subscription
	stops map[string]chan struct{}
}

func (c *wsConn) close() {
	c.stop.Do(func() {
		close(c.done)
		c.mu.Lock()
		for ch, stop := range c.stops {
			close(stop)
			c.store.Unsubscribe(c.subs[ch])
		}
		c.mu.Unlock()
		c.conn.Close()
	})
}

// writePump owns conn for writing: it drains send, coalescing any
// further queued frames into the same WebSocket message the way
// gateway.Client.writePump does, and pings on an interval to detect a
// dead peer before the OS does.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump owns conn for reading: every text frame is a JSON request,
// dispatched to the store the same way a RESP frame would be, except
// SUBSCRIBE/UNSUBSCRIBE are intercepted here instead of reaching
// command.Apply, matching the RESP handler's split.
func (c *wsConn) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(response{Type: "reply", OK: false, Error: "wsbridge: invalid JSON request"})
			continue
		}

		switch req.Cmd {
		case "SUBSCRIBE":
			for _, ch := range req.Args {
				c.subscribeOne(ch)
			}
		case "UNSUBSCRIBE":
			channels := req.Args
			if len(channels) == 0 {
				c.mu.Lock()
				for ch := range c.subs {
					channels = append(channels, ch)
				}
				c.mu.Unlock()
			}
			for _, ch := range channels {
				c.unsubscribeOne(ch)
			}
		default:
			cmd, err := parseCommand(req)
			if err != nil {
				c.reply(response{Type: "reply", OK: false, Error: err.Error()})
				continue
			}
			frame, err := command.Apply(c.store, cmd)
			if err != nil {
				c.reply(response{Type: "reply", OK: false, Error: err.Error()})
				continue
			}
			c.reply(frameToResponse(frame))
		}
	}
}

func (c *wsConn) subscribeOne(ch string) {
	c.mu.Lock()
	if stop, ok := c.stops[ch]; ok {
		close(stop)
		delete(c.stops, ch)
		c.store.Unsubscribe(c.subs[ch])
	}

	sub, count := c.store.Subscribe(ch)
	stop := make(chan struct{})
	if c.subs == nil {
		c.subs = make(map[string]*store.Subscription)
		c.stops = make(map[string]chan struct{})
	}
	c.subs[ch] = sub
	c.stops[ch] = stop
	c.mu.Unlock()

	go c.relay(sub, stop)
	c.reply(ackMessage{Type: "subscribe", Channel: ch, Count: count})
}

func (c *wsConn) unsubscribeOne(ch string) {
	c.mu.Lock()
	sub, ok := c.subs[ch]
	if !ok {
		c.mu.Unlock()
		c.reply(response{Type: "reply", OK: false, Error: "wsbridge: not subscribed to " + ch})
		return
	}
	close(c.stops[ch])
	delete(c.stops, ch)
	delete(c.subs, ch)
	c.mu.Unlock()

	remaining := c.store.Unsubscribe(sub)
	c.reply(ackMessage{Type: "unsubscribe", Channel: ch, Count: remaining})
}

// relay forwards one channel's deliveries into the connection's send
// queue as JSON push frames until stop closes, mirroring the RESP
// session's one-goroutine-per-channel relay.
func (c *wsConn) relay(sub *store.Subscription, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg := <-sub.Messages():
			c.reply(pushMessage{Type: "message", Channel: msg.Channel, Payload: string(msg.Payload)})
		case <-sub.Lagged():
			c.reply(pushMessage{Type: "lagged", Channel: sub.Channel()})
		}
	}
}

func (c *wsConn) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("wsbridge: marshal reply failed", slog.Any("err", err))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}
