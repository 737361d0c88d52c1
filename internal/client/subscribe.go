package client

import (
	"fmt"
	"sync"

	"kvbus/internal/resp"
)

// Message is one published payload delivered to a Subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Subscriber owns a Client's connection once it has entered a
// subscribe session: request/response methods are no longer usable on
// the originating Client (ErrSubscribed), and all further interaction
// goes through Subscriber's own methods. This mirrors the server's own
// Command/Subscribed state split (spec §9 "Subscriber state
// transition").
type Subscriber struct {
	c *Client

	mu       sync.Mutex
	channels map[string]int // channel -> current subscriber count

	messages  chan Message
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe switches c into a subscribe session over one or more
// channels and starts the background read loop that feeds Messages().
// c must not have an in-flight request/response call or another active
// subscribe session.
func (c *Client) Subscribe(channels ...string) (*Subscriber, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("client: Subscribe requires at least one channel")
	}

	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil, ErrSubscribed
	}

	req := resp.Array{resp.NewBulkString("SUBSCRIBE")}
	for _, ch := range channels {
		req = append(req, resp.NewBulkString(ch))
	}
	if err := resp.WriteFrame(c.w, req); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("client: write: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("client: flush: %w", err)
	}

	sub := &Subscriber{
		c:        c,
		channels: make(map[string]int, len(channels)),
		messages: make(chan Message, 64),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}

	for range channels {
		reply, err := c.dec.ReadFrame()
		if err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("client: read subscribe ack: %w", err)
		}
		ch, count, err := parseAck("subscribe", reply)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		sub.channels[ch] = count
	}

	c.subscribed = true
	c.mu.Unlock()

	go sub.readLoop()
	return sub, nil
}

// Messages returns the channel of delivered publications.
func (s *Subscriber) Messages() <-chan Message { return s.messages }

// Errs reports the terminal read error, if any, once the read loop has
// stopped (e.g. the connection closed). It is closed along with
// Messages so a single select drains both to completion.
func (s *Subscriber) Errs() <-chan error { return s.errs }

// Unsubscribe leaves the given channels (or every channel currently
// held, if none are given). It returns once the request is flushed; it
// does not wait for the server's acks, which the read loop consumes.
func (s *Subscriber) Unsubscribe(channels ...string) error {
	req := resp.Array{resp.NewBulkString("UNSUBSCRIBE")}
	for _, ch := range channels {
		req = append(req, resp.NewBulkString(ch))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := resp.WriteFrame(s.c.w, req); err != nil {
		return fmt.Errorf("client: write: %w", err)
	}
	return s.c.w.Flush()
}

// Close tears down the subscriber's read loop and closes the underlying
// connection.
func (s *Subscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.c.Close()
	})
	return err
}

// readLoop decodes server-pushed frames until the connection closes:
// "message" arrays are delivered on Messages(), "subscribe"/
// "unsubscribe" acks update the live channel set silently.
func (s *Subscriber) readLoop() {
	defer close(s.messages)
	defer close(s.errs)

	for {
		frame, err := s.c.dec.ReadFrame()
		if err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}

		arr, ok := frame.(resp.Array)
		if !ok || len(arr) == 0 {
			continue
		}
		kind, _ := resp.Text(arr[0])
		switch kind {
		case "message":
			if len(arr) != 3 {
				continue
			}
			channel, _ := resp.Text(arr[1])
			payload, _ := resp.Text(arr[2])
			select {
			case s.messages <- Message{Channel: channel, Payload: []byte(payload)}:
			case <-s.done:
				return
			}
		case "subscribe", "unsubscribe":
			ch, count, perr := parseAck(kind, frame)
			if perr != nil {
				continue
			}
			s.mu.Lock()
			if kind == "subscribe" {
				s.channels[ch] = count
			} else {
				delete(s.channels, ch)
			}
			s.mu.Unlock()
		}

		select {
		case <-s.done:
			return
		default:
		}
	}
}

// parseAck validates that frame is a ["<kind>", channel, count] array
// and extracts channel/count from it.
func parseAck(kind string, frame resp.Frame) (channel string, count int, err error) {
	arr, ok := frame.(resp.Array)
	if !ok || len(arr) != 3 {
		return "", 0, fmt.Errorf("client: malformed %s ack %#v", kind, frame)
	}
	got, _ := resp.Text(arr[0])
	if got != kind {
		return "", 0, fmt.Errorf("client: expected %s ack, got %q", kind, got)
	}
	channel, _ = resp.Text(arr[1])
	n, ok := arr[2].(resp.Integer)
	if !ok {
		return "", 0, fmt.Errorf("client: malformed %s ack count %#v", kind, arr[2])
	}
	return channel, int(n), nil
}
