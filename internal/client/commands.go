package client

import (
	"fmt"

	"kvbus/internal/resp"
)

// Ping sends PING, optionally echoing message (nil means no message),
// and returns the server's reply bytes ("PONG" or the echoed message).
func (c *Client) Ping(message []byte) ([]byte, error) {
	req := resp.Array{resp.NewBulkString("PING")}
	if message != nil {
		req = append(req, resp.BulkString(message))
	}
	reply, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch v := reply.(type) {
	case resp.SimpleString:
		return []byte(v), nil
	case resp.BulkString:
		return v, nil
	default:
		return nil, fmt.Errorf("client: unexpected PING reply %#v", reply)
	}
}

// Get fetches the value bound to key. ok is false if the key is absent
// or has expired.
func (c *Client) Get(key string) (value []byte, ok bool, err error) {
	reply, err := c.do(resp.Array{resp.NewBulkString("GET"), resp.NewBulkString(key)})
	if err != nil {
		return nil, false, err
	}
	switch v := reply.(type) {
	case resp.Null:
		return nil, false, nil
	case resp.BulkString:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("client: unexpected GET reply %#v", reply)
	}
}

// SetOption configures an optional TTL for Set.
type SetOption func() (opt string, n uint64)

// WithEX expires the key after seconds seconds.
func WithEX(seconds uint64) SetOption {
	return func() (string, uint64) { return "EX", seconds }
}

// WithPX expires the key after milliseconds milliseconds.
func WithPX(milliseconds uint64) SetOption {
	return func() (string, uint64) { return "PX", milliseconds }
}

// Set binds value to key, with an optional WithEX/WithPX expiry.
func (c *Client) Set(key string, value []byte, opts ...SetOption) error {
	req := resp.Array{resp.NewBulkString("SET"), resp.NewBulkString(key), resp.BulkString(value)}
	if len(opts) > 0 {
		opt, n := opts[len(opts)-1]()
		req = append(req, resp.NewBulkString(opt), resp.NewBulkString(fmt.Sprintf("%d", n)))
	}
	reply, err := c.do(req)
	if err != nil {
		return err
	}
	return replyToError(reply)
}

// Publish sends message to channel and returns the number of
// subscribers it was offered to.
func (c *Client) Publish(channel string, message []byte) (int, error) {
	reply, err := c.do(resp.Array{
		resp.NewBulkString("PUBLISH"),
		resp.NewBulkString(channel),
		resp.BulkString(message),
	})
	if err != nil {
		return 0, err
	}
	n, ok := reply.(resp.Integer)
	if !ok {
		return 0, fmt.Errorf("client: unexpected PUBLISH reply %#v", reply)
	}
	return int(n), nil
}

// replyToError converts a RESP error reply into a *ResponseError, and
// is a no-op for any other reply.
func replyToError(reply resp.Frame) error {
	if e, ok := reply.(resp.ErrorString); ok {
		return newResponseError(string(e))
	}
	return nil
}
