package command

import (
	"strconv"
	"time"

	"kvbus/internal/resp"
)

// IntoFrame encodes cmd as the Array request frame a client would send.
// Unknown does not round-trip its original arguments — only its name —
// since FromFrame never parses an unrecognized command's arguments.
func IntoFrame(cmd Command) resp.Frame {
	switch c := cmd.(type) {
	case Get:
		return resp.Array{resp.NewBulkString("GET"), resp.NewBulkString(c.Key)}

	case Set:
		f := resp.Array{resp.NewBulkString("SET"), resp.NewBulkString(c.Key), resp.BulkString(c.Value)}
		if c.TTL != nil {
			if ms := c.TTL.Milliseconds(); ms%1000 == 0 {
				f = append(f, resp.NewBulkString("EX"), resp.NewBulkString(strconv.FormatInt(ms/1000, 10)))
			} else {
				f = append(f, resp.NewBulkString("PX"), resp.NewBulkString(strconv.FormatInt(ms, 10)))
			}
		}
		return f

	case Publish:
		return resp.Array{resp.NewBulkString("PUBLISH"), resp.NewBulkString(c.Channel), resp.BulkString(c.Message)}

	case Subscribe:
		f := resp.Array{resp.NewBulkString("SUBSCRIBE")}
		for _, ch := range c.Channels {
			f = append(f, resp.NewBulkString(ch))
		}
		return f

	case Unsubscribe:
		f := resp.Array{resp.NewBulkString("UNSUBSCRIBE")}
		for _, ch := range c.Channels {
			f = append(f, resp.NewBulkString(ch))
		}
		return f

	case Ping:
		f := resp.Array{resp.NewBulkString("PING")}
		if c.HasMessage {
			f = append(f, resp.BulkString(c.Message))
		}
		return f

	case Unknown:
		return resp.Array{resp.NewBulkString(c.Name)}

	default:
		return resp.Array{}
	}
}

// NewSetEX builds a Set command expiring after seconds.
func NewSetEX(key string, value []byte, seconds uint64) Set {
	d := time.Duration(seconds) * time.Second
	return Set{Key: key, Value: value, TTL: &d}
}

// NewSetPX builds a Set command expiring after milliseconds.
func NewSetPX(key string, value []byte, milliseconds uint64) Set {
	d := time.Duration(milliseconds) * time.Millisecond
	return Set{Key: key, Value: value, TTL: &d}
}
