package command

import (
	"strings"
	"time"

	"kvbus/internal/resp"
)

// FromFrame parses f, which must be an Array frame, into a Command.
//
// Errors come in two flavors: a *resp.ProtocolError means the frame
// itself (or a recognized command's required arguments) was malformed —
// the caller should terminate the connection. A *CommandError means the
// command name was recognized but its arguments were semantically
// invalid (an unknown SET option, or SUBSCRIBE with no channel) — the
// caller should report it to the peer as a RESP error frame and keep the
// connection open.
func FromFrame(f resp.Frame) (Command, error) {
	p, err := resp.NewParser(f)
	if err != nil {
		return nil, err
	}

	name, err := p.NextString()
	if err != nil {
		return nil, err
	}
	name = strings.ToLower(name)

	switch name {
	case "ping":
		return parsePing(p)
	case "get":
		return parseGet(p)
	case "set":
		return parseSet(p)
	case "publish":
		return parsePublish(p)
	case "subscribe":
		return parseSubscribe(p)
	case "unsubscribe":
		return parseUnsubscribe(p)
	default:
		// Unrecognized names do not call Finish: trailing tokens are
		// intentionally ignored.
		return Unknown{Name: name}, nil
	}
}

func parsePing(p *resp.Parser) (Command, error) {
	if p.Remaining() == 0 {
		if err := p.Finish(); err != nil {
			return nil, err
		}
		return Ping{}, nil
	}
	msg, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Ping{Message: msg, HasMessage: true}, nil
}

func parseGet(p *resp.Parser) (Command, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Get{Key: key}, nil
}

func parseSet(p *resp.Parser) (Command, error) {
	key, err := p.NextString()
	if err != nil {
		return nil, err
	}
	value, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if p.Remaining() == 0 {
		if err := p.Finish(); err != nil {
			return nil, err
		}
		return Set{Key: key, Value: value}, nil
	}

	opt, err := p.NextString()
	if err != nil {
		return nil, err
	}
	n, err := p.NextInt()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}

	var ttl time.Duration
	switch strings.ToUpper(opt) {
	case "EX":
		ttl = time.Duration(n) * time.Second
	case "PX":
		ttl = time.Duration(n) * time.Millisecond
	default:
		return nil, newCommandError("err unknown SET option '" + opt + "'")
	}
	return Set{Key: key, Value: value, TTL: &ttl}, nil
}

func parsePublish(p *resp.Parser) (Command, error) {
	channel, err := p.NextString()
	if err != nil {
		return nil, err
	}
	message, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	if err := p.Finish(); err != nil {
		return nil, err
	}
	return Publish{Channel: channel, Message: message}, nil
}

func parseSubscribe(p *resp.Parser) (Command, error) {
	channels, err := restOfStrings(p)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, newCommandError("err SUBSCRIBE requires at least one channel")
	}
	return Subscribe{Channels: channels}, nil
}

func parseUnsubscribe(p *resp.Parser) (Command, error) {
	channels, err := restOfStrings(p)
	if err != nil {
		return nil, err
	}
	return Unsubscribe{Channels: channels}, nil
}

func restOfStrings(p *resp.Parser) ([]string, error) {
	out := make([]string, 0, p.Remaining())
	for p.Remaining() > 0 {
		s, err := p.NextString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
