// Package command implements the RESP command model: parsing an Array
// frame into a typed Command, and applying that command against a store.
package command

import "time"

// Command is a tagged variant over the commands this server understands.
type Command interface {
	isCommand()
}

// Get retrieves the value bound to Key.
type Get struct {
	Key string
}

// Set binds Value to Key, optionally expiring after TTL (nil means no
// expiry). TTL is derived from the wire's EX (seconds) or PX
// (milliseconds) option.
type Set struct {
	Key   string
	Value []byte
	TTL   *time.Duration
}

// Publish sends Message to every current subscriber of Channel.
type Publish struct {
	Channel string
	Message []byte
}

// Subscribe opens a subscribe session over one or more channels.
type Subscribe struct {
	Channels []string
}

// Unsubscribe leaves zero or more channels; an empty list means "leave
// every channel currently held by this session".
type Unsubscribe struct {
	Channels []string
}

// Ping is a liveness probe, optionally echoing Message.
type Ping struct {
	Message    []byte
	HasMessage bool
}

// Unknown is any command name this server does not recognize. Trailing
// arguments are intentionally left unparsed.
type Unknown struct {
	Name string
}

func (Get) isCommand()         {}
func (Set) isCommand()         {}
func (Publish) isCommand()     {}
func (Subscribe) isCommand()   {}
func (Unsubscribe) isCommand() {}
func (Ping) isCommand()        {}
func (Unknown) isCommand()     {}

// Name returns the lower-case command name, for logging and metrics
// labels. Unknown reports the (unrecognized) name the peer sent.
func Name(cmd Command) string {
	switch c := cmd.(type) {
	case Get:
		return "get"
	case Set:
		return "set"
	case Publish:
		return "publish"
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	case Ping:
		return "ping"
	case Unknown:
		return c.Name
	default:
		return "unknown"
	}
}
