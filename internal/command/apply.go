package command

import (
	"kvbus/internal/resp"
	"kvbus/internal/store"
)

// Apply executes cmd against s and returns the single response Frame.
// Subscribe is never passed here — the server package intercepts it
// before reaching Apply and runs its own multi-frame subscribe session.
func Apply(s *store.Store, cmd Command) (resp.Frame, error) {
	switch c := cmd.(type) {
	case Get:
		v, ok := s.Get(c.Key)
		if !ok {
			return resp.Null{}, nil
		}
		return resp.BulkString(v), nil

	case Set:
		s.Set(c.Key, c.Value, c.TTL)
		return resp.SimpleString("OK"), nil

	case Publish:
		n := s.Publish(c.Channel, c.Message)
		return resp.Integer(uint64(n)), nil

	case Ping:
		if c.HasMessage {
			return resp.BulkString(c.Message), nil
		}
		return resp.SimpleString("PONG"), nil

	case Unknown:
		return resp.ErrorString("err unknown command '" + c.Name + "'"), nil

	case Unsubscribe:
		// Only reached when UNSUBSCRIBE arrives outside a SUBSCRIBE
		// session; inside a session the server package handles it.
		return nil, newCommandError("err UNSUBSCRIBE received outside of a SUBSCRIBE session")

	default:
		return nil, newCommandError("err command requires an active SUBSCRIBE session")
	}
}
