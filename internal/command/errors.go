package command

// CommandError is a recognized command whose arguments are semantically
// invalid (e.g. an unknown SET option, or UNSUBSCRIBE issued outside a
// subscribe session). Unlike a resp.ProtocolError, a CommandError is
// reported to the peer as a RESP error frame; the connection stays open.
type CommandError struct {
	msg string
}

func (e *CommandError) Error() string { return e.msg }

func newCommandError(msg string) error { return &CommandError{msg: msg} }
