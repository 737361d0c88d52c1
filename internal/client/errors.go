package client

import "errors"

// ErrSubscribed is returned by request/response methods when called on
// a Client that has already opened a subscribe session.
var ErrSubscribed = errors.New("client: connection is in a subscribe session")

// ResponseError wraps a RESP error frame the server sent back for a
// command (e.g. an unknown SET option, or UNSUBSCRIBE outside a
// session). It is the client-side half of the server's CommandError
// taxonomy (spec §7).
type ResponseError struct {
	msg string
}

func (e *ResponseError) Error() string { return e.msg }

func newResponseError(msg string) error { return &ResponseError{msg: msg} }
