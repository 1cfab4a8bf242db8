package core

import "errors"

// Failure kinds of the relay. Handlers map each kind to either a named
// event back to the offending connection or a logged silent drop; none of
// them terminate the connection.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRoomLocked     = errors.New("room is locked")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrStaleTarget    = errors.New("stale target connection")
	ErrForbidden      = errors.New("forbidden")
)
