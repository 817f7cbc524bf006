package chat

import "errors"

// Failure taxonomy for the synchronization engine. None of these are fatal
// to the process; at worst a single room's view resets and can be retried.
var (
	// ErrDisconnected means the channel is down. Recoverable; membership
	// and presence re-sync on reconnect.
	ErrDisconnected = errors.New("channel disconnected")

	// ErrTimeout means a history or presence fetch exceeded its deadline.
	// Existing state is left untouched and a retry can be offered.
	ErrTimeout = errors.New("request timed out")

	// ErrMalformedRecord marks a record or frame that could not be
	// decoded. Skip-and-continue; never fatal to a whole load.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrUnknownEvent marks a push event with an unrecognized name.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrDuplicateJoin signals a join intent for the already-active room.
	// A no-op, not a failure.
	ErrDuplicateJoin = errors.New("room already active")
)
