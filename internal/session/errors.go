package session

import "errors"

var (
	// ErrNotEstablished is returned by publish helpers while no session is up.
	ErrNotEstablished = errors.New("session: not established")

	// ErrHandshakeTimeout is recorded when the transport does not answer a
	// connect attempt before the handshake deadline.
	ErrHandshakeTimeout = errors.New("session: handshake timed out")

	// ErrEncode is returned when a JSON payload cannot be built.
	ErrEncode = errors.New("session: encode payload")
)
