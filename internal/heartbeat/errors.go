package heartbeat

import "errors"

var (
	// ErrInvalidStatus is returned by ParseStatus for malformed documents.
	ErrInvalidStatus = errors.New("heartbeat: invalid status document")

	// ErrPublishFailed wraps a failed telemetry or presence publish.
	ErrPublishFailed = errors.New("heartbeat: publish failed")
)
