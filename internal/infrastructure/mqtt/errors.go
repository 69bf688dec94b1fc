package mqtt

import "errors"

// Transport errors. Use errors.Is() to check for these in calling code.
var (
	// ErrNotConnected is returned when publishing or subscribing without a session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps a failed handshake.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty topic is provided.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidEndpoint is returned when Connect is called without a host or port.
	ErrInvalidEndpoint = errors.New("mqtt: broker endpoint incomplete")

	// ErrAckPending is returned when the broker has not acknowledged a
	// publish or subscribe within the ack timeout. The request stays queued
	// in the client and completes in the background.
	ErrAckPending = errors.New("mqtt: acknowledgement pending")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// Result codes reported by LastErrorCode. Values 0 to 5 are the MQTT 3.1.1
// CONNACK return codes; negative values are failures that produced no CONNACK.
const (
	CodeAccepted     = 0
	CodeNeverTried   = -1
	CodeNetworkError = -2
	CodeTimeout      = -3
)
