package mqtt

import "errors"

// Domain-specific errors for MQTT session operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when subscribe or publish is attempted
	// while the session is not Connected.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrAlreadyConnecting is reported when Connect is called while a
	// handshake is already in flight.
	ErrAlreadyConnecting = errors.New("mqtt: connect already in progress")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrNotSubscribed is returned when an operation names a topic that is
	// not in the session's subscription set.
	ErrNotSubscribed = errors.New("mqtt: topic not subscribed")

	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("mqtt: transport error")

	// ErrTimeout is reported when the connect handshake does not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrProtocol is reported when the broker refuses the connection or
	// answers with a malformed response.
	ErrProtocol = errors.New("mqtt: protocol error")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned when a publish payload exceeds maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
