package mqtt

import (
	"context"
	"fmt"
)

// QoS is an MQTT delivery guarantee level.
type QoS byte

// QoS levels.
const (
	QoSAtMostOnce  QoS = 0
	QoSAtLeastOnce QoS = 1
	QoSExactlyOnce QoS = 2
)

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool {
	return q <= QoSExactlyOnce
}

// ParseQoS converts an integer (typically from config or JSON) to a QoS.
func ParseQoS(v int) (QoS, error) {
	if v < 0 || v > int(QoSExactlyOnce) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQoS, v)
	}
	return QoS(v), nil
}

// State is the connection state of a Session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Message is an inbound PUBLISH as reported by the broker.
// Topic is the concrete topic, never the subscription's wildcard filter.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// PublishRequest is an outbound PUBLISH handed to the transport.
type PublishRequest struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Target identifies the broker and the client identity used for CONNECT.
type Target struct {
	Host     string
	Port     int
	ClientID string
}

// String returns host:port.
func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Events are the notifications a transport delivers back to its session.
// They are invoked on the transport's own goroutines.
type Events struct {
	// OnMessage is called for every inbound PUBLISH.
	OnMessage func(msg Message)

	// OnConnectionLost is called once when an open connection drops
	// without Close having been called.
	OnConnectionLost func(err error)
}

// Transport performs the wire I/O and MQTT framing for a Session.
//
// A Session owns its Transport exclusively. Open may be called again after
// Close; each Open starts a fresh connection.
type Transport interface {
	// Open dials the broker and performs the CONNECT/CONNACK handshake.
	// It blocks until the broker acknowledges, the handshake fails, or ctx
	// is done (ctx carries the connect timeout). Errors wrapping ErrProtocol
	// indicate a refused or malformed CONNACK.
	Open(ctx context.Context, target Target, events Events) error

	// SendSubscribe writes a SUBSCRIBE without waiting for SUBACK.
	SendSubscribe(topic string, qos QoS) error

	// SendUnsubscribe writes an UNSUBSCRIBE without waiting for UNSUBACK.
	SendUnsubscribe(topic string) error

	// SendPublish writes a PUBLISH without waiting for PUBACK/PUBCOMP.
	SendPublish(req PublishRequest) error

	// Close disconnects and releases the connection. Safe to call when not open.
	Close()
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on the transport's delivery goroutine, outside the session
// lock, so they may call back into the session. They should not block for
// extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged with the topic; never affects the session
type MessageHandler func(topic string, payload []byte) error

// ReceiveFunc is a MessageHandler that also sees the QoS and retain flag
// the broker delivered the message with.
type ReceiveFunc func(msg Message) error

// receiveFunc adapts handler to a ReceiveFunc. A nil handler stays nil.
func (handler MessageHandler) receiveFunc() ReceiveFunc {
	if handler == nil {
		return nil
	}
	return func(msg Message) error {
		return handler(msg.Topic, msg.Payload)
	}
}

// Logger is the logging surface the session needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Subscription is a snapshot of one entry in the session's subscription set.
type Subscription struct {
	Topic      string `json:"topic"`
	QoS        QoS    `json:"qos"`
	HasHandler bool   `json:"has_handler"`
}
