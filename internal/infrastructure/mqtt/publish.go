package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// The message is only accepted while Connected. Otherwise it is dropped,
// never queued or retried; callers needing delivery assurance must resend
// after reconnecting. The call does not wait for PUBACK/PUBCOMP.
//
// Parameters:
//   - topic: The topic to publish to (no wildcards)
//   - payload: The message payload (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, ErrInvalidTopic, ErrPayloadTooLarge,
//     or a wrapped ErrTransport
//
// Example:
//
//	err := session.Publish("sensors/temp", []byte("21.5"), mqtt.QoSAtMostOnce, false)
func (s *Session) Publish(topic string, payload []byte, qos QoS, retained bool) error {
	if !s.IsConnected() {
		s.getLogger().Warn("MQTT not connected, publish dropped",
			"topic", topic,
			"payload_bytes", len(payload),
		)
		return ErrNotConnected
	}

	if !qos.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	err := s.transport.SendPublish(PublishRequest{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %q: %w", ErrTransport, topic, err)
	}

	return nil
}

// PublishString is a convenience method that publishes a string payload.
//
// This is equivalent to calling Publish with []byte(payload).
func (s *Session) PublishString(topic string, payload string, qos QoS, retained bool) error {
	return s.Publish(topic, []byte(payload), qos, retained)
}
