package mqtt

import (
	"fmt"
	"sort"
)

// Subscribe adds topic to the subscription set and sends SUBSCRIBE.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensors/+/temp" matches any sensor
//   - # (multi-level): "sensors/#" matches everything below sensors
//
// Inbound messages are routed by the exact topic the broker reports, so a
// handler registered for a wildcard filter is only invoked for messages
// whose topic equals the filter string. Messages delivered through a
// wildcard subscription reach the fallback handler instead.
//
// Re-subscribing an existing topic overwrites its QoS and handler. A nil
// handler leaves the topic to the fallback handler.
//
// The call does not wait for SUBACK.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for messages on exactly this topic (may be nil)
//
// Returns:
//   - error: ErrNotConnected, ErrInvalidQoS, ErrInvalidTopic, or a wrapped ErrTransport
//
// Example:
//
//	err := session.Subscribe("sensors/temp", mqtt.QoSAtMostOnce,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
func (s *Session) Subscribe(topic string, qos QoS, handler MessageHandler) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !qos.Valid() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	if err := ValidateTopicFilter(topic); err != nil {
		s.mu.Unlock()
		return err
	}

	// Track before sending so messages arriving right after SUBACK are routed.
	sub := &subscription{topic: topic, qos: qos, handler: handler}
	previous, existed := s.subscriptions[topic]
	s.subscriptions[topic] = sub
	gen := s.generation
	s.mu.Unlock()

	if err := s.transport.SendSubscribe(topic, qos); err != nil {
		s.mu.Lock()
		if current, ok := s.subscriptions[topic]; ok && current == sub && s.generation == gen {
			if existed {
				s.subscriptions[topic] = previous
			} else {
				delete(s.subscriptions, topic)
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, topic, err)
	}

	s.getLogger().Debug("MQTT subscribed", "topic", topic, "qos", int(qos), "handler", handler != nil)
	return nil
}

// Unsubscribe removes topic and its handler and sends UNSUBSCRIBE.
//
// After unsubscribing, messages on this topic are dropped unless another
// subscription still covers it. Any message already in flight may still be
// delivered by the broker.
//
// Parameters:
//   - topic: The exact topic filter that was subscribed to
//
// Returns:
//   - error: ErrNotSubscribed, or a wrapped ErrTransport (the subscription is kept)
func (s *Session) Unsubscribe(topic string) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[topic]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotSubscribed, topic)
	}
	delete(s.subscriptions, topic)
	gen := s.generation
	s.mu.Unlock()

	if err := s.transport.SendUnsubscribe(topic); err != nil {
		s.mu.Lock()
		if _, readded := s.subscriptions[topic]; !readded && s.generation == gen {
			s.subscriptions[topic] = sub
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: unsubscribe %q: %w", ErrTransport, topic, err)
	}

	s.getLogger().Debug("MQTT unsubscribed", "topic", topic)
	return nil
}

// SetHandler attaches or replaces the handler of an already subscribed topic
// without re-subscribing. A nil handler detaches it.
//
// Returns:
//   - error: ErrNotSubscribed if topic is not in the subscription set
func (s *Session) SetHandler(topic string, handler MessageHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[topic]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotSubscribed, topic)
	}
	sub.handler = handler
	return nil
}

// SetFallbackHandler replaces the session-wide handler for messages on
// subscribed topics without a specific handler. A nil handler removes it.
func (s *Session) SetFallbackHandler(handler MessageHandler) {
	s.SetFallbackReceiver(handler.receiveFunc())
}

// SetFallbackReceiver is SetFallbackHandler for a handler that needs the
// delivered QoS and retain flag. It replaces any fallback set either way.
func (s *Session) SetFallbackReceiver(fn ReceiveFunc) {
	s.mu.Lock()
	s.fallback = fn
	s.mu.Unlock()
}

// Subscriptions returns a snapshot of the subscription set ordered by topic.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	subs := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, Subscription{
			Topic:      sub.topic,
			QoS:        sub.qos,
			HasHandler: sub.handler != nil,
		})
	}
	s.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].Topic < subs[j].Topic
	})
	return subs
}

// SubscriptionCount returns the number of active subscriptions.
func (s *Session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (s *Session) HasSubscription(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.subscriptions[topic]
	return exists
}
