package mqtt

// dispatch routes one inbound message from connection generation gen.
//
// Lookup is an exact match on the reported topic. A topic-specific handler
// wins; otherwise the fallback handler runs, provided some current
// subscription filter still covers the topic. Anything else is dropped.
// The handler runs outside the session lock.
func (s *Session) dispatch(gen uint64, msg Message) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}

	var handler ReceiveFunc
	if sub, ok := s.subscriptions[msg.Topic]; ok && sub.handler != nil {
		handler = sub.handler.receiveFunc()
	} else if s.fallback != nil && s.coveredLocked(msg.Topic) {
		handler = s.fallback
	}
	s.mu.Unlock()

	if handler == nil {
		s.getLogger().Debug("MQTT message dropped, no handler", "topic", msg.Topic)
		return
	}

	s.invoke(handler, msg)
}

// coveredLocked reports whether any subscription filter matches topic.
// s.mu must be held.
func (s *Session) coveredLocked(topic string) bool {
	if _, ok := s.subscriptions[topic]; ok {
		return true
	}
	for filter := range s.subscriptions {
		if MatchTopic(filter, topic) {
			return true
		}
	}
	return false
}

// invoke runs handler with panic recovery. Errors and panics are logged
// with the topic and never reach the transport.
func (s *Session) invoke(handler ReceiveFunc, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.getLogger().Error("MQTT handler panic recovered",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	if err := handler(msg); err != nil {
		s.getLogger().Warn("MQTT handler returned error",
			"topic", msg.Topic,
			"error", err,
		)
	}
}
