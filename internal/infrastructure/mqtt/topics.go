package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the service's own status traffic.
const (
	// TopicPrefixClient is the base for per-client status topics.
	TopicPrefixClient = "graylogic/mqtt"

	// maxTopicLength is the MQTT limit on a UTF-8 encoded topic (2-byte length prefix).
	maxTopicLength = 65535
)

// DefaultStatusTopic returns the retained online/offline status topic for clientID.
//
// Example: graylogic/mqtt/graylogic-mqtt-1a2b3c4d/status
func DefaultStatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixClient, clientID)
}

// ValidateTopicName checks a topic used for PUBLISH.
// Names must be non-empty and must not contain wildcards or NUL.
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used for SUBSCRIBE.
//
// '+' must occupy a whole level. '#' must occupy a whole level and be the
// last level.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") {
			if level != "#" || i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last whole level in %q", ErrInvalidTopic, filter)
			}
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

// MatchTopic reports whether topic matches filter using MQTT wildcard rules.
//
// A filter starting with a wildcard never matches a topic starting with '$'.
//
//	MatchTopic("sensors/+/temp", "sensors/kitchen/temp") // true
//	MatchTopic("sensors/#", "sensors")                   // true
//	MatchTopic("#", "$SYS/uptime")                       // false
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		switch f {
		case "#":
			return true
		case "+":
			if i >= len(tl) {
				return false
			}
		default:
			if i >= len(tl) || f != tl[i] {
				return false
			}
		}
	}
	return len(fl) == len(tl)
}
