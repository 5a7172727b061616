// Package history stores inbound MQTT messages in SQLite.
//
// It gives the API a short local record of what the session received, even
// when InfluxDB is disabled. Rows are pruned by age.
package history

import (
	"context"
	"errors"
	"time"
)

// Query limits for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrTopicRequired is returned when Record is called without a topic.
var ErrTopicRequired = errors.New("history: topic is required")

// Entry is one recorded inbound message.
type Entry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// Topic is the concrete topic the broker delivered on.
	Topic string `json:"topic"`

	// Payload is the raw message body.
	Payload []byte `json:"payload"`

	QoS      int  `json:"qos"`
	Retained bool `json:"retained"`

	// ReceivedAt is when the session dispatched the message (UTC, millisecond precision).
	ReceivedAt time.Time `json:"received_at"`
}

// Repository stores and retrieves message history.
//
// Implementations must be thread-safe.
type Repository interface {
	// Record appends an entry. A zero ReceivedAt is set to now.
	Record(ctx context.Context, entry Entry) error

	// Recent returns up to limit entries, newest first. An empty topic
	// returns entries for all topics. limit is clamped to [1, MaxLimit],
	// with non-positive values meaning DefaultLimit.
	Recent(ctx context.Context, topic string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and returns how many were removed.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
