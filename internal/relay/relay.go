// Package relay fans inbound MQTT messages out to the local consumers.
//
// A Relay is installed as the session's message handler. For every message
// it appends a row to the SQLite history, writes numeric payloads to
// InfluxDB and broadcasts the message to WebSocket clients whose topic
// filters match. Each consumer is optional.
//
//	r := relay.New(relay.Deps{History: repo, Metrics: influx, Hub: hub, Logger: log})
//	session.SetFallbackReceiver(r.HandleMessage)
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-mqtt/internal/history"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
)

// DefaultRecordTimeout bounds a single history write.
const DefaultRecordTimeout = 2 * time.Second

// Recorder persists inbound messages. history.Repository satisfies it.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// MetricWriter receives numeric payloads. *influxdb.Client satisfies it.
type MetricWriter interface {
	WriteMessageMetric(topic string, value float64, at time.Time)
}

// Broadcaster pushes messages to live subscribers. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(topic string, payload []byte, at time.Time)
}

// Deps holds the consumers a Relay feeds. Nil fields are skipped.
type Deps struct {
	History Recorder
	Metrics MetricWriter
	Hub     Broadcaster
	Logger  *logging.Logger

	// RecordTimeout bounds each history write. Default: DefaultRecordTimeout
	RecordTimeout time.Duration
}

// Relay forwards inbound messages to its consumers.
//
// Thread Safety: Handle is safe for concurrent use.
type Relay struct {
	history       Recorder
	metrics       MetricWriter
	hub           Broadcaster
	logger        *logging.Logger
	recordTimeout time.Duration

	now func() time.Time

	received atomic.Uint64
	numeric  atomic.Uint64
	failed   atomic.Uint64
}

// New creates a Relay for deps.
func New(deps Deps) *Relay {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	timeout := deps.RecordTimeout
	if timeout <= 0 {
		timeout = DefaultRecordTimeout
	}

	return &Relay{
		history:       deps.History,
		metrics:       deps.Metrics,
		hub:           deps.Hub,
		logger:        logger.With("component", "relay"),
		recordTimeout: timeout,
		now:           time.Now,
	}
}

// HandleMessage forwards one message. It matches mqtt.ReceiveFunc, so the
// history keeps the QoS and retain flag the broker delivered.
//
// A failing consumer does not stop the others. The returned error joins
// every failure and is logged by the session with the topic.
func (r *Relay) HandleMessage(msg mqtt.Message) error {
	topic, payload := msg.Topic, msg.Payload
	r.received.Add(1)
	at := r.now().UTC()

	var errs []error

	if r.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		err := r.history.Record(ctx, history.Entry{
			Topic:      topic,
			Payload:    payload,
			QoS:        int(msg.QoS),
			Retained:   msg.Retained,
			ReceivedAt: at,
		})
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("recording history: %w", err))
		}
	}

	if r.metrics != nil {
		if value, ok := ParseNumeric(payload); ok {
			r.numeric.Add(1)
			r.metrics.WriteMessageMetric(topic, value, at)
		}
	}

	if r.hub != nil {
		r.hub.Broadcast(topic, payload, at)
	}

	if len(errs) > 0 {
		r.failed.Add(1)
		return errors.Join(errs...)
	}

	r.logger.Debug("message relayed", "topic", topic, "bytes", len(payload))
	return nil
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Received uint64 `json:"received"`
	Numeric  uint64 `json:"numeric"`
	Failed   uint64 `json:"failed"`
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Received: r.received.Load(),
		Numeric:  r.numeric.Load(),
		Failed:   r.failed.Load(),
	}
}

// ParseNumeric interprets payload as a single number.
//
// Surrounding whitespace is ignored. true and false map to 1 and 0.
// NaN and infinities are rejected.
func ParseNumeric(payload []byte) (float64, bool) {
	s := string(bytes.TrimSpace(payload))
	switch s {
	case "":
		return 0, false
	case "true":
		return 1, true
	case "false":
		return 0, true
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
