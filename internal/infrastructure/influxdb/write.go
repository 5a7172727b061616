package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MessageMeasurement is the measurement numeric MQTT payloads are written to.
const MessageMeasurement = "mqtt_messages"

// WriteMessageMetric records a numeric payload received on topic.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteMessageMetric("sensors/kitchen/temp", 21.5, time.Now())
func (c *Client) WriteMessageMetric(topic string, value float64, at time.Time) {
	c.WritePoint(MessageMeasurement,
		map[string]string{"topic": topic},
		map[string]any{"value": value},
		at,
	)
}

// WritePoint writes a point with explicit tags and fields. A zero timestamp means now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
