// Package influxdb writes MQTT message telemetry to InfluxDB v2.
//
// Numeric payloads received by the session are stored in the mqtt_messages
// measurement, tagged by topic, using the non-blocking batched write API of
// influxdb-client-go.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMessageMetric("sensors/kitchen/temp", 21.5, time.Now())
//
// Batching follows batch_size and flush_interval from the configuration.
package influxdb
