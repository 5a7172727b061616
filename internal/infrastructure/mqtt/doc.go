// Package mqtt implements the client side of a single MQTT session.
//
// This package manages:
//   - The connect handshake and the Disconnected/Connecting/Connected lifecycle
//   - The subscription set and per-topic message handlers
//   - Inbound dispatch with a session-wide fallback handler
//   - Fire-and-forget publishing
//
// # Architecture
//
// Session holds protocol state only. Wire I/O and MQTT framing live behind
// the Transport interface:
//
//	application ↔ Session ↔ Transport ↔ broker
//
// PahoTransport talks to a real broker over WebSocket (ws/wss) or TCP
// (tcp/ssl) using paho.mqtt.golang. The mqtttest package provides an
// in-memory Transport for deterministic tests.
//
// # Session Semantics
//
//   - Subscribe, Unsubscribe and Publish require Connected and never wait for
//     broker acknowledgement.
//   - Nothing is queued or retried. Connection loss and Disconnect discard
//     every subscription; re-subscribe after reconnecting.
//   - Handlers are looked up by the exact topic the broker reports. Messages
//     that arrive through wildcard subscriptions reach the fallback handler.
//   - Handler errors and panics are logged with the topic and never
//     propagate.
//   - Disconnect during a handshake suppresses both connect callbacks.
//
// # Usage
//
//	session := mqtt.NewSession(target, mqtt.NewPahoTransport(cfg.MQTT))
//	if err := session.ConnectAndWait(ctx, 3*time.Second); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Disconnect()
//
//	err := session.Subscribe("sensors/temp", mqtt.QoSAtMostOnce,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	session.Publish("actuators/fan", []byte(`{"on":true}`), mqtt.QoSAtLeastOnce, false)
package mqtt
