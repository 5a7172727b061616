package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
)

// PahoTransport is the production Transport backed by paho.mqtt.golang.
//
// Each Open creates a fresh paho client. Paho's own reconnect logic is
// disabled; connection loss is reported through Events.OnConnectionLost.
type PahoTransport struct {
	cfg config.MQTTConfig

	mu     sync.Mutex
	client pahomqtt.Client
}

// NewPahoTransport creates a transport using the scheme, path, credentials,
// keepalive and status topic from cfg. Host, port and client ID come from
// the Target passed to Open.
func NewPahoTransport(cfg config.MQTTConfig) *PahoTransport {
	return &PahoTransport{cfg: cfg}
}

// Open dials the broker and waits for CONNACK or ctx.
func (t *PahoTransport) Open(ctx context.Context, target Target, events Events) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	opts := buildClientOptions(t.cfg, target, timeout)

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, m pahomqtt.Message) {
		if events.OnMessage == nil {
			return
		}
		events.OnMessage(Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			QoS:      QoS(m.Qos()),
			Retained: m.Retained(),
		})
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if events.OnConnectionLost != nil {
			events.OnConnectionLost(err)
		}
	})

	client := pahomqtt.NewClient(opts)

	// The session cancels ctx before it calls Close, so a done ctx under
	// t.mu means this attempt was already abandoned.
	t.mu.Lock()
	if err := ctx.Err(); err != nil {
		t.mu.Unlock()
		return err
	}
	previous := t.client
	t.client = client
	t.mu.Unlock()

	if previous != nil {
		previous.Disconnect(0)
	}

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		t.release(client, 0)
		return ctx.Err()
	}

	if err := token.Error(); err != nil {
		t.release(client, 0)
		return classifyConnackError(token, err)
	}

	// CONNACK and cancellation can be ready together.
	if err := ctx.Err(); err != nil {
		t.release(client, 0)
		return err
	}

	return nil
}

// classifyConnackError separates broker refusals from network failures.
func classifyConnackError(token pahomqtt.Token, err error) error {
	ct, ok := token.(*pahomqtt.ConnectToken)
	if !ok {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	switch rc := ct.ReturnCode(); rc {
	case packets.Accepted, packets.ErrNetworkError:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	default:
		return fmt.Errorf("%w: CONNACK return code %d: %w", ErrProtocol, rc, err)
	}
}

// SendSubscribe writes a SUBSCRIBE.
//
// No route is registered, so messages land in the default publish handler.
func (t *PahoTransport) SendSubscribe(topic string, qos QoS) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	return tokenError(client.Subscribe(topic, byte(qos), nil))
}

// SendUnsubscribe writes an UNSUBSCRIBE.
func (t *PahoTransport) SendUnsubscribe(topic string) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	return tokenError(client.Unsubscribe(topic))
}

// SendPublish writes a PUBLISH.
func (t *PahoTransport) SendPublish(req PublishRequest) error {
	client, err := t.current()
	if err != nil {
		return err
	}
	return tokenError(client.Publish(req.Topic, byte(req.QoS), req.Retained, req.Payload))
}

// Close disconnects the current paho client, if any.
func (t *PahoTransport) Close() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// release disconnects client if it is still the current one.
func (t *PahoTransport) release(client pahomqtt.Client, quiesce uint) {
	t.mu.Lock()
	if t.client == client {
		t.client = nil
	}
	t.mu.Unlock()

	client.Disconnect(quiesce)
}

func (t *PahoTransport) current() (pahomqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return nil, pahomqtt.ErrNotConnected
	}
	return t.client, nil
}

// tokenError reports a token that already failed without waiting for
// acknowledgement of one still in flight.
func tokenError(token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}
