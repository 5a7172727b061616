// Package mqtttest provides an in-memory mqtt.Transport for tests.
//
// Broker records every frame a session sends and lets tests inject inbound
// messages and connection loss without a network:
//
//	broker := mqtttest.NewBroker()
//	session := mqtt.NewSession(mqtttest.Target(), broker)
//	_ = session.ConnectAndWait(ctx, time.Second)
//	_ = session.Subscribe("sensors/temp", mqtt.QoSAtMostOnce, handler)
//	broker.Deliver("sensors/temp", []byte("21.5"))
package mqtttest

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
)

// AckMode controls how Open answers the CONNECT handshake.
type AckMode int

const (
	// AckImmediate acknowledges (or fails with the open error) straight away.
	AckImmediate AckMode = iota

	// AckManual blocks Open until Ack or Fail is called. Cancellation of the
	// connect context is ignored, so a late acknowledgement can be simulated.
	AckManual

	// AckNever blocks Open until the connect context is done.
	AckNever
)

// ErrClosed is returned by send methods when no connection is open.
var ErrClosed = errors.New("mqtttest: connection not open")

// SubscribeFrame is a recorded SUBSCRIBE.
type SubscribeFrame struct {
	Topic string
	QoS   mqtt.QoS
}

// Broker is a stub broker and transport in one.
type Broker struct {
	mu sync.Mutex

	mode    AckMode
	openErr error
	sendErr error

	// loopback delivers publishes back when a recorded subscription matches.
	loopback bool

	acks chan error

	open   bool
	epoch  uint64
	events mqtt.Events
	target mqtt.Target

	opens  int
	closes int

	subscribed   map[string]mqtt.QoS
	subscribes   []SubscribeFrame
	unsubscribes []string
	publishes    []mqtt.PublishRequest
}

// NewBroker returns a broker that acknowledges connections immediately.
func NewBroker() *Broker {
	return &Broker{
		mode:       AckImmediate,
		acks:       make(chan error, 1),
		subscribed: make(map[string]mqtt.QoS),
	}
}

// Target returns a fixed target suitable for tests.
func Target() mqtt.Target {
	return mqtt.Target{Host: "broker.test", Port: 8080, ClientID: "graylogic-test"}
}

// SetAckMode changes how subsequent Open calls are answered.
func (b *Broker) SetAckMode(mode AckMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
}

// SetOpenError makes AckImmediate opens fail with err. Nil restores success.
func (b *Broker) SetOpenError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// SetSendError makes every send method fail with err. Nil restores success.
func (b *Broker) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}

// SetLoopback enables delivery of published messages to matching subscriptions.
func (b *Broker) SetLoopback(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loopback = enabled
}

// Ack completes a pending AckManual handshake successfully.
func (b *Broker) Ack() {
	b.answer(nil)
}

// Fail completes a pending AckManual handshake with err.
func (b *Broker) Fail(err error) {
	b.answer(err)
}

func (b *Broker) answer(err error) {
	select {
	case b.acks <- err:
	default:
	}
}

// Open implements mqtt.Transport.
func (b *Broker) Open(ctx context.Context, target mqtt.Target, events mqtt.Events) error {
	b.mu.Lock()
	b.opens++
	b.target = target
	mode := b.mode
	openErr := b.openErr
	epoch := b.epoch
	b.mu.Unlock()

	var err error
	switch mode {
	case AckManual:
		err = <-b.acks
	case AckNever:
		<-ctx.Done()
		err = ctx.Err()
	default:
		err = openErr
	}
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// A Close during the handshake wins; the acknowledgement arrived too late.
	if b.epoch == epoch {
		b.open = true
		b.events = events
		b.subscribed = make(map[string]mqtt.QoS)
	}
	return nil
}

// SendSubscribe implements mqtt.Transport.
func (b *Broker) SendSubscribe(topic string, qos mqtt.QoS) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkSendLocked(); err != nil {
		return err
	}
	b.subscribes = append(b.subscribes, SubscribeFrame{Topic: topic, QoS: qos})
	b.subscribed[topic] = qos
	return nil
}

// SendUnsubscribe implements mqtt.Transport.
func (b *Broker) SendUnsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkSendLocked(); err != nil {
		return err
	}
	b.unsubscribes = append(b.unsubscribes, topic)
	delete(b.subscribed, topic)
	return nil
}

// SendPublish implements mqtt.Transport.
func (b *Broker) SendPublish(req mqtt.PublishRequest) error {
	b.mu.Lock()
	if err := b.checkSendLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	b.publishes = append(b.publishes, req)

	deliver := false
	if b.loopback {
		for filter := range b.subscribed {
			if mqtt.MatchTopic(filter, req.Topic) {
				deliver = true
				break
			}
		}
	}
	onMessage := b.events.OnMessage
	b.mu.Unlock()

	if deliver && onMessage != nil {
		onMessage(mqtt.Message{
			Topic:    req.Topic,
			Payload:  req.Payload,
			QoS:      req.QoS,
			Retained: req.Retained,
		})
	}
	return nil
}

func (b *Broker) checkSendLocked() error {
	if b.sendErr != nil {
		return b.sendErr
	}
	if !b.open {
		return ErrClosed
	}
	return nil
}

// Close implements mqtt.Transport.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	b.epoch++
	b.open = false
	b.events = mqtt.Events{}
	b.subscribed = make(map[string]mqtt.QoS)
}

// Deliver injects an inbound PUBLISH on topic, whether or not the session
// subscribed to it. It reports false if no connection is open.
func (b *Broker) Deliver(topic string, payload []byte) bool {
	return b.DeliverMessage(mqtt.Message{Topic: topic, Payload: payload})
}

// DeliverMessage injects msg as an inbound PUBLISH.
func (b *Broker) DeliverMessage(msg mqtt.Message) bool {
	b.mu.Lock()
	onMessage := b.events.OnMessage
	open := b.open
	b.mu.Unlock()

	if !open || onMessage == nil {
		return false
	}
	onMessage(msg)
	return true
}

// Lose simulates an unexpected connection drop.
func (b *Broker) Lose(err error) {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return
	}
	b.open = false
	onLost := b.events.OnConnectionLost
	b.mu.Unlock()

	if onLost != nil {
		onLost(err)
	}
}

// IsOpen reports whether a connection is currently open.
func (b *Broker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Opens returns how many times Open has been entered.
func (b *Broker) Opens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

// Closes returns how many times Close has been called.
func (b *Broker) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// LastTarget returns the target passed to the most recent Open.
func (b *Broker) LastTarget() mqtt.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// Subscribes returns the recorded SUBSCRIBE frames.
func (b *Broker) Subscribes() []SubscribeFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SubscribeFrame(nil), b.subscribes...)
}

// Unsubscribes returns the recorded UNSUBSCRIBE topics.
func (b *Broker) Unsubscribes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unsubscribes...)
}

// Publishes returns the recorded PUBLISH requests.
func (b *Broker) Publishes() []mqtt.PublishRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mqtt.PublishRequest(nil), b.publishes...)
}

// Reset clears recorded frames.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribes = nil
	b.unsubscribes = nil
	b.publishes = nil
}
