package main

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
)

// Reconnect backoff bounds. The session never reconnects on its own.
var (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = time.Minute
)

// newSession creates a session for the configured broker.
func newSession(cfg *config.Config, transport mqtt.Transport, log *logging.Logger) *mqtt.Session {
	session := mqtt.NewSession(mqtt.Target{
		Host:     cfg.MQTT.Broker.Host,
		Port:     cfg.MQTT.Broker.Port,
		ClientID: cfg.MQTT.Broker.ClientID,
	}, transport)
	session.SetLogger(log.With("component", "mqtt"))
	return session
}

// establish connects the session, subscribes the configured topics and
// publishes the retained online status.
//
// A subscription that fails is logged and skipped so one bad filter does
// not keep the daemon offline.
func establish(ctx context.Context, session *mqtt.Session, cfg *config.Config, log *logging.Logger) error {
	if err := session.ConnectAndWait(ctx, cfg.GetConnectTimeout()); err != nil {
		return err
	}

	target := session.Target()
	log.Info("MQTT connected",
		"broker", target.String(),
		"client_id", target.ClientID,
	)

	for _, sub := range cfg.MQTT.Subscriptions {
		if err := session.Subscribe(sub.Topic, mqtt.QoS(sub.QoS), nil); err != nil {
			log.Error("MQTT subscribe failed", "topic", sub.Topic, "error", err)
			continue
		}
	}
	log.Info("MQTT subscriptions established", "count", session.SubscriptionCount())

	if err := publishStatus(session, cfg, mqtt.OnlinePayload(target.ClientID)); err != nil {
		log.Warn("failed to publish online status", "topic", cfg.MQTT.StatusTopic, "error", err)
	}
	return nil
}

// publishStatus publishes a retained status payload to the status topic.
func publishStatus(session *mqtt.Session, cfg *config.Config, payload string) error {
	if cfg.MQTT.StatusTopic == "" {
		return nil
	}
	return session.PublishString(cfg.MQTT.StatusTopic, payload, mqtt.QoSAtLeastOnce, true)
}

// shutdownSession publishes the graceful offline status and disconnects.
func shutdownSession(session *mqtt.Session, cfg *config.Config, log *logging.Logger) {
	if session.IsConnected() {
		payload := mqtt.OfflinePayload(session.Target().ClientID)
		if err := publishStatus(session, cfg, payload); err != nil {
			log.Warn("failed to publish offline status", "error", err)
		}
	}
	session.Disconnect()
}

// supervise re-establishes the session after each connection loss until
// ctx is done. Delays double from initialReconnectDelay up to
// maxReconnectDelay.
func supervise(ctx context.Context, session *mqtt.Session, cfg *config.Config, lost <-chan error, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-lost:
			log.Warn("MQTT connection lost", "error", err)
		}

		if !reconnect(ctx, session, cfg, log) {
			return
		}
	}
}

// reconnect retries establish with exponential backoff. It returns false
// if ctx ended first.
func reconnect(ctx context.Context, session *mqtt.Session, cfg *config.Config, log *logging.Logger) bool {
	delay := initialReconnectDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		err := establish(ctx, session, cfg, log)
		if err == nil {
			log.Info("MQTT reconnected", "attempts", attempt)
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}

		delay = min(delay*2, maxReconnectDelay)
		log.Warn("MQTT reconnect failed",
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)
	}
}
