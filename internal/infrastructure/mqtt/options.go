package mqtt

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultScheme is used when the broker scheme is not configured.
	defaultScheme = "ws"

	// defaultWebSocketPath is the HTTP path for ws/wss brokers.
	defaultWebSocketPath = "/mqtt"

	// defaultDisconnectQuiesce is the time to wait for pending operations on Close.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval when none is configured.
	defaultKeepAlive = 60 * time.Second

	// statusQoS is used for the LWT and status messages.
	statusQoS = 1

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL builds the paho broker URL for target.
//
// ws and wss include the configured path; tcp and ssl ignore it.
//
// Example: ws://localhost:8080/mqtt
func brokerURL(cfg config.MQTTConfig, target Target) string {
	scheme := strings.ToLower(cfg.Broker.Scheme)
	if scheme == "" {
		scheme = defaultScheme
	}

	url := fmt.Sprintf("%s://%s:%d", scheme, target.Host, target.Port)
	if scheme == "ws" || scheme == "wss" {
		path := cfg.Broker.Path
		if path == "" {
			path = defaultWebSocketPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		url += path
	}
	return url
}

// buildClientOptions creates paho MQTT options for one connection attempt.
//
// This configures:
//   - Broker URL (ws://, wss://, tcp:// or ssl://)
//   - Client ID from target
//   - Authentication credentials (if provided)
//   - Clean session, no auto-reconnect (the session owns reconnect policy)
//   - TLS configuration for wss and ssl
//   - Last Will and Testament when a status topic is configured
func buildClientOptions(cfg config.MQTTConfig, target Target, connectTimeout time.Duration) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg, target))

	// Client identification
	opts.SetClientID(target.ClientID)

	// Authentication (if credentials provided)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Subscriptions are discarded on loss, so paho must not reconnect behind our back.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(connectTimeout)

	keepAlive := defaultKeepAlive
	if cfg.KeepAlive > 0 {
		keepAlive = time.Duration(cfg.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	// Handlers may call back into the session; ordered delivery would deadlock them.
	opts.SetOrderMatters(false)

	scheme := strings.ToLower(cfg.Broker.Scheme)
	if scheme == "wss" || scheme == "ssl" {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if cfg.StatusTopic != "" {
		configureLWT(opts, cfg.StatusTopic, target.ClientID)
	}

	return opts
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// The LWT message is published by the broker if the client disconnects
// unexpectedly (crash, network failure, etc.).
//
// QoS: 1 (guaranteed delivery)
// Retained: true (new subscribers see last status)
func configureLWT(opts *pahomqtt.ClientOptions, topic, clientID string) {
	willPayload := fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"unexpected_disconnect","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)

	opts.SetWill(topic, willPayload, statusQoS, true)
}

// OnlinePayload creates the JSON payload for online status messages.
func OnlinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// OfflinePayload creates the JSON payload for graceful offline status.
func OfflinePayload(clientID string) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"graceful_shutdown","timestamp":"%s"}`,
		clientID,
		time.Now().UTC().Format(time.RFC3339),
	)
}
