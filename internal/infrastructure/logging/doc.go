// Package logging provides structured logging for the MQTT session daemon.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the session core, relay and API.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("session connected", "broker", "ws://localhost:8080/mqtt")
//
// Never log broker passwords or API tokens.
package logging
