// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic MQTT session daemon.
//
// This package provides:
//   - Session status and health endpoints
//   - Subscription management and publishing through the live session
//   - Message history queries backed by SQLite
//   - WebSocket hub streaming inbound messages filtered by MQTT topic filters
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server runs while the session is disconnected. Reads and WebSocket
// connections keep working; subscribe and publish answer 503 until the
// session reconnects. History endpoints answer 503 when the database is
// disabled.
package api
