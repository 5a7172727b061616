package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultConnectTimeout is used when Connect is called with a non-positive timeout.
const DefaultConnectTimeout = 3 * time.Second

// Session is a single logical MQTT client session.
//
// It tracks connection state, the subscription set with its per-topic
// handlers, and routes inbound messages. All wire work is delegated to the
// Transport passed to NewSession.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are discarded on Disconnect and on connection loss; the
//     application re-subscribes after reconnecting.
type Session struct {
	target    Target
	transport Transport

	// mu guards everything below it.
	mu    sync.Mutex
	state State

	// generation increments on every Connect and every teardown so that
	// notifications from an earlier connection attempt are ignored.
	generation    uint64
	cancelConnect context.CancelFunc

	subscriptions map[string]*subscription
	fallback      ReceiveFunc

	onConnectionLost func(err error)

	logger   Logger
	loggerMu sync.RWMutex
}

// subscription is one entry in the subscription set.
type subscription struct {
	topic   string
	qos     QoS
	handler MessageHandler
}

// NewSession creates a Disconnected session for target using transport.
//
// Parameters:
//   - target: Broker host/port and client identifier
//   - transport: Wire collaborator; owned by the session from now on
//
// Returns:
//   - *Session: Session ready for Connect
func NewSession(target Target, transport Transport) *Session {
	return &Session{
		target:        target,
		transport:     transport,
		state:         StateDisconnected,
		subscriptions: make(map[string]*subscription),
		logger:        slog.Default(),
	}
}

// Connect starts the connect handshake and returns immediately.
//
// onSuccess runs once the broker acknowledges the connection. onFailure
// receives an error wrapping ErrTimeout, ErrTransport or ErrProtocol if the
// handshake does not complete within timeout. Either callback may be nil.
//
// Calling Connect while Connected reports success immediately. Calling it
// while Connecting reports ErrAlreadyConnecting. If Disconnect is called
// before the handshake completes, neither callback runs for that attempt.
func (s *Session) Connect(timeout time.Duration, onSuccess func(), onFailure func(err error)) {
	s.connect(timeout, onSuccess, onFailure)
}

// connect is Connect that also reports whether it started a handshake and,
// if so, the generation that handshake belongs to.
func (s *Session) connect(timeout time.Duration, onSuccess func(), onFailure func(err error)) (uint64, bool) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		notifySuccess(onSuccess)
		return 0, false
	case StateConnecting:
		s.mu.Unlock()
		notifyFailure(onFailure, ErrAlreadyConnecting)
		return 0, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	s.state = StateConnecting
	s.generation++
	gen := s.generation
	s.cancelConnect = cancel
	s.mu.Unlock()

	s.getLogger().Info("connecting to MQTT broker",
		"broker", s.target.String(),
		"client_id", s.target.ClientID,
		"timeout", timeout,
	)

	events := Events{
		OnMessage: func(msg Message) {
			s.dispatch(gen, msg)
		},
		OnConnectionLost: func(err error) {
			s.handleConnectionLost(gen, err)
		},
	}

	go s.handshake(ctx, cancel, gen, timeout, events, onSuccess, onFailure)
	return gen, true
}

// ConnectAndWait runs Connect and blocks until the handshake finishes.
//
// A ctx that is already done returns ctx.Err() without touching the session.
// If ctx is done while the handshake this call started is still pending,
// that attempt is abandoned and ctx.Err() is returned. A session that is
// already Connected, or a handshake started by another caller, is never
// torn down.
func (s *Session) ConnectAndWait(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	gen, started := s.connect(timeout,
		func() { done <- nil },
		func(err error) { done <- err },
	)
	if !started {
		// Connected and Connecting answer synchronously.
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if s.abandonConnect(gen) {
			return ctx.Err()
		}
		// The handshake settled first.
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

// abandonConnect tears the session down only while the handshake of
// generation gen is still pending. It reports whether it did.
func (s *Session) abandonConnect(gen uint64) bool {
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnecting {
		s.mu.Unlock()
		return false
	}
	s.resetLocked()
	s.mu.Unlock()

	s.transport.Close()

	s.getLogger().Info("MQTT connect abandoned",
		"broker", s.target.String(),
	)
	return true
}

// handshake runs transport.Open for one connection attempt and settles the
// session state with its outcome.
func (s *Session) handshake(ctx context.Context, cancel context.CancelFunc, gen uint64, timeout time.Duration, events Events, onSuccess func(), onFailure func(err error)) {
	defer cancel()

	err := s.transport.Open(ctx, s.target, events)

	s.mu.Lock()
	if s.generation != gen || s.state != StateConnecting {
		// Disconnect ran while the handshake was in flight; it already
		// released the transport.
		s.mu.Unlock()
		return
	}
	s.cancelConnect = nil
	if err != nil {
		s.state = StateDisconnected
		s.generation++
		s.mu.Unlock()

		err = classifyConnectError(err, timeout)
		s.getLogger().Warn("MQTT connect failed",
			"broker", s.target.String(),
			"error", err,
		)
		notifyFailure(onFailure, err)
		return
	}
	s.state = StateConnected
	s.mu.Unlock()

	s.getLogger().Info("MQTT connected",
		"broker", s.target.String(),
		"client_id", s.target.ClientID,
	)
	notifySuccess(onSuccess)
}

// classifyConnectError maps a transport Open failure onto the connect error taxonomy.
func classifyConnectError(err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrTimeout), errors.Is(err, ErrTransport):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: no CONNACK within %v", ErrTimeout, timeout)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// Disconnect tears the session down.
//
// From Connected or Connecting it moves to Disconnected, discards every
// subscription and per-topic handler, cancels any in-flight handshake and
// closes the transport. It is a no-op when already Disconnected.
// The fallback handler is session configuration and survives.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	previous := s.state
	dropped := s.resetLocked()
	s.mu.Unlock()

	s.transport.Close()

	s.getLogger().Info("MQTT session disconnected",
		"previous_state", previous.String(),
		"subscriptions_dropped", dropped,
	)
}

// resetLocked moves to Disconnected and clears per-connection state.
// It returns the number of subscriptions discarded. s.mu must be held.
func (s *Session) resetLocked() int {
	dropped := len(s.subscriptions)
	s.state = StateDisconnected
	s.generation++
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.subscriptions = make(map[string]*subscription)
	return dropped
}

// handleConnectionLost is the transport's notification that an open
// connection dropped.
func (s *Session) handleConnectionLost(gen uint64, err error) {
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	dropped := s.resetLocked()
	callback := s.onConnectionLost
	s.mu.Unlock()

	s.transport.Close()

	s.getLogger().Warn("MQTT connection lost",
		"broker", s.target.String(),
		"subscriptions_dropped", dropped,
		"error", err,
	)

	if callback != nil {
		callback(fmt.Errorf("%w: connection lost: %w", ErrTransport, err))
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is Connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Target returns the broker target the session was created with.
func (s *Session) Target() Target {
	return s.target
}

// HealthCheck verifies the session is connected.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, ErrNotConnected or the context error otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// SetOnConnectionLost sets a callback invoked after an unexpected connection
// loss has moved the session to Disconnected. The error wraps ErrTransport.
func (s *Session) SetOnConnectionLost(callback func(err error)) {
	s.mu.Lock()
	s.onConnectionLost = callback
	s.mu.Unlock()
}

// SetLogger replaces the logger used for lifecycle and handler failures.
// A nil logger restores slog.Default().
func (s *Session) SetLogger(logger Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger.
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func notifySuccess(onSuccess func()) {
	if onSuccess != nil {
		onSuccess()
	}
}

func notifyFailure(onFailure func(err error), err error) {
	if onFailure != nil {
		onFailure(err)
	}
}
