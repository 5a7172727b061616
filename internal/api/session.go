package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
)

// sessionResponse is the body of GET /session.
type sessionResponse struct {
	State             string              `json:"state"`
	Broker            string              `json:"broker"`
	ClientID          string              `json:"client_id"`
	SubscriptionCount int                 `json:"subscription_count"`
	Subscriptions     []mqtt.Subscription `json:"subscriptions"`
}

// subscribeRequest is the body of POST /subscriptions.
type subscribeRequest struct {
	Topic string `json:"topic"`
	QoS   *int   `json:"qos,omitempty"`
}

// publishRequest is the body of POST /publish.
//
// Encoding is utf8 (the default) or base64, matching WSMessageEvent.
type publishRequest struct {
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`
	Encoding string `json:"encoding,omitempty"`
	QoS      *int   `json:"qos,omitempty"`
	Retained bool   `json:"retained"`
}

// decodePayload returns the raw bytes described by Payload and Encoding.
func (p publishRequest) decodePayload() ([]byte, error) {
	switch p.Encoding {
	case "", EncodingUTF8:
		return []byte(p.Payload), nil
	case EncodingBase64:
		payload, err := base64.StdEncoding.DecodeString(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("payload is not valid base64: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", p.Encoding)
	}
}

// handleGetSession returns the session state and its subscription set.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	target := s.session.Target()
	subs := s.session.Subscriptions()

	writeJSON(w, http.StatusOK, sessionResponse{
		State:             s.session.State().String(),
		Broker:            target.String(),
		ClientID:          target.ClientID,
		SubscriptionCount: len(subs),
		Subscriptions:     subs,
	})
}

// handleListSubscriptions returns the current subscription set.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.session.Subscriptions()
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// handleSubscribe subscribes the session to a topic filter.
//
// No per-topic handler is registered, so matching messages reach the
// session's fallback handler (the relay).
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	qos, err := s.resolveQoS(req.QoS)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if err := s.session.Subscribe(req.Topic, qos, nil); err != nil {
		writeSessionError(w, err)
		return
	}

	s.logger.Info("subscription added via API", "topic", req.Topic, "qos", int(qos))
	writeJSON(w, http.StatusCreated, mqtt.Subscription{Topic: req.Topic, QoS: qos})
}

// handleUnsubscribe removes the subscription named by the topic query parameter.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeBadRequest(w, "topic query parameter is required")
		return
	}

	if err := s.session.Unsubscribe(topic); err != nil {
		writeSessionError(w, err)
		return
	}

	s.logger.Info("subscription removed via API", "topic", topic)
	w.WriteHeader(http.StatusNoContent)
}

// handlePublish publishes a message through the session.
//
// The broker acknowledgement is not awaited, so success is 202 Accepted.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	payload, err := req.decodePayload()
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	qos, err := s.resolveQoS(req.QoS)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if err := s.session.Publish(req.Topic, payload, qos, req.Retained); err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"topic":    req.Topic,
		"qos":      int(qos),
		"retained": req.Retained,
		"bytes":    len(payload),
	})
}

// resolveQoS applies the default when v is nil.
func (s *Server) resolveQoS(v *int) (mqtt.QoS, error) {
	if v == nil {
		return s.defaultQoS, nil
	}
	return mqtt.ParseQoS(*v)
}
