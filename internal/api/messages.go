package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-mqtt/internal/history"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
)

// maxQueryParamLen bounds free-form query parameters.
const maxQueryParamLen = 1024

// messageResponse is one history entry as returned by GET /messages.
type messageResponse struct {
	ID         int64  `json:"id"`
	Topic      string `json:"topic"`
	Payload    string `json:"payload"`
	Encoding   string `json:"encoding"`
	QoS        int    `json:"qos"`
	Retained   bool   `json:"retained"`
	ReceivedAt string `json:"received_at"`
}

// handleListMessages returns recent inbound messages, newest first.
//
// Query parameters:
//   - topic: exact topic to filter by (optional)
//   - limit: maximum entries (default 50, max 500)
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeServiceUnavailable(w, "message history is disabled")
		return
	}

	topic := r.URL.Query().Get("topic")
	if len(topic) > maxQueryParamLen {
		writeBadRequest(w, "topic too long")
		return
	}
	if topic != "" {
		if err := mqtt.ValidateTopicName(topic); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.Recent(r.Context(), topic, limit)
	if err != nil {
		s.logger.Error("message history query failed", "topic", topic, "error", err)
		writeInternalError(w, "failed to query message history")
		return
	}

	messages := make([]messageResponse, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, toMessageResponse(e))
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "count": len(messages)})
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return history.DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > history.MaxLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

func toMessageResponse(e history.Entry) messageResponse {
	resp := messageResponse{
		ID:         e.ID,
		Topic:      e.Topic,
		Payload:    string(e.Payload),
		Encoding:   EncodingUTF8,
		QoS:        e.QoS,
		Retained:   e.Retained,
		ReceivedAt: e.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if !utf8.Valid(e.Payload) {
		resp.Payload = base64.StdEncoding.EncodeToString(e.Payload)
		resp.Encoding = EncodingBase64
	}
	return resp
}
