package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-mqtt/internal/history"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-mqtt/internal/infrastructure/mqtt/mqtttest"
	"github.com/nerrad567/gray-logic-mqtt/internal/relay"
	"github.com/nerrad567/gray-logic-mqtt/migrations"
)

// testEnv bundles a server with the collaborators tests poke at.
type testEnv struct {
	srv     *Server
	handler http.Handler
	session *mqtt.Session
	broker  *mqtttest.Broker
	repo    *history.SQLiteRepository
	hub     *Hub
	relay   *relay.Relay
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
}

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// newTestEnv creates a server around a connected session on a stub broker.
// The relay is installed as the session fallback handler, as in main.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := testLogger()
	db := setupTestDB(t)
	repo := history.NewSQLiteRepository(db.DB)
	hub := NewHub(testWSConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	rl := relay.New(relay.Deps{History: repo, Hub: hub, Logger: log})

	broker := mqtttest.NewBroker()
	session := mqtt.NewSession(mqtttest.Target(), broker)
	session.SetLogger(log)
	session.SetFallbackReceiver(rl.HandleMessage)
	if err := session.ConnectAndWait(ctx, time.Second); err != nil {
		t.Fatalf("ConnectAndWait() error = %v", err)
	}
	t.Cleanup(session.Disconnect)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:         testWSConfig(),
		Logger:     log,
		Session:    session,
		DefaultQoS: mqtt.QoSAtMostOnce,
		History:    repo,
		DB:         db,
		Relay:      rl,
		Hub:        hub,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:     srv,
		handler: srv.buildRouter(),
		session: session,
		broker:  broker,
		repo:    repo,
		hub:     hub,
		relay:   rl,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var apiErr Error
	decodeBody(t, rec, &apiErr)
	return apiErr
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without session should fail")
	}
	session := mqtt.NewSession(mqtttest.Target(), mqtttest.NewBroker())
	if _, err := New(Deps{Logger: testLogger(), Session: session, DefaultQoS: 3}); err == nil {
		t.Error("New() with invalid default QoS should fail")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Session    string            `json:"session"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" || body.Version != "test" || body.Session != "connected" {
		t.Errorf("health = %+v", body)
	}
	if body.Components["mqtt"] != "ok" || body.Components["database"] != "ok" || body.Components["influxdb"] != "disabled" {
		t.Errorf("components = %v", body.Components)
	}
}

func TestHealth_DegradedWhenDisconnected(t *testing.T) {
	env := newTestEnv(t)
	env.session.Disconnect()

	rec := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body struct {
		Status  string `json:"status"`
		Session string `json:"session"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "degraded" || body.Session != "disconnected" {
		t.Errorf("health = %+v", body)
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Subscribe("sensors/#", mqtt.QoSAtLeastOnce, nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body sessionResponse
	decodeBody(t, rec, &body)
	if body.State != "connected" {
		t.Errorf("State = %q, want connected", body.State)
	}
	if body.Broker != "broker.test:8080" || body.ClientID != "graylogic-test" {
		t.Errorf("Broker/ClientID = %q/%q", body.Broker, body.ClientID)
	}
	if body.SubscriptionCount != 1 || len(body.Subscriptions) != 1 {
		t.Fatalf("subscriptions = %+v", body.Subscriptions)
	}
	if got := body.Subscriptions[0]; got.Topic != "sensors/#" || got.QoS != mqtt.QoSAtLeastOnce {
		t.Errorf("subscription = %+v", got)
	}
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", `{"topic":"sensors/+/temp","qos":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if !env.session.HasSubscription("sensors/+/temp") {
		t.Error("session has no subscription after POST")
	}

	frames := env.broker.Subscribes()
	if len(frames) != 1 || frames[0].Topic != "sensors/+/temp" || frames[0].QoS != mqtt.QoSAtLeastOnce {
		t.Errorf("SUBSCRIBE frames = %+v", frames)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/subscriptions", "")
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}
}

func TestSubscribe_DefaultQoS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", `{"topic":"a/b"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if frames := env.broker.Subscribes(); len(frames) != 1 || frames[0].QoS != mqtt.QoSAtMostOnce {
		t.Errorf("SUBSCRIBE frames = %+v", frames)
	}
}

func TestSubscribe_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		disconnect bool
		wantStatus int
		wantCode   string
	}{
		{"bad json", `{`, false, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid qos", `{"topic":"a/b","qos":3}`, false, http.StatusBadRequest, ErrCodeValidation},
		{"empty topic", `{"topic":""}`, false, http.StatusBadRequest, ErrCodeValidation},
		{"misplaced wildcard", `{"topic":"a/#/b"}`, false, http.StatusBadRequest, ErrCodeValidation},
		{"not connected", `{"topic":"a/b"}`, true, http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.disconnect {
				env.session.Disconnect()
			}

			rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if n := env.session.SubscriptionCount(); n != 0 {
				t.Errorf("SubscriptionCount() = %d, want 0", n)
			}
		})
	}
}

func TestSubscribe_TransportError(t *testing.T) {
	env := newTestEnv(t)
	env.broker.SetSendError(io.ErrClosedPipe)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", `{"topic":"a/b"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if env.session.HasSubscription("a/b") {
		t.Error("failed subscribe left a subscription behind")
	}
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Subscribe("a/b", mqtt.QoSAtMostOnce, nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/subscriptions?topic=a/b", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if env.session.HasSubscription("a/b") {
		t.Error("subscription still present")
	}
	if got := env.broker.Unsubscribes(); len(got) != 1 || got[0] != "a/b" {
		t.Errorf("UNSUBSCRIBE frames = %v", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/subscriptions?topic=a/b", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/subscriptions", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing topic status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUnsubscribe_WildcardTopicEscaped(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Subscribe("sensors/#", mqtt.QoSAtMostOnce, nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	rec := env.do(t, http.MethodDelete, "/api/v1/subscriptions?topic=sensors%2F%23", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if env.session.SubscriptionCount() != 0 {
		t.Error("wildcard subscription not removed")
	}
}

func TestPublish(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/publish", `{"topic":"lights/kitchen","payload":"on","qos":1,"retained":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	pubs := env.broker.Publishes()
	if len(pubs) != 1 {
		t.Fatalf("PUBLISH frames = %d, want 1", len(pubs))
	}
	got := pubs[0]
	if got.Topic != "lights/kitchen" || string(got.Payload) != "on" || got.QoS != mqtt.QoSAtLeastOnce || !got.Retained {
		t.Errorf("PUBLISH = %+v", got)
	}
}

func TestPublish_Base64Payload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/publish", `{"topic":"raw/frame","payload":"Af4=","encoding":"base64"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	pubs := env.broker.Publishes()
	if len(pubs) != 1 {
		t.Fatalf("PUBLISH frames = %d, want 1", len(pubs))
	}
	if got := pubs[0].Payload; !bytes.Equal(got, []byte{0x01, 0xfe}) {
		t.Errorf("PUBLISH payload = %x, want 01fe", got)
	}

	var body struct {
		Bytes int `json:"bytes"`
	}
	decodeBody(t, rec, &body)
	if body.Bytes != 2 {
		t.Errorf("bytes = %d, want 2", body.Bytes)
	}
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		disconnect bool
		wantStatus int
	}{
		{"bad json", `nope`, false, http.StatusBadRequest},
		{"wildcard topic", `{"topic":"a/+","payload":"x"}`, false, http.StatusBadRequest},
		{"invalid qos", `{"topic":"a/b","payload":"x","qos":-1}`, false, http.StatusBadRequest},
		{"not connected", `{"topic":"a/b","payload":"x"}`, true, http.StatusServiceUnavailable},
		{"invalid base64", `{"topic":"a/b","payload":"%%%","encoding":"base64"}`, false, http.StatusBadRequest},
		{"unknown encoding", `{"topic":"a/b","payload":"x","encoding":"hex"}`, false, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.disconnect {
				env.session.Disconnect()
			}

			rec := env.do(t, http.MethodPost, "/api/v1/publish", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if n := len(env.broker.Publishes()); n != 0 {
				t.Errorf("PUBLISH frames = %d, want 0", n)
			}
		})
	}
}

func TestPublish_TooLarge(t *testing.T) {
	env := newTestEnv(t)

	payload := strings.Repeat("x", 1<<20+1)
	rec := env.do(t, http.MethodPost, "/api/v1/publish", `{"topic":"a/b","payload":"`+payload+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestMessages_RecordedThroughRelay(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", `{"topic":"sensors/#"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d", rec.Code)
	}

	env.broker.Deliver("sensors/temp", []byte("21.5"))
	env.broker.DeliverMessage(mqtt.Message{
		Topic:    "sensors/humidity",
		Payload:  []byte("40"),
		QoS:      mqtt.QoSExactlyOnce,
		Retained: true,
	})
	env.broker.Deliver("sensors/raw", []byte{0xff, 0x00})
	env.broker.Deliver("unrelated/topic", []byte("dropped"))

	rec = env.do(t, http.MethodGet, "/api/v1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var all struct {
		Messages []messageResponse `json:"messages"`
		Count    int               `json:"count"`
	}
	decodeBody(t, rec, &all)
	if all.Count != 3 {
		t.Fatalf("count = %d, want 3: %+v", all.Count, all.Messages)
	}
	if all.Messages[0].Topic != "sensors/raw" || all.Messages[0].Encoding != EncodingBase64 || all.Messages[0].Payload != "/wA=" {
		t.Errorf("newest = %+v", all.Messages[0])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/messages?topic=sensors/temp&limit=10", "")
	var filtered struct {
		Messages []messageResponse `json:"messages"`
	}
	decodeBody(t, rec, &filtered)
	if len(filtered.Messages) != 1 {
		t.Fatalf("filtered = %+v", filtered.Messages)
	}
	if m := filtered.Messages[0]; m.Payload != "21.5" || m.Encoding != EncodingUTF8 {
		t.Errorf("message = %+v", m)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/messages?topic=sensors/humidity", "")
	var humidity struct {
		Messages []messageResponse `json:"messages"`
	}
	decodeBody(t, rec, &humidity)
	if len(humidity.Messages) != 1 {
		t.Fatalf("humidity = %+v", humidity.Messages)
	}
	if m := humidity.Messages[0]; m.QoS != 2 || !m.Retained {
		t.Errorf("humidity message = %+v, want qos 2 retained", m)
	}

	if got := env.relay.Stats().Received; got != 3 {
		t.Errorf("relay received = %d, want 3", got)
	}
}

func TestMessages_InvalidParams(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{
		"/api/v1/messages?limit=0",
		"/api/v1/messages?limit=abc",
		"/api/v1/messages?limit=501",
		"/api/v1/messages?topic=sensors/%23",
	} {
		rec := env.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestMessages_HistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.srv.history = nil

	rec := env.do(t, http.MethodGet, "/api/v1/messages", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	if err := env.session.Subscribe("a/#", mqtt.QoSAtMostOnce, nil); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	env.broker.Deliver("a/b", []byte("1"))

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var m SystemMetrics
	decodeBody(t, rec, &m)
	if m.Version != "test" || !m.MQTT.Connected || m.MQTT.Subscriptions != 1 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Relay == nil || m.Relay.Received != 1 {
		t.Errorf("relay = %+v", m.Relay)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 {
		t.Errorf("database = %+v", m.Database)
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/session", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestMiddleware_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/publish", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestMiddleware_CORSDisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://allowed.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Origin", "http://other.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := newTestEnv(t)

	handler := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
