package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	amqphandler "github.com/webitel/im-notify-gateway/internal/handler/amqp"
	httphandler "github.com/webitel/im-notify-gateway/internal/handler/http"
	"github.com/webitel/im-notify-gateway/internal/handler/lp"
	wsmarshaller "github.com/webitel/im-notify-gateway/internal/handler/marshaller/ws"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
	"github.com/webitel/im-notify-gateway/internal/handler/ws"
	"github.com/webitel/im-notify-gateway/internal/metrics"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const (
	jwtSecret  = "router-test-secret"
	userID     = "4f9d2c1e-6a0b-4c3d-9e8f-1a2b3c4d5e6f"
	businessID = "0e1d2c3b-4a59-4687-a6b5-c4d3e2f1a0b9"
	deviceID   = "pos-3"
)

type gateway struct {
	hub    *registry.Hub
	server *httptest.Server
	token  string
}

type failingDispatcher struct{ err error }

func (d failingDispatcher) Publish(context.Context, *model.Envelope) error { return d.err }
func (d failingDispatcher) Run(ctx context.Context) error                  { <-ctx.Done(); return nil }

// newGateway wires the real stack. A nil dispatcher selects the in-memory broker
// with the consumer bridge running.
func newGateway(t *testing.T, dispatcher pubsub.Dispatcher) *gateway {
	t.Helper()

	cfg := &config.Config{
		Broker: config.BrokerConfig{
			Driver:          config.DriverMemory,
			Topic:           "notify.router.test",
			RetryTopic:      "notify.router.test.retry",
			AckPolicy:       config.AckFirst,
			RedeliveryDelay: 10 * time.Millisecond,
		},
		Session: config.SessionConfig{
			MailboxSize:  16,
			PingInterval: time.Second,
			PongTimeout:  5 * time.Second,
			WriteTimeout: time.Second,
		},
		LP: config.LongPollConfig{Timeout: 50 * time.Millisecond},
	}

	gw := metrics.New()
	hub := registry.NewHub(registry.WithObserver(gw))

	if dispatcher == nil {
		ps := pubsub.NewMemoryPubSub(cfg.Broker.Topic, cfg.Broker.RetryTopic, watermill.NopLogger{})
		router, err := amqphandler.NewWatermillRouter(watermill.NopLogger{})
		require.NoError(t, err)
		require.NoError(t, amqphandler.RegisterHandlers(router, ps,
			amqphandler.NewDeliveryHandler(hub, ps.RetryPublisher, slog.Default(), gw, cfg.Broker), cfg, slog.Default()))

		dispatcher = pubsub.NewDispatcher(ps.Publisher, ps.Topic, pubsub.WithPublishObserver(gw))
		bridge := amqphandler.NewBridge(router, dispatcher, slog.Default())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, bridge.Start(ctx))
		t.Cleanup(func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = bridge.Stop(stopCtx)
			_ = ps.Close()
		})
	}

	deliverer := service.NewDelivererMiddleware(
		service.NewDeliveryService(hub, dispatcher, slog.Default(), cfg.Session.MailboxSize),
		slog.Default(),
	)
	inspector, err := auth.NewValidator(jwtSecret)
	require.NoError(t, err)

	handler := httphandler.NewRouter(httphandler.Routes{
		Handler:   httphandler.NewHandler(deliverer, slog.Default()),
		WS:        ws.NewWSHandler(slog.Default(), deliverer, cfg.Session),
		LP:        lp.NewLPHandler(deliverer, slog.Default(), cfg.LP.Timeout),
		Inspector: inspector,
		Metrics:   gw.Handler(),
		Observer:  gw,
		Logger:    slog.Default(),
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token, err := auth.Issue("publisher", time.Hour, jwtSecret)
	require.NoError(t, err)

	return &gateway{hub: hub, server: srv, token: token}
}

func (g *gateway) send(t *testing.T, body any, token string) (int, response.GenericResponse) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, g.server.URL+"/send", bytes.NewReader(raw))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response.GenericResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (g *gateway) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") +
		"/websocket?user_id=" + userID + "&business_id=" + businessID + "&device_id=" + deviceID

	c, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = c.Close() })

	u, b, d := userID, businessID, deviceID
	key := model.NewConnectionKey(&u, &b, &d).String()
	require.Eventually(t, func() bool { return g.hub.Exists(key) }, 2*time.Second, 5*time.Millisecond)
	return c
}

func sendBody(mode string) map[string]any {
	return map[string]any{
		"user_id":     userID,
		"business_id": businessID,
		"device_id":   deviceID,
		"action_type": "on_status",
		"data":        map[string]any{"order_id": "o-77", "state": "PACKED"},
		"mode":        mode,
	}
}

func readFrame(t *testing.T, c *websocket.Conn) wsmarshaller.WSEvent {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)

	var ev wsmarshaller.WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHealth(t *testing.T) {
	g := newGateway(t, failingDispatcher{})

	resp, err := http.Get(g.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, httphandler.HealthBody, string(body))
}

func TestSend_RequiresToken(t *testing.T) {
	g := newGateway(t, failingDispatcher{})

	status, body := g.send(t, sendBody("immediate"), "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, body.Status)
	assert.Equal(t, "401", body.Code)

	expired, err := auth.Issue("publisher", -time.Minute, jwtSecret)
	require.NoError(t, err)
	status, _ = g.send(t, sendBody("immediate"), expired)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSend_Validation(t *testing.T) {
	g := newGateway(t, failingDispatcher{})

	badAction := sendBody("immediate")
	badAction["action_type"] = "on_teleport"
	status, body := g.send(t, badAction, g.token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "400", body.Code)

	badUser := sendBody("immediate")
	badUser["user_id"] = "not-a-uuid"
	status, _ = g.send(t, badUser, g.token)
	assert.Equal(t, http.StatusBadRequest, status)

	noData := sendBody("immediate")
	delete(noData, "data")
	status, _ = g.send(t, noData, g.token)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSend_ImmediateToLiveSession(t *testing.T) {
	g := newGateway(t, failingDispatcher{})
	c := g.connect(t)

	status, body := g.send(t, sendBody("immediate"), g.token)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Status)
	assert.Equal(t, "200", body.Code)
	assert.Equal(t, "delivered", body.Data.(map[string]any)["result"])

	ev := readFrame(t, c)
	assert.Equal(t, "on_status", ev.Event)
	assert.JSONEq(t, `{"order_id":"o-77","state":"PACKED"}`, string(ev.Payload))
}

func TestSend_ImmediateWithoutSession(t *testing.T) {
	g := newGateway(t, failingDispatcher{})

	status, body := g.send(t, sendBody("immediate"), g.token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "not_found", body.Data.(map[string]any)["result"])
	assert.Equal(t, uint64(1), g.hub.Stats().NotFound)
}

func TestSend_QueueFailureSurfaces(t *testing.T) {
	g := newGateway(t, failingDispatcher{err: pubsub.ErrTransportUnavailable})

	status, body := g.send(t, sendBody(""), g.token)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.False(t, body.Status)
	assert.Equal(t, "503", body.Code)
}

func TestSend_QueuedBeforeConnect(t *testing.T) {
	g := newGateway(t, nil)

	status, body := g.send(t, sendBody("queued"), g.token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "queued", body.Data.(map[string]any)["result"])

	// The message waits in the queue until the session shows up.
	time.Sleep(50 * time.Millisecond)
	c := g.connect(t)

	ev := readFrame(t, c)
	assert.Equal(t, "on_status", ev.Event)

	// Delivered exactly once.
	require.NoError(t, c.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}

func TestStatsAndMetrics(t *testing.T) {
	g := newGateway(t, failingDispatcher{})
	g.connect(t)

	resp, err := http.Get(g.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Data httphandler.StatsResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Data.ActiveSessions)

	mresp, err := http.Get(g.server.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()

	text, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "notify_gateway_router_active_sessions 1")
	assert.Contains(t, string(text), "notify_gateway_http_requests_total")
}
