package ws_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
	"github.com/webitel/im-notify-gateway/internal/handler/ws"
	wsmarshaller "github.com/webitel/im-notify-gateway/internal/handler/marshaller/ws"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const (
	userID     = "4f9d2c1e-6a0b-4c3d-9e8f-1a2b3c4d5e6f"
	businessID = "0e1d2c3b-4a59-4687-a6b5-c4d3e2f1a0b9"
	deviceID   = "ios-7"
)

var sessionCfg = config.SessionConfig{
	MailboxSize:  16,
	PingInterval: 50 * time.Millisecond,
	PongTimeout:  time.Second,
	WriteTimeout: time.Second,
}

type nopDispatcher struct{}

func (nopDispatcher) Publish(context.Context, *model.Envelope) error { return nil }
func (nopDispatcher) Run(ctx context.Context) error                  { <-ctx.Done(); return nil }

// frameRecorder captures client frames on top of the real service.
type frameRecorder struct {
	service.Deliverer
	mu     sync.Mutex
	frames []string
}

func (f *frameRecorder) OnClientFrame(ctx context.Context, key model.ConnectionKey, frame []byte) {
	f.mu.Lock()
	f.frames = append(f.frames, string(frame))
	f.mu.Unlock()
	f.Deliverer.OnClientFrame(ctx, key, frame)
}

func (f *frameRecorder) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

type fixture struct {
	hub       *registry.Hub
	deliverer *frameRecorder
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, sessionCfg)
}

func newFixtureWith(t *testing.T, cfg config.SessionConfig) *fixture {
	t.Helper()
	hub := registry.NewHub()
	svc := service.NewDeliveryService(hub, nopDispatcher{}, slog.Default(), cfg.MailboxSize)
	rec := &frameRecorder{Deliverer: svc}

	srv := httptest.NewServer(ws.NewWSHandler(slog.Default(), rec, cfg))
	t.Cleanup(srv.Close)

	return &fixture{hub: hub, deliverer: rec, server: srv}
}

func (f *fixture) url(user, business, device string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") +
		"/?user_id=" + user + "&business_id=" + business + "&device_id=" + device
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(f.url(userID, businessID, deviceID), nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testKey() model.ConnectionKey {
	u, b, d := userID, businessID, deviceID
	return model.NewConnectionKey(&u, &b, &d)
}

func (f *fixture) waitExists(t *testing.T, want bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.hub.Exists(testKey().String()) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func readEvent(t *testing.T, c *websocket.Conn) wsmarshaller.WSEvent {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)

	var ev wsmarshaller.WSEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWSHandler_RejectsInvalidQuery(t *testing.T) {
	f := newFixture(t)

	cases := map[string]string{
		"bad user":       "/?user_id=nope&business_id=" + businessID + "&device_id=d",
		"missing device": "/?user_id=" + userID + "&business_id=" + businessID,
		"bad business":   "/?user_id=" + userID + "&business_id=123&device_id=d",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body response.GenericResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.False(t, body.Status)
			assert.Equal(t, "400", body.Code)
		})
	}
}

func TestSession_DeliversRoutedMessage(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	f.waitExists(t, true)

	msg := model.NewRoutedMessage(model.ActionConfirm, json.RawMessage(`{"order":"o-1"}`), testKey())
	require.Equal(t, registry.Delivered, f.hub.Route(msg))

	ev := readEvent(t, c)
	assert.Equal(t, "on_confirm", ev.Event)
	assert.Equal(t, msg.ID, ev.ID)
	assert.JSONEq(t, `{"order":"o-1"}`, string(ev.Payload))
}

func TestSession_ClientCloseDeregisters(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	f.waitExists(t, true)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	f.waitExists(t, false)
}

func TestSession_RelaysClientFrames(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	f.waitExists(t, true)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"hello":"gateway"}`)))

	require.Eventually(t, func() bool {
		frames := f.deliverer.list()
		return len(frames) == 1 && frames[0] == `{"hello":"gateway"}`
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_ReconnectKeepsNewestHandle(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t)
	f.waitExists(t, true)

	second := f.dial(t)
	// Give the second session time to register over the first.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, first.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	time.Sleep(100 * time.Millisecond)

	assert.True(t, f.hub.Exists(testKey().String()), "stale close must not evict the newer session")

	msg := model.NewRoutedMessage(model.ActionStatus, json.RawMessage(`{}`), testKey())
	require.Equal(t, registry.Delivered, f.hub.Route(msg))
	assert.Equal(t, msg.ID, readEvent(t, second).ID)
}

func TestSession_HubShutdownClosesClient(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	f.waitExists(t, true)

	f.hub.Shutdown()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}
	f.waitExists(t, false)
}

func TestSession_AnswersHeartbeat(t *testing.T) {
	f := newFixture(t)
	c := f.dial(t)
	f.waitExists(t, true)

	pinged := make(chan struct{}, 1)
	c.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are processed while reading.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("server never pinged")
	}
	assert.True(t, f.hub.Exists(testKey().String()))
}

func TestSession_SilentPeerTimesOut(t *testing.T) {
	cfg := sessionCfg
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 150 * time.Millisecond

	f := newFixtureWith(t, cfg)
	c := f.dial(t)
	f.waitExists(t, true)

	// Pings are only answered while reading, and this client never reads.
	f.waitExists(t, false)

	// The session is gone for good: a later route misses.
	msg := model.NewRoutedMessage(model.ActionStatus, json.RawMessage(`{}`), testKey())
	assert.Equal(t, registry.NotFound, f.hub.Route(msg))
	_ = c.Close()
}

func TestSession_ResponsivePeerOutlivesPongTimeout(t *testing.T) {
	cfg := sessionCfg
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 150 * time.Millisecond

	f := newFixtureWith(t, cfg)
	c := f.dial(t)
	f.waitExists(t, true)

	// The default ping handler answers with a pong while reading.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(4 * cfg.PongTimeout)
	assert.True(t, f.hub.Exists(testKey().String()))
}
