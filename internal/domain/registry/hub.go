package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// RouteResult is the binary outcome of a routing attempt.
type RouteResult int

const (
	NotFound RouteResult = iota
	Delivered
)

func (r RouteResult) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "not_found"
}

// Hubber is the single authority on which connection keys are reachable.
type Hubber interface {
	Register(key string, conn Connector)
	Deregister(key string, conn Connector)
	Exists(key string) bool
	Route(msg *model.RoutedMessage) RouteResult
	Stats() model.HubStats
	Shutdown()
}

// RouteObserver receives routing outcomes, typically for metrics.
type RouteObserver interface {
	ObserveRoute(result string)
	SetActiveSessions(n int)
}

// Hub implements a [SINGLE_OWNER_REGISTRY] keyed by the rendered ConnectionKey.
type Hub struct {
	// [CONCURRENCY_CONTROL]
	// One guard for the whole map: every call observes a single consistent version.
	mu       sync.RWMutex
	sessions map[string]Connector

	logger    *slog.Logger
	observer  RouteObserver
	startedAt time.Time

	routed   atomic.Uint64
	notFound atomic.Uint64
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:  make(map[string]Connector),
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register inserts or replaces the handle for key (last-connect-wins).
// The superseded handle is left to its own session to tear down.
func (h *Hub) Register(key string, conn Connector) {
	h.mu.Lock()
	prev, replaced := h.sessions[key]
	h.sessions[key] = conn
	n := len(h.sessions)
	h.mu.Unlock()

	if replaced && prev.GetID() != conn.GetID() {
		h.logger.Info("SESSION_SUPERSEDED",
			"key", key,
			"old_conn_id", prev.GetID(),
			"new_conn_id", conn.GetID(),
		)
	}
	h.observeSessions(n)
}

// Deregister removes key only if it still maps to conn.
func (h *Hub) Deregister(key string, conn Connector) {
	h.mu.Lock()
	current, ok := h.sessions[key]
	if ok && current.GetID() == conn.GetID() {
		delete(h.sessions, key)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	switch {
	case !ok:
		return
	case current.GetID() != conn.GetID():
		// [STALE_HANDLE] A superseded session is leaving; the newer one stays.
		h.logger.Debug("STALE_DEREGISTER_IGNORED",
			"key", key,
			"stale_conn_id", conn.GetID(),
			"live_conn_id", current.GetID(),
		)
		return
	}
	h.observeSessions(n)
}

func (h *Hub) Exists(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[key]
	return ok
}

// Route pushes msg into the target session's mailbox. It never waits: a miss,
// a full mailbox or a revoked handle all collapse to NotFound.
func (h *Hub) Route(msg *model.RoutedMessage) RouteResult {
	key, ok := msg.Target()
	if !ok {
		return h.miss()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.sessions[key]
	if !ok {
		return h.miss()
	}

	if !conn.Send(msg) {
		h.logger.Warn("ROUTE_PUSH_FAILED: mailbox_unavailable",
			"key", key,
			"conn_id", conn.GetID(),
			"msg_id", msg.ID,
			"dropped_total", conn.Dropped(),
		)
		return h.miss()
	}

	h.routed.Add(1)
	if h.observer != nil {
		h.observer.ObserveRoute(Delivered.String())
	}
	return Delivered
}

func (h *Hub) Stats() model.HubStats {
	h.mu.RLock()
	n := len(h.sessions)
	h.mu.RUnlock()

	return model.HubStats{
		ActiveSessions: n,
		Routed:         h.routed.Load(),
		NotFound:       h.notFound.Load(),
		Uptime:         time.Since(h.startedAt),
	}
}

// Shutdown revokes every registered handle. Sessions notice via Done and tear
// themselves down, deregistering as they go.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]Connector, 0, len(h.sessions))
	for _, c := range h.sessions {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	h.logger.Info("HUB_SHUTDOWN", "revoked", len(conns))
}

func (h *Hub) miss() RouteResult {
	h.notFound.Add(1)
	if h.observer != nil {
		h.observer.ObserveRoute(NotFound.String())
	}
	return NotFound
}

func (h *Hub) observeSessions(n int) {
	if h.observer != nil {
		h.observer.SetActiveSessions(n)
	}
}
