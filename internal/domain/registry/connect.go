package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] PUSH-ONLY HANDLE HELD BY THE HUB
// The Hub never owns the transport behind a Connector: it can only push into the
// mailbox and compare identities. The session goroutine owns the socket.
type Connector interface {
	GetID() uuid.UUID
	GetKey() model.ConnectionKey
	Metadata() ConnectMetadata
	Send(msg *model.RoutedMessage) bool // Non-blocking; false on full or closed mailbox
	Recv() <-chan *model.RoutedMessage
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Revoke the handle; idempotent
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport   string
	RemoteIP    string
	UserAgent   string
	ConnectedAt time.Time
}

type connect struct {
	id        uuid.UUID
	key       model.ConnectionKey
	metadata  ConnectMetadata
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan *model.RoutedMessage
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewConnector allocates a fresh handle with its own identity. Handles are never
// reused: a recycled handle could alias a newer registration under the same key.
func NewConnector(ctx context.Context, key model.ConnectionKey, bufferSize int, md ConnectMetadata) Connector {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if md.ConnectedAt.IsZero() {
		md.ConnectedAt = time.Now()
	}

	childCtx, cancel := context.WithCancel(ctx)

	return &connect{
		id:       uuid.New(),
		key:      key,
		metadata: md,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan *model.RoutedMessage, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID            { return c.id }
func (c *connect) GetKey() model.ConnectionKey { return c.key }
func (c *connect) Metadata() ConnectMetadata   { return c.metadata }
func (c *connect) Dropped() uint64             { return c.dropped.Load() }

// Send enqueues msg without blocking.
func (c *connect) Send(msg *model.RoutedMessage) bool {
	// [LIFECYCLE_GATE] A revoked handle accepts nothing, even if the buffer has room.
	if c.ctx.Err() != nil {
		return false
	}

	select {
	case c.sendCh <- msg:
		return true
	default:
		// [BACKPRESSURE] Saturated mailbox means a stalled client.
		c.dropped.Add(1)
		return false
	}
}

// Recv exposes the mailbox. It is never closed; readers must also watch Done.
func (c *connect) Recv() <-chan *model.RoutedMessage { return c.sendCh }

func (c *connect) Done() <-chan struct{} { return c.ctx.Done() }

// Close revokes the handle. The mailbox stays open so a concurrent Send can never
// panic; whatever is already buffered can still be drained by the session.
func (c *connect) Close() {
	c.closeOnce.Do(c.cancelFn)
}
