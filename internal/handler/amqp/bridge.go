package amqp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
)

// Bridge runs the producer worker and the consumer router as one unit.
// If either stops with an error the other is cancelled too.
type Bridge struct {
	router     *message.Router
	dispatcher pubsub.Dispatcher
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewBridge(router *message.Router, dispatcher pubsub.Dispatcher, logger *slog.Logger) *Bridge {
	return &Bridge{router: router, dispatcher: dispatcher, logger: logger}
}

// Start returns once the router is subscribed or ctx expires.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return b.dispatcher.Run(gctx) })
	g.Go(func() error {
		err := b.router.Run(gctx)
		if err != nil {
			b.logger.Error("ROUTER_STOPPED", "err", err)
		}
		return err
	})

	b.cancel, b.group = cancel, g

	select {
	case <-b.router.Running():
		b.logger.Info("BRIDGE_STARTED")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop cancels both loops and waits for them within ctx.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, g := b.cancel, b.group
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	closeErr := b.router.Close()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		b.logger.Info("BRIDGE_STOPPED")
		return errors.Join(closeErr, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}
