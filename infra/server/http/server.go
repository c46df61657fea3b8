package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
)

var Module = fx.Module("http-server",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop:  s.Stop,
		})
	}),
)

type Server struct {
	srv    *http.Server
	logger *slog.Logger
	addr   net.Addr
}

func New(cfg *config.Config, handler http.Handler, hub registry.Hubber, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              cfg.Application.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// [SESSION_RECLAMATION]
	// Upgraded and long-poll connections are invisible to Shutdown; revoking every
	// handle makes their sessions close themselves.
	srv.RegisterOnShutdown(hub.Shutdown)

	return &Server{srv: srv, logger: logger}
}

// Start binds the listener synchronously so port conflicts fail the app start.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "err", err)
		}
	}()

	s.logger.Info("HTTP_SERVER_STARTED", "addr", s.addr.String())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP_SERVER_STOPPING")
	return s.srv.Shutdown(ctx)
}

// Addr is the bound address, available after Start.
func (s *Server) Addr() net.Addr { return s.addr }
