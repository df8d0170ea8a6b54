package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/warproom/internal/config"
	"github.com/BioHazard786/warproom/internal/metrics"
	"github.com/BioHazard786/warproom/internal/relay"
	"github.com/BioHazard786/warproom/internal/rooms"
)

// Server bundles the relay hub with its HTTP front end.
type Server struct {
	cfg     *config.ServerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	hub     *relay.Hub
	srv     *http.Server
}

// New builds a Server from cfg. Nothing listens until Serve is called.
func New(cfg *config.ServerConfig, logger *slog.Logger) *Server {
	m := metrics.New()
	hub := relay.NewHub(relay.Options{
		Registry:          rooms.NewRegistry(rooms.Options{AutoCreate: cfg.AutoCreate}),
		Metrics:           m,
		Logger:            logger,
		SendQueueSize:     cfg.SendQueueSize,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		MaxMessageBytes:   cfg.MaxMessageBytes,
	})

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		hub:     hub,
		srv: &http.Server{
			Handler:           NewRouter(hub, m, cfg.AllowedOrigins, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Hub exposes the relay hub.
func (s *Server) Hub() *relay.Hub { return s.hub }

// Serve runs the hub and the HTTP server on ln until ctx is cancelled, then
// shuts both down within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Run(ctx)
	})

	g.Go(func() error {
		s.logger.Info("signaling server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down signaling server")
		return s.srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
