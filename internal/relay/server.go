// Package relay is the server boundary: it validates chat requests, builds
// the resume context, bridges the provider's fragment stream onto an SSE
// response, and accepts insight submissions.
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rekindle/internal/provider"
	"rekindle/internal/resume"
	"rekindle/internal/store"
)

// Server holds the relay's dependencies. One instance serves all requests;
// per-request state lives on the stack.
type Server struct {
	log      *zap.Logger
	store    *store.LocalStore
	builder  *resume.Builder
	streamer provider.Streamer
}

// NewServer wires the relay over its collaborators.
func NewServer(st *store.LocalStore, streamer provider.Streamer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("relay")
	return &Server{
		log:      log,
		store:    st,
		builder:  resume.NewBuilder(st, log),
		streamer: streamer,
	}
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /insights", s.handleInsights)
	return mux
}

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("relay listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
