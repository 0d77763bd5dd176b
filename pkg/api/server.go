package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ammar0144/recsync/pkg/logging"
)

// Server runs the HTTP handler until its context is cancelled
type Server struct {
	config Config
	srv    *http.Server
}

// NewServer creates a server for handler
func NewServer(config Config, handler http.Handler) *Server {
	return &Server{
		config: config,
		srv: &http.Server{
			Addr:         config.Addr(),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
	}
}

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-server"
}
