// Package server exposes the prediction service over HTTP: admission-guarded
// predict and enrich routes, a stats surface, and a health probe.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherhome/catalog-intel/internal/service"
)

const (
	defaultPort       = 8080
	drainTimeout      = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server hosts the HTTP API in front of a Service.
type Server struct {
	svc  *service.Service
	port int
}

// New creates a Server on the given port. Zero means 8080.
func New(svc *service.Service, port int) *Server {
	if port <= 0 {
		port = defaultPort
	}
	return &Server{svc: svc, port: port}
}

// Run serves until ctx is canceled, then drains in-flight requests for up to
// drainTimeout before returning.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("http server listening", zap.Int("port", s.port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		zap.L().Info("http server draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	}
}
