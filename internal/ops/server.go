package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mercanta/mercanta-backend/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// ServerParams configure the operational HTTP endpoints for a worker binary.
type ServerParams struct {
	Logger   *logger.Logger
	Addr     string
	Env      string
	Gatherer prometheus.Gatherer
}

// Server exposes /healthz and /metrics for worker processes that have no API
// surface of their own.
type Server struct {
	logg   *logger.Logger
	server *http.Server
}

// NewServer builds an ops server listening on the given address.
func NewServer(params ServerParams) (*Server, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Addr == "" {
		return nil, fmt.Errorf("listen address required")
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		logg: params.Logger,
		server: &http.Server{
			Addr:    params.Addr,
			Handler: NewHandler(params.Env, gatherer),
		},
	}, nil
}

// NewHandler returns the ops route tree.
func NewHandler(env string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthzHandler(env))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logg.Error(ctx, "ops server shutdown failed", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func healthzHandler(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Mercanta-Env", env)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
