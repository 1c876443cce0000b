package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/seta/core/logger"
)

// PromServer serves a Prometheus gatherer on /metrics.
type PromServer struct {
	srv *http.Server
	ln  net.Listener
	log logger.Logger
}

// NewPromServer binds addr. A nil gatherer serves the default registry.
func NewPromServer(addr string, g prometheus.Gatherer, log logger.Logger) (*PromServer, error) {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &PromServer{srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln: ln, log: log}, nil
}

// Addr returns the bound address.
func (s *PromServer) Addr() string { return s.ln.Addr().String() }

// Run serves until ctx is canceled.
func (s *PromServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("prom server shutdown: %v", err)
		}
	}()
	s.log.Infof("serving metrics on %s", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
