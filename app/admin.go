package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kilianp07/seta/api/taxis"
	"github.com/kilianp07/seta/config"
	coreregistry "github.com/kilianp07/seta/core/registry"
	"github.com/kilianp07/seta/infra/logger"
)

// AdminServer serves the taxi registry over HTTP.
type AdminServer struct {
	Registry *coreregistry.MemoryRegistry

	srv *http.Server
	ln  net.Listener
	log logger.Logger
}

// NewAdminServer binds the admin address. A nil reg gets an empty
// in-memory registry.
func NewAdminServer(cfg *config.Config, reg *coreregistry.MemoryRegistry) (*AdminServer, error) {
	if reg == nil {
		reg = coreregistry.NewMemoryRegistry(cfg.City, coreregistry.WithHistory(cfg.Admin.History))
	}
	log := logger.New("admin")
	ln, err := net.Listen("tcp", cfg.Admin.Listen)
	if err != nil {
		return nil, err
	}
	return &AdminServer{
		Registry: reg,
		srv:      &http.Server{Handler: taxis.NewHandler(reg, log), ReadHeaderTimeout: 5 * time.Second},
		ln:       ln,
		log:      log,
	}, nil
}

// Addr returns the bound address.
func (s *AdminServer) Addr() string { return s.ln.Addr().String() }

// Run serves until ctx is canceled.
func (s *AdminServer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("admin server shutdown: %v", err)
		}
	})
	defer stop()
	s.log.Infof("admin server listening on %s", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
