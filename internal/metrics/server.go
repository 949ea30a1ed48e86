package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	sampleInterval    = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server exposes the Prometheus registry and samples process metrics while running.
type Server struct {
	cfg *config.MetricsConfig
	log *logger.Logger

	http     *http.Server
	addr     net.Addr
	stopSamp context.CancelFunc
	sampling sync.WaitGroup
}

func NewServer(cfg *config.MetricsConfig, log *logger.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// Start binds the listener before returning so a bad address fails the caller, then serves
// in the background. It does nothing when metrics are disabled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg == nil || !s.cfg.Enabled {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.addr = listener.Addr()

	mux := http.NewServeMux()
	mux.Handle("GET "+s.cfg.Path, promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	var sampleCtx context.Context
	sampleCtx, s.stopSamp = context.WithCancel(ctx)
	s.sampling.Go(func() { s.sample(sampleCtx) })

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Metrics server stopped: %v", err)
		}
	}()

	s.log.Infof("Serving metrics on http://%s%s", s.addr, s.cfg.Path)
	return nil
}

// Addr is the bound address, nil until Start succeeds.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}

	s.stopSamp()
	s.sampling.Wait()

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}

func (s *Server) sample(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		UpdateSystemMetrics()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
