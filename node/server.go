//go:build linux
// +build linux

package node

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fzft/go-echo-poll/log"
	"github.com/fzft/go-echo-poll/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const metricsShutdownTimeout = 5 * time.Second

type Server struct {
	addr        string
	metricsAddr string
	opts        Options
}

func NewServer(addr string, opts Options) *Server {
	return &Server{
		addr: addr,
		opts: opts,
	}
}

// SetMetricsAddr enables the Prometheus endpoint on addr.
func (s *Server) SetMetricsAddr(addr string) {
	s.metricsAddr = addr
}

// Run binds the listener and serves until SIGINT, SIGTERM or SIGQUIT. It
// returns nil after a graceful shutdown.
func (s *Server) Run() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	reactor, err := NewReactor(s.addr, s.opts)
	if err != nil {
		return err
	}

	if s.metricsAddr != "" {
		srv := s.serveMetrics()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	go func() {
		select {
		case sig := <-sigCh:
			log.Logger.Info("signal received", zap.String("signal", sig.String()))
			if err := reactor.Stop(); err != nil {
				log.Logger.Warn("stop failed", zap.Error(err))
			}
		case <-reactor.Done():
		}
	}()

	log.Logger.Info("listening on", zap.String("addr", reactor.Addr().String()))
	// blocking
	err = reactor.Run()
	log.Logger.Info("shutting down server")
	return err
}

func (s *Server) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              s.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Logger.Info("metrics listening on", zap.String("addr", s.metricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}
