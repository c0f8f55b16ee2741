// Package api exposes the REST surface: quiz registration, run lifecycle
// control, result and cost reads, execution log tails and asset serving.
// Handlers read persisted state only; they never wait on provider calls.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/adamd9/thelastquiz/pkg/config"
	"github.com/adamd9/thelastquiz/pkg/orchestrator"
	"github.com/adamd9/thelastquiz/pkg/report"
	"github.com/adamd9/thelastquiz/pkg/runlog"
	"github.com/adamd9/thelastquiz/pkg/storage"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	gateway    storage.Gateway
	engine     *orchestrator.Orchestrator
	trigger    report.Trigger
	logs       *runlog.Sink
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server over the given collaborators.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	gateway storage.Gateway,
	engine *orchestrator.Orchestrator,
	trigger report.Trigger,
	logs *runlog.Sink,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		gateway: gateway,
		engine:  engine,
		trigger: trigger,
		logs:    logs,
	}
}

// Start binds the listener and begins serving.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	return nil
}
