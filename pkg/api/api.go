package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/importoor/pkg/config"
	"github.com/ethpandaops/importoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Importer runs a single file import.
type Importer interface {
	Import(ctx context.Context, fileName string, content io.Reader) (*store.Result, error)
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	store    store.Store
	importer Importer
	gatherer prometheus.Gatherer
	validate *validator.Validate

	maxUploadBytes int64
	importTimeout  time.Duration

	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server. The store is owned by the caller and
// must already be started.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	imp Importer,
	gatherer prometheus.Gatherer,
) (Server, error) {
	return newServer(log, cfg, st, imp, gatherer)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	st store.Store,
	imp Importer,
	gatherer prometheus.Gatherer,
) (*server, error) {
	maxUpload, err := cfg.Import.MaxUploadBytes()
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.Import.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &server{
		log:            log.WithField("component", "api"),
		cfg:            cfg,
		store:          st,
		importer:       imp,
		gatherer:       gatherer,
		validate:       newValidator(),
		maxUploadBytes: maxUpload,
		importTimeout:  timeout,
		done:           make(chan struct{}),
	}, nil
}

// Start binds the listener and serves HTTP in the background.
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

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	s.stopOnce.Do(func() { close(s.done) })

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

	s.log.Info("API server stopped")

	return nil
}
