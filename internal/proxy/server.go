// Package proxy wires the configured locations into an HTTP server.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/guided-traffic/json-post-proxy/internal/access"
	"github.com/guided-traffic/json-post-proxy/internal/accesslog"
	"github.com/guided-traffic/json-post-proxy/internal/config"
	"github.com/guided-traffic/json-post-proxy/internal/jsonpost"
	"github.com/guided-traffic/json-post-proxy/internal/jsonvars"
	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/handlers/health"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/middleware"
	"github.com/guided-traffic/json-post-proxy/internal/proxy/response"
	s3backend "github.com/guided-traffic/json-post-proxy/internal/s3"
	"github.com/sirupsen/logrus"
)

// Server represents the JSON POST proxy server
type Server struct {
	httpServer  *http.Server
	engine      *pipeline.Engine
	config      *config.Config
	logger      *logrus.Entry
	errorWriter *response.ErrorWriter

	uploader  s3backend.Uploader
	transport http.RoundTripper
	buildInfo health.BuildInfo

	requestTracker *middleware.RequestTracker
	httpLogger     *middleware.Logger
	corsHandler    *middleware.CORS

	activeRequests int64
	shutdownMu     sync.RWMutex
	shuttingDown   bool
	shutdownTime   time.Time
}

// Option customizes a server
type Option func(*Server)

// WithUploader sets the uploader used by s3_put locations instead of one
// created from s3_backend
func WithUploader(u s3backend.Uploader) Option {
	return func(s *Server) {
		s.uploader = u
	}
}

// WithUpstreamTransport sets the transport used by proxy_pass locations
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		s.transport = rt
	}
}

// WithBuildInfo sets the information reported by /version
func WithBuildInfo(info health.BuildInfo) Option {
	return func(s *Server) {
		s.buildInfo = info
	}
}

// NewServer creates a new proxy server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	logger := logrus.WithField("component", "proxy-server")

	server := &Server{
		config:      cfg,
		logger:      logger,
		errorWriter: response.NewErrorWriter(logger),
		buildInfo:   health.BuildInfo{Version: "dev", Commit: "unknown", BuildTime: "unknown"},
	}
	for _, opt := range opts {
		opt(server)
	}

	server.engine = pipeline.NewEngine(pipeline.Options{
		BodyBufferSize:  cfg.Body.BufferSize,
		MaxBodySize:     cfg.Body.MaxSize,
		BodyReadTimeout: time.Duration(cfg.Body.ReadTimeout) * time.Second,
		ErrorPage:       server.errorWriter.WriteError,
	})

	if err := server.registerPhaseHandlers(); err != nil {
		return nil, err
	}

	if server.uploader == nil && cfg.HasS3Locations() {
		uploader, err := s3backend.NewUploader(context.Background(), &cfg.S3Backend, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 uploader: %w", err)
		}
		server.uploader = uploader
	}

	locations, err := server.buildLocations()
	if err != nil {
		return nil, err
	}

	server.engine.Init()

	router := mux.NewRouter()
	server.setupRoutes(router, locations)

	server.httpServer = &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return server, nil
}

// registerPhaseHandlers installs the modules into the engine. Body
// acquisition has to come before the binder in the rewrite phase.
func (s *Server) registerPhaseHandlers() error {
	coordinator := jsonpost.NewCoordinator(s.engine, s.logger)
	if err := jsonpost.Register(s.engine, coordinator, s.config.JSONDecodeUsed); err != nil {
		return err
	}

	decoder := jsonvars.NewDecoder(s.config.JSON.MaxDepth, s.config.JSON.MaxVariables)
	if err := jsonvars.Register(s.engine, jsonvars.NewBinder(decoder, s.logger), s.config.JSONDecodeUsed); err != nil {
		return err
	}

	if err := access.Register(s.engine, access.NewHandler(s.logger)); err != nil {
		return err
	}

	return accesslog.Register(s.engine, accesslog.NewHandler(logrus.WithField("component", "access-log")))
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the proxy server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.BindAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.BindAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves connections from ln until ctx is cancelled, then shuts down
// gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Start HTTP server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if s.config.TLS.Enabled {
			s.logger.WithFields(logrus.Fields{
				"address":   ln.Addr().String(),
				"cert_file": s.config.TLS.CertFile,
				"key_file":  s.config.TLS.KeyFile,
			}).Info("Starting HTTPS server")

			if err := s.httpServer.ServeTLS(ln, s.config.TLS.CertFile, s.config.TLS.KeyFile); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTPS server failed: %w", err)
			}
		} else {
			s.logger.WithField("address", ln.Addr().String()).Info("Starting HTTP server")
			if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("HTTP server failed: %w", err)
			}
		}
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-serverErrChan:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	s.shutdownMu.Lock()
	s.shuttingDown = true
	s.shutdownTime = time.Now()
	s.shutdownMu.Unlock()

	protocol := "HTTP"
	if s.config.TLS.Enabled {
		protocol = "HTTPS"
	}
	s.logger.WithFields(logrus.Fields{
		"protocol":        protocol,
		"active_requests": s.ActiveRequests(),
	}).Info("Shutting down server")

	timeout := time.Duration(s.config.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).WithField("active_requests", s.ActiveRequests()).Error("Failed to gracefully shutdown server")
		return err
	}

	s.logger.Info("Server stopped")
	return nil
}

// ActiveRequests returns the number of requests in flight
func (s *Server) ActiveRequests() int64 {
	return atomic.LoadInt64(&s.activeRequests)
}

func (s *Server) requestStartHandler() {
	atomic.AddInt64(&s.activeRequests, 1)
}

func (s *Server) requestEndHandler() {
	atomic.AddInt64(&s.activeRequests, -1)
}

func (s *Server) shutdownStateHandler() (bool, time.Time) {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.shuttingDown, s.shutdownTime
}
