package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"compliance-core/internal/config"
	"compliance-core/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	healthCheckTimeout = 3 * time.Second
	shutdownTimeout    = 30 * time.Second
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	config *config.Config
	router *gin.Engine
	logger logger.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck
	now    func() time.Time
}

// New creates a new server instance. Metrics from gatherer are served on /metrics.
func New(cfg *config.Config, log logger.Logger, gatherer prometheus.Gatherer) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(log))

	s := &Server{
		config: cfg,
		router: router,
		logger: log,
		checks: make(map[string]HealthCheck),
		now:    time.Now,
	}

	router.GET("/health", s.healthCheck)
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Router returns the engine so API routes can be mounted
func (s *Server) Router() *gin.Engine {
	return s.router
}

// AddHealthCheck registers a dependency probed by /health
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", map[string]interface{}{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("Server failed", err, nil)
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server forced to shutdown", err, nil)
		return err
	}

	s.logger.Info("Server exited", nil)
	return nil
}

// healthCheck probes every registered dependency and reports 503 if any fail
func (s *Server) healthCheck(c *gin.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "healthy", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		s.mu.RLock()
		check := s.checks[name]
		s.mu.RUnlock()

		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"checks":    results,
		"timestamp": s.now().UTC(),
		"service":   "compliance-core",
	})
}
