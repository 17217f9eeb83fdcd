package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/devrev/pagedb/internal/health"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/diskmanager"
	"github.com/devrev/pagedb/internal/table"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer serves Prometheus metrics, health probes and read-only
// admin endpoints via HTTP
type MetricsServer struct {
	httpServer *http.Server
	metrics    *metrics.Metrics
	guard      *diskmanager.Guard
	logger     *zap.Logger
	interval   time.Duration
	stopChan   chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
	// Gatherer defaults to the Prometheus default gatherer
	Gatherer       prometheus.Gatherer
	SystemInterval time.Duration

	// Catalog enables /admin/tables when set
	Catalog        *table.Catalog
	AdminRateLimit float64
	AdminBurst     int
}

// NewMetricsServer creates a new metrics server. guard and checker may be nil.
func NewMetricsServer(
	cfg *MetricsServerConfig,
	m *metrics.Metrics,
	guard *diskmanager.Guard,
	checker *health.HealthChecker,
	logger *zap.Logger,
) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	interval := cfg.SystemInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	router := mux.NewRouter()
	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		metrics:  m,
		guard:    guard,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}

	router.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if checker != nil {
		router.HandleFunc("/health/live", checker.LivenessHandler).Methods(http.MethodGet)
		router.HandleFunc("/health/ready", checker.ReadinessHandler).Methods(http.MethodGet)
	}
	if cfg.Catalog != nil {
		rps, burst := cfg.AdminRateLimit, cfg.AdminBurst
		if rps <= 0 {
			rps = 10
		}
		if burst <= 0 {
			burst = 20
		}
		// routes sit on the root router so a method mismatch answers 405
		limit := NewRateLimiter(rps, burst, logger).Limit
		h := &adminHandlers{catalog: cfg.Catalog, logger: logger}
		router.Handle("/admin/tables", limit(http.HandlerFunc(h.listTables))).Methods(http.MethodGet)
		router.Handle("/admin/tables/{name}", limit(http.HandlerFunc(h.describeTable))).Methods(http.MethodGet)
	}
	return ms
}

// Handler returns the HTTP handler, for tests
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the metrics server
func (s *MetricsServer) Start() error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	go s.collectSystemMetrics()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *MetricsServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")
	close(s.stopChan)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

func (s *MetricsServer) collectSystemMetrics() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.UpdateSystemMetrics()
	for {
		select {
		case <-ticker.C:
			s.UpdateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

// UpdateSystemMetrics refreshes the disk and runtime gauges once
func (s *MetricsServer) UpdateSystemMetrics() {
	var available uint64
	var percent float64
	if s.guard != nil {
		u := s.guard.Usage()
		available, percent = u.AvailableBytes, u.Percent()
	}
	s.metrics.UpdateSystemStats(available, percent, runtime.NumGoroutine())
}
