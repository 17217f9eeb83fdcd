package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/storage/diskmanager"
	"github.com/devrev/pagedb/internal/util/workerpool"
	"go.uber.org/zap"
)

// Check produces one named result
type Check func() model.CheckResult

// HealthChecker runs registered checks periodically and derives liveness
// and readiness from them. A critical check makes the process not ready.
type HealthChecker struct {
	nodeID   string
	interval time.Duration
	logger   *zap.Logger

	mu          sync.RWMutex
	checks      []Check
	lastCheck   time.Time
	status      model.NodeStatus
	results     map[string]model.CheckResult
	livenessOK  bool
	readinessOK bool
	listeners   []func(model.NodeStatus)
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	Interval time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg *HealthCheckConfig, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		nodeID:      cfg.NodeID,
		interval:    interval,
		logger:      logger,
		results:     make(map[string]model.CheckResult),
		livenessOK:  true,
		readinessOK: true,
		status:      model.NodeStatusHealthy,
	}
}

// Register adds a check. Checks run in registration order.
func (h *HealthChecker) Register(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, c)
}

// OnStatusChange registers fn to be called whenever the overall status changes
func (h *HealthChecker) OnStatusChange(fn func(model.NodeStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Start runs the checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every registered check once
func (h *HealthChecker) RunChecks() {
	h.mu.RLock()
	checks := append([]Check(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]model.CheckResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, check())
	}

	h.mu.Lock()
	h.lastCheck = time.Now()
	allHealthy, allReady := true, true
	for _, r := range results {
		h.results[r.Name] = r
		if r.Status != model.CheckHealthy {
			allHealthy = false
			if r.Status == model.CheckCritical {
				allReady = false
			}
		}
	}

	prev := h.status
	switch {
	case allHealthy:
		h.status = model.NodeStatusHealthy
	case allReady:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusUnhealthy
	}
	h.livenessOK = true
	h.readinessOK = allReady
	status := h.status
	listeners := make([]func(model.NodeStatus), len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))

	if status != prev {
		h.logger.Info("Health status changed",
			zap.String("from", string(prev)),
			zap.String("to", string(status)))
		for _, fn := range listeners {
			fn(status)
		}
	}
}

// DiskSpaceCheck reports the guard's view of the data filesystem
func DiskSpaceCheck(g *diskmanager.Guard, warning, critical float64) Check {
	return func() model.CheckResult {
		u := g.Usage()
		pct := u.Percent()
		r := model.CheckResult{Name: "disk_space", Timestamp: time.Now()}
		switch {
		case pct > critical:
			r.Status = model.CheckCritical
			r.Message = fmt.Sprintf("Disk usage critical: %.2f%%", pct)
		case pct > warning:
			r.Status = model.CheckWarning
			r.Message = fmt.Sprintf("Disk usage high: %.2f%%", pct)
		default:
			r.Status = model.CheckHealthy
			r.Message = fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", pct, float64(u.AvailableBytes)/1024/1024/1024)
		}
		return r
	}
}

// DataDirCheck verifies that dir exists and is writable
func DataDirCheck(dir string) Check {
	return func() model.CheckResult {
		r := model.CheckResult{Name: "data_dir_accessible", Timestamp: time.Now(), Status: model.CheckCritical}

		info, err := os.Stat(dir)
		if err != nil {
			r.Message = fmt.Sprintf("Data directory not accessible: %v", err)
			return r
		}
		if !info.IsDir() {
			r.Message = "Data path is not a directory"
			return r
		}

		testFile := filepath.Join(dir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
		f, err := os.Create(testFile)
		if err != nil {
			r.Message = fmt.Sprintf("Cannot write to data directory: %v", err)
			return r
		}
		f.Close()
		os.Remove(testFile)

		r.Status = model.CheckHealthy
		r.Message = "Data directory is accessible and writable"
		return r
	}
}

// WorkerPoolCheck warns when a pool's queue is nearly full
func WorkerPoolCheck(stats func() workerpool.Stats, warnPercent float64) Check {
	return func() model.CheckResult {
		s := stats()
		r := model.CheckResult{
			Name:      "worker_pool_" + s.Name,
			Status:    model.CheckHealthy,
			Message:   fmt.Sprintf("Queue utilization: %.2f%% (%d/%d)", s.QueueUtilization(), s.QueuedTasks, s.QueueSize),
			Timestamp: time.Now(),
		}
		if s.QueueUtilization() > warnPercent {
			r.Status = model.CheckWarning
		}
		return r
	}
}

// IsLive returns whether the process is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the process is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status with a copy of every result
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]model.CheckResult, len(h.results))
	for k, v := range h.results {
		checks[k] = v
	}
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Checks:    checks,
	}
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
		"checks": status.Checks,
	})
}
