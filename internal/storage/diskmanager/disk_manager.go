package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"go.uber.org/zap"
)

// Usage is a point-in-time view of the filesystem holding the data file.
type Usage struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// Percent returns used space as a percentage of total.
func (u Usage) Percent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.TotalBytes-u.AvailableBytes) / float64(u.TotalBytes) * 100.0
}

// StatFunc reports usage for a directory.
type StatFunc func(dir string) (Usage, error)

// Statfs reads usage with statfs(2).
func Statfs(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return Usage{
		TotalBytes:     stat.Blocks * uint64(stat.Bsize),
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// Config holds thresholds for the guard
type Config struct {
	DataDir          string
	CheckInterval    time.Duration
	WarningThreshold float64
	RefuseThreshold  float64
	Stat             StatFunc
}

// DefaultConfig returns default guard configuration
func DefaultConfig(dataDir string) *Config {
	return &Config{
		DataDir:          dataDir,
		CheckInterval:    10 * time.Second,
		WarningThreshold: 80.0,
		RefuseThreshold:  95.0,
	}
}

// Guard decides whether the page allocator may grow its data file. Usage is
// cached for CheckInterval to keep statfs off the allocation path.
type Guard struct {
	cfg       *Config
	stat      StatFunc
	logger    *zap.Logger
	mu        sync.Mutex
	lastCheck time.Time
	usage     Usage
	refusing  bool
}

// NewGuard creates a guard and performs an initial check
func NewGuard(cfg *Config, logger *zap.Logger) (*Guard, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stat := cfg.Stat
	if stat == nil {
		stat = Statfs
	}

	g := &Guard{cfg: cfg, stat: stat, logger: logger}
	if err := g.refresh(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}
	return g, nil
}

// CheckBeforeGrow returns an AllocationFailed error when growing the data
// file by n bytes should be refused.
func (g *Guard) CheckBeforeGrow(n uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.lastCheck) > g.cfg.CheckInterval {
		if err := g.refresh(); err != nil {
			g.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	if g.refusing {
		return errors.AllocationFailed("cannot grow data file",
			errors.DiskFull(g.usage.Percent(), g.usage.AvailableBytes))
	}
	if n > g.usage.AvailableBytes {
		return errors.AllocationFailed(
			fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", n, g.usage.AvailableBytes), nil)
	}
	return nil
}

// Usage returns the cached usage, refreshing it when stale
func (g *Guard) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.lastCheck) > g.cfg.CheckInterval {
		if err := g.refresh(); err != nil {
			g.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}
	return g.usage
}

// ForceCheck forces an immediate disk space check
func (g *Guard) ForceCheck() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refresh()
}

// refresh must be called with mu held
func (g *Guard) refresh() error {
	usage, err := g.stat(g.cfg.DataDir)
	if err != nil {
		return err
	}
	g.usage = usage
	g.lastCheck = time.Now()

	wasRefusing := g.refusing
	percent := usage.Percent()
	g.refusing = percent >= g.cfg.RefuseThreshold

	switch {
	case g.refusing && !wasRefusing:
		g.logger.Error("Page allocation refused, disk nearly full",
			zap.Float64("usage_percent", percent),
			zap.Uint64("available_bytes", usage.AvailableBytes),
			zap.Float64("threshold", g.cfg.RefuseThreshold))
	case !g.refusing && wasRefusing:
		g.logger.Info("Page allocation resumed",
			zap.Float64("usage_percent", percent),
			zap.Uint64("available_bytes", usage.AvailableBytes))
	case percent >= g.cfg.WarningThreshold && !g.refusing:
		g.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", percent),
			zap.Float64("warning_threshold", g.cfg.WarningThreshold))
	}
	return nil
}
