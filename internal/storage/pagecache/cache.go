package pagecache

import (
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/allocator"
	"github.com/devrev/pagedb/internal/storage/page"
	"go.uber.org/zap"
)

// Config holds page cache configuration
type Config struct {
	MaxPages        int
	FrequencyWeight float64
	RecencyWeight   float64
	// AdaptiveWindow is the recency horizon used when rebalancing weights
	AdaptiveWindow time.Duration
}

type entry struct {
	page        *page.ReadPage
	accessCount int64
	lastAccess  time.Time
}

// Cache keeps decoded committed pages. Eviction drops the page with the
// lowest combined frequency/recency score; the weights shift toward
// recency or frequency depending on how hot the cached set is.
type Cache struct {
	config  *Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	pages           map[int32]*entry
	frequencyWeight float64
	recencyWeight   float64
}

// New creates a page cache
func New(cfg *Config, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 256
	}
	if cfg.FrequencyWeight == 0 && cfg.RecencyWeight == 0 {
		cfg.FrequencyWeight, cfg.RecencyWeight = 0.5, 0.5
	}
	if cfg.AdaptiveWindow <= 0 {
		cfg.AdaptiveWindow = time.Minute
	}
	return &Cache{
		config:          cfg,
		logger:          logger,
		metrics:         m,
		pages:           make(map[int32]*entry),
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
	}
}

// Get returns a private view of a cached page
func (c *Cache) Get(pageNumber int32) (*page.ReadPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pages[pageNumber]
	if !ok {
		c.metrics.PageCacheMisses.Inc()
		return nil, false
	}
	e.accessCount++
	e.lastAccess = time.Now()
	c.metrics.PageCacheHits.Inc()
	return e.page.Clone(), true
}

// Put caches p. Committed pages never change, so an existing entry is kept.
func (c *Cache) Put(p *page.ReadPage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pages[p.PageNumber()]; ok {
		return
	}
	if len(c.pages) >= c.config.MaxPages {
		c.adjustWeights()
		for len(c.pages) >= c.config.MaxPages {
			c.evictLowestScore()
		}
	}
	c.pages[p.PageNumber()] = &entry{page: p.Clone(), accessCount: 1, lastAccess: time.Now()}
}

// Len returns the number of cached pages
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Weights returns the current frequency and recency weights
func (c *Cache) Weights() (frequency, recency float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frequencyWeight, c.recencyWeight
}

// score is higher for pages worth keeping
func (c *Cache) score(e *entry, now time.Time) float64 {
	return c.frequencyWeight*float64(e.accessCount) - c.recencyWeight*now.Sub(e.lastAccess).Seconds()
}

func (c *Cache) evictLowestScore() {
	now := time.Now()
	var (
		victim int32
		lowest float64
		found  bool
	)
	for n, e := range c.pages {
		s := c.score(e, now)
		if !found || s < lowest || (s == lowest && n < victim) {
			victim, lowest, found = n, s, true
		}
	}
	if !found {
		return
	}
	delete(c.pages, victim)
	c.metrics.PageCacheEvictions.Inc()
	c.logger.Debug("Evicted cached page",
		zap.Int32("page_number", victim),
		zap.Float64("score", lowest))
}

// adjustWeights favors recency when most cached pages were touched inside
// the adaptive window and frequency when few were
func (c *Cache) adjustWeights() {
	if len(c.pages) == 0 {
		return
	}
	threshold := time.Now().Add(-c.config.AdaptiveWindow)
	recent := 0
	for _, e := range c.pages {
		if e.lastAccess.After(threshold) {
			recent++
		}
	}

	hotness := float64(recent) / float64(len(c.pages))
	switch {
	case hotness > 0.7:
		c.recencyWeight, c.frequencyWeight = 0.7, 0.3
	case hotness < 0.3:
		c.recencyWeight, c.frequencyWeight = 0.3, 0.7
	default:
		c.recencyWeight, c.frequencyWeight = 0.5, 0.5
	}
	c.logger.Debug("Adjusted page cache weights",
		zap.Float64("recency_weight", c.recencyWeight),
		zap.Float64("frequency_weight", c.frequencyWeight),
		zap.Float64("hotness_ratio", hotness))
}

// Allocator serves ReadPage from a Cache in front of another allocator
type Allocator struct {
	allocator.PageAllocator
	cache *Cache
}

// Wrap puts cache in front of a's reads
func Wrap(a allocator.PageAllocator, cache *Cache) *Allocator {
	return &Allocator{PageAllocator: a, cache: cache}
}

// Commit commits through and caches a view of the page
func (a *Allocator) Commit(p *page.WritePage) error {
	if err := a.PageAllocator.Commit(p); err != nil {
		return err
	}
	a.cache.Put(p.View())
	return nil
}

func (a *Allocator) ReadPage(pageNumber int32) (*page.ReadPage, error) {
	if p, ok := a.cache.Get(pageNumber); ok {
		return p, nil
	}
	p, err := a.PageAllocator.ReadPage(pageNumber)
	if err != nil {
		return nil, err
	}
	a.cache.Put(p)
	return p, nil
}

// Cache returns the underlying cache
func (a *Allocator) Cache() *Cache { return a.cache }
