package allocator

import (
	"strconv"
	"sync"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/page"
	"github.com/devrev/pagedb/internal/util"
	"go.uber.org/zap"
)

// HeapAllocator keeps committed pages in memory without serializing them.
type HeapAllocator struct {
	version  int16
	pageSize int
	clock    util.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.RWMutex
	pages []*page.ReadPage // index pageNumber-1; nil until committed
}

// NewHeapAllocator creates an in-memory allocator
func NewHeapAllocator(cfg *Config, logger *zap.Logger) (*HeapAllocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.InvalidArgument("invalid allocator config", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	return &HeapAllocator{
		version:  cfg.Version,
		pageSize: cfg.PageSize,
		clock:    cfg.Clock.OrSystem(),
		metrics:  m,
		logger:   logger,
	}, nil
}

func (a *HeapAllocator) NewPage() (*page.WritePage, error) {
	a.mu.Lock()
	a.pages = append(a.pages, nil)
	n := int32(len(a.pages))
	a.mu.Unlock()

	a.metrics.PagesAllocatedTotal.Inc()
	return page.NewWritePage(a.version, n, a.pageSize, a.clock()), nil
}

func (a *HeapAllocator) Commit(p *page.WritePage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := int(p.PageNumber()) - 1
	if idx < 0 || idx >= len(a.pages) {
		return errors.NotFound("page", strconv.Itoa(int(p.PageNumber())))
	}
	if p.Sealed() || a.pages[idx] != nil {
		return errors.PageSealed(p.PageNumber())
	}

	p.Seal()
	a.pages[idx] = p.View()
	a.metrics.PagesCommittedTotal.Inc()

	a.logger.Debug("Page committed",
		zap.Int32("page_number", p.PageNumber()),
		zap.Int("records", p.NoOfTuple()))
	return nil
}

func (a *HeapAllocator) ReadPage(pageNumber int32) (*page.ReadPage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := int(pageNumber) - 1
	if idx < 0 || idx >= len(a.pages) || a.pages[idx] == nil {
		return nil, errors.NotFound("page", strconv.Itoa(int(pageNumber)))
	}
	a.metrics.PageReadsTotal.Inc()

	return a.pages[idx].Clone(), nil
}

func (a *HeapAllocator) NoOfPages() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pages)
}

func (a *HeapAllocator) PageSize() int  { return a.pageSize }
func (a *HeapAllocator) Version() int16 { return a.version }
func (a *HeapAllocator) Close() error   { return nil }
