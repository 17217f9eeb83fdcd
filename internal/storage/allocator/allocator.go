package allocator

import (
	"fmt"

	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/page"
	"github.com/devrev/pagedb/internal/util"
)

// PageAllocator hands out numbered pages and stores them once committed.
// Page numbers start at 1 and increase by one per NewPage call.
type PageAllocator interface {
	// NewPage allocates an empty page. Fails with AllocationFailed when the
	// backing storage cannot grow.
	NewPage() (*page.WritePage, error)

	// Commit finalizes the page; afterwards ReadPage can return it and the
	// page rejects further writes.
	Commit(p *page.WritePage) error

	// ReadPage returns a committed page or a NotFound error.
	ReadPage(pageNumber int32) (*page.ReadPage, error)

	NoOfPages() int
	PageSize() int
	Version() int16
	Close() error
}

// Config is shared by both allocator variants
type Config struct {
	Version  int16
	PageSize int
	Clock    util.Clock
	Metrics  *metrics.Metrics
}

func (c *Config) validate() error {
	if c.PageSize <= page.HeaderSize+page.SlotSize {
		return fmt.Errorf("page size %d too small: header needs %d bytes", c.PageSize, page.HeaderSize)
	}
	return nil
}
