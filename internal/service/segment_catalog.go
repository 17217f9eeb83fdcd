package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/kv"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/storage/timeseries"
	"github.com/devrev/pagedb/internal/table"
	"github.com/devrev/pagedb/internal/util/workerpool"
	"go.uber.org/zap"
)

const (
	SegmentsTable = "segments"

	indexSealedDay = "sealed_day"
	indexArchived  = "archived"

	dayLayout = "20060102"
)

func segmentPK(pageID int64) string {
	return fmt.Sprintf("%020d", pageID)
}

// SegmentCatalog keeps metadata of every sealed segment in a persistent
// table, so segments can be looked up by page ID, seal day or archive state.
type SegmentCatalog struct {
	table  *table.PersistentTable[model.SegmentInfo]
	logger *zap.Logger

	// serializes the read-merge-write in Record
	mu sync.Mutex
}

// NewSegmentCatalog creates the segments table on top of engine
func NewSegmentCatalog(engine kv.Engine, logger *zap.Logger, m *metrics.Metrics) (*SegmentCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t, err := table.New(table.Info[model.SegmentInfo]{
		Name: SegmentsTable,
		Schema: map[string]func(model.SegmentInfo) any{
			"page_id":   func(s model.SegmentInfo) any { return s.PageID },
			"min_key":   func(s model.SegmentInfo) any { return s.MinKey },
			"max_key":   func(s model.SegmentInfo) any { return s.MaxKey },
			"count":     func(s model.SegmentInfo) any { return s.Count },
			"sealed_at": func(s model.SegmentInfo) any { return s.SealedAt },
			"pages":     func(s model.SegmentInfo) any { return s.Pages },
		},
		Indexes: map[string]func(model.SegmentInfo) string{
			indexSealedDay: func(s model.SegmentInfo) string { return s.SealedAt.UTC().Format(dayLayout) },
			indexArchived: func(s model.SegmentInfo) string {
				if len(s.Pages) > 0 {
					return "yes"
				}
				return "no"
			},
		},
		PK: func(s model.SegmentInfo) string { return segmentPK(s.PageID) },
	}, logger, m)
	if err != nil {
		return nil, err
	}

	return &SegmentCatalog{
		table:  table.NewPersistent(t, engine, kv.JSONCodec[model.SegmentInfo]{}, logger),
		logger: logger,
	}, nil
}

// Record stores or replaces the metadata of a segment. Archive pages
// already recorded are kept when info carries none.
func (c *SegmentCatalog) Record(ctx context.Context, info model.SegmentInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(info.Pages) == 0 {
		prev, ok, err := c.table.Get(ctx, segmentPK(info.PageID))
		if err != nil {
			return err
		}
		if ok {
			info.Pages = prev.Pages
		}
	}
	return c.table.Update(ctx, info)
}

// RecordSeals records every segment store seals. The writes run on pool,
// so the appender that sealed the buffer never waits for the engine.
func RecordSeals[V any](c *SegmentCatalog, store *timeseries.Store[V], pool *workerpool.WorkerPool) {
	store.OnSeal(func(rec *timeseries.PageRecord[V]) {
		info := segmentInfo(rec)
		err := pool.Submit(workerpool.Task{
			ID: fmt.Sprintf("record-segment-%d", rec.PageID),
			Fn: func(ctx context.Context) error {
				return c.Record(ctx, info)
			},
		})
		if err != nil {
			c.logger.Warn("Sealed segment not recorded",
				zap.Int64("page_id", rec.PageID),
				zap.Error(err))
		}
	})
}

// Get returns the metadata of a segment
func (c *SegmentCatalog) Get(ctx context.Context, pageID int64) (model.SegmentInfo, bool, error) {
	return c.table.Get(ctx, segmentPK(pageID))
}

// SealedOn returns the segments sealed on the UTC day of t
func (c *SegmentCatalog) SealedOn(t time.Time) ([]model.SegmentInfo, error) {
	return c.table.Table().Search(indexSealedDay, t.UTC().Format(dayLayout), 0)
}

// SealedBetween returns the segments sealed between the UTC days of from and to
func (c *SegmentCatalog) SealedBetween(from, to time.Time) ([]model.SegmentInfo, error) {
	return c.table.Table().RangeSearch(indexSealedDay, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout), 0)
}

// Archived returns the segments that have been written to pages
func (c *SegmentCatalog) Archived() ([]model.SegmentInfo, error) {
	return c.table.Table().Search(indexArchived, "yes", 0)
}

// Table returns the underlying table, for catalog registration
func (c *SegmentCatalog) Table() *table.Table[model.SegmentInfo] {
	return c.table.Table()
}
