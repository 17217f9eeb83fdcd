package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/kv"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/storage/allocator"
	"github.com/devrev/pagedb/internal/storage/archive"
	"github.com/devrev/pagedb/internal/storage/memtable"
	"github.com/devrev/pagedb/internal/storage/timeseries"
	"github.com/devrev/pagedb/internal/util"
	"github.com/devrev/pagedb/internal/util/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ArchiveConfig holds archive service configuration
type ArchiveConfig struct {
	Workers     int
	QueueSize   int
	StopTimeout time.Duration
	Clock       util.Clock
}

// ArchiveService writes sealed segments of a rotating store into allocator
// pages. Seals are picked up through the store's seal hook and archived on
// a worker pool, so appenders never wait for I/O. A full queue drops the
// job; the segment stays readable in memory.
type ArchiveService[V any] struct {
	config  *ArchiveConfig
	store   *timeseries.Store[V]
	alloc   allocator.PageAllocator
	codec   kv.Codec[V]
	pool    *workerpool.WorkerPool
	clock   util.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	// one segment is written at a time, so its pages are contiguous
	writeMu sync.Mutex

	jobsMu sync.RWMutex
	jobs   map[int64]*model.ArchiveJob

	hooksMu sync.RWMutex
	hooks   []func(context.Context, model.SegmentInfo)
}

// NewArchiveService creates the service and registers it on the store
func NewArchiveService[V any](
	cfg *ArchiveConfig,
	store *timeseries.Store[V],
	alloc allocator.PageAllocator,
	codec kv.Codec[V],
	logger *zap.Logger,
	m *metrics.Metrics,
) *ArchiveService[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}

	s := &ArchiveService[V]{
		config:  cfg,
		store:   store,
		alloc:   alloc,
		codec:   codec,
		clock:   cfg.Clock.OrSystem(),
		logger:  logger,
		metrics: m,
		jobs:    make(map[int64]*model.ArchiveJob),
		pool: workerpool.NewWorkerPool(&workerpool.Config{
			Name:       "archive",
			MaxWorkers: cfg.Workers,
			QueueSize:  cfg.QueueSize,
			Logger:     logger,
		}),
	}
	store.OnSeal(s.onSeal)
	return s
}

func segmentInfo[V any](rec *timeseries.PageRecord[V]) model.SegmentInfo {
	return model.SegmentInfo{
		PageID:   rec.PageID,
		MinKey:   rec.MinKey,
		MaxKey:   rec.MaxKey,
		Count:    rec.Count,
		SealedAt: rec.SealedAt,
		Pages:    rec.ArchivedPages,
	}
}

func (s *ArchiveService[V]) setJob(job model.ArchiveJob) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[job.Segment.PageID] = &job
}

// Job returns the latest archive job for a segment
func (s *ArchiveService[V]) Job(pageID int64) (model.ArchiveJob, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[pageID]
	if !ok {
		return model.ArchiveJob{}, false
	}
	return *job, true
}

// OnArchived registers fn to run after a segment was written to pages
func (s *ArchiveService[V]) OnArchived(fn func(context.Context, model.SegmentInfo)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *ArchiveService[V]) onSeal(rec *timeseries.PageRecord[V]) {
	job := model.ArchiveJob{
		JobID:   fmt.Sprintf("archive-%d", rec.PageID),
		Segment: segmentInfo(rec),
		Status:  model.ArchiveStatusPending,
	}
	s.setJob(job)

	err := s.pool.Submit(workerpool.Task{
		ID: job.JobID,
		Fn: func(ctx context.Context) error {
			_, err := s.archive(ctx, rec.PageID)
			if errors.IsCode(err, errors.ErrCodeNotFound) {
				return nil
			}
			return err
		},
	})
	if err != nil {
		job.Status = model.ArchiveStatusRejected
		job.Error = err.Error()
		s.setJob(job)
		s.metrics.ArchiveJobsTotal.WithLabelValues(string(model.ArchiveStatusRejected)).Inc()
		s.logger.Warn("Archive job rejected",
			zap.Int64("page_id", rec.PageID),
			zap.Error(err))
	}
}

// Archive synchronously archives a sealed segment and returns its pages.
// A segment that is already archived is not written again.
func (s *ArchiveService[V]) Archive(ctx context.Context, pageID int64) ([]int32, error) {
	return s.archive(ctx, pageID)
}

func (s *ArchiveService[V]) skip(job model.ArchiveJob, partial []int32) error {
	job.Status = model.ArchiveStatusSkipped
	job.FinishedAt = s.clock()
	job.PartialPages = partial
	s.setJob(job)
	s.metrics.ArchiveJobsTotal.WithLabelValues(string(model.ArchiveStatusSkipped)).Inc()
	s.logger.Info("Segment left the directory, archive skipped",
		zap.Int64("page_id", job.Segment.PageID),
		zap.Int32s("partial_pages", partial))
	return errors.NotFound("segment", strconv.FormatInt(job.Segment.PageID, 10))
}

func (s *ArchiveService[V]) archive(ctx context.Context, pageID int64) ([]int32, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job := model.ArchiveJob{
		JobID:   fmt.Sprintf("archive-%d", pageID),
		Segment: model.SegmentInfo{PageID: pageID},
	}
	rec, ok := s.store.Segment(pageID)
	if !ok {
		if queued, ok := s.Job(pageID); ok && queued.Status == model.ArchiveStatusPending {
			return nil, s.skip(queued, nil)
		}
		return nil, errors.NotFound("segment", strconv.FormatInt(pageID, 10))
	}
	if len(rec.ArchivedPages) > 0 {
		return rec.ArchivedPages, nil
	}

	job.Segment = segmentInfo(rec)
	job.Status = model.ArchiveStatusRunning
	job.StartedAt = s.clock()
	s.setJob(job)
	start := time.Now()

	w := archive.NewWriter(s.alloc, s.logger)
	pages, err := s.write(ctx, w, rec)
	job.FinishedAt = s.clock()
	if err != nil {
		job.Status = model.ArchiveStatusFailed
		job.Error = err.Error()
		job.PartialPages = w.Allocated()
		s.setJob(job)
		s.metrics.ArchiveJobsTotal.WithLabelValues(string(model.ArchiveStatusFailed)).Inc()
		s.logger.Warn("Archive job failed",
			zap.Int64("page_id", pageID),
			zap.Int32s("partial_pages", job.PartialPages),
			zap.Error(err))
		return nil, fmt.Errorf("failed to archive segment %d: %w", pageID, err)
	}

	updated := *rec
	updated.ArchivedPages = pages
	if !s.store.Replace(pageID, &updated) {
		return nil, s.skip(job, pages)
	}

	job.Status = model.ArchiveStatusCompleted
	job.Segment.Pages = pages
	s.setJob(job)

	s.metrics.ArchiveJobsTotal.WithLabelValues(string(model.ArchiveStatusCompleted)).Inc()
	s.metrics.ArchiveJobDuration.Observe(time.Since(start).Seconds())
	s.metrics.ArchivePagesWritten.Add(float64(len(pages)))
	s.logger.Info("Segment archived",
		zap.Int64("page_id", pageID),
		zap.Int("entries", rec.Count),
		zap.Int("pages", len(pages)),
		zap.Duration("duration", time.Since(start)))

	s.hooksMu.RLock()
	hooks := make([]func(context.Context, model.SegmentInfo), len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(ctx, job.Segment)
	}
	return pages, nil
}

func (s *ArchiveService[V]) write(ctx context.Context, w *archive.Writer, rec *timeseries.PageRecord[V]) ([]int32, error) {
	it := rec.Payload.Iterator()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := s.codec.Encode(it.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", it.Key(), err)
		}
		if err := w.Write(it.Key(), data); err != nil {
			return nil, err
		}
	}
	return w.Close()
}

// Restore reads an archived segment back from its pages, in key order.
func (s *ArchiveService[V]) Restore(ctx context.Context, pages []int32) ([]memtable.Entry[V], error) {
	var (
		out    []memtable.Entry[V]
		decErr error
	)
	err := archive.Scan(s.alloc, pages, func(key string, value []byte) bool {
		if decErr = ctx.Err(); decErr != nil {
			return false
		}
		v, err := s.codec.Decode(value)
		if err != nil {
			decErr = errors.CorruptedData("failed to decode archived value "+key, err)
			return false
		}
		out = append(out, memtable.Entry[V]{Key: key, Value: v})
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	return out, nil
}

// RestoreAll restores every archived segment of the store concurrently.
// The result is keyed by segment page ID.
func (s *ArchiveService[V]) RestoreAll(ctx context.Context) (map[int64][]memtable.Entry[V], error) {
	var mu sync.Mutex
	out := make(map[int64][]memtable.Entry[V])

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range s.store.Buffers() {
		if len(rec.ArchivedPages) == 0 {
			continue
		}
		rec := rec
		g.Go(func() error {
			entries, err := s.Restore(gctx, rec.ArchivedPages)
			if err != nil {
				return fmt.Errorf("segment %d: %w", rec.PageID, err)
			}
			mu.Lock()
			out[rec.PageID] = entries
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the archive worker pool statistics
func (s *ArchiveService[V]) Stats() workerpool.Stats {
	return s.pool.Stats()
}

// Stop waits for queued archive jobs to finish
func (s *ArchiveService[V]) Stop() error {
	return s.pool.Stop(s.config.StopTimeout)
}
