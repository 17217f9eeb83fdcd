package service

import (
	"context"
	"testing"
	"time"

	"github.com/devrev/pagedb/internal/kv"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/storage/timeseries"
	"github.com/devrev/pagedb/internal/util/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSegmentCatalog_RecordAndSearch(t *testing.T) {
	ctx := context.Background()
	engine := kv.NewMemoryEngine()
	c, err := NewSegmentCatalog(engine, zap.NewNop(), nil)
	require.NoError(t, err)

	day1 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 1, MinKey: "a", MaxKey: "c", Count: 3, SealedAt: day1}))
	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 2, MinKey: "d", MaxKey: "f", Count: 3, SealedAt: day1}))
	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 3, MinKey: "g", MaxKey: "i", Count: 3, SealedAt: day2}))
	assert.Equal(t, 3, engine.Len())

	got, err := c.SealedOn(day1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].PageID)
	assert.Equal(t, int64(2), got[1].PageID)

	got, err = c.SealedBetween(day1, day2)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	archived, err := c.Archived()
	require.NoError(t, err)
	assert.Empty(t, archived)

	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 2, MinKey: "d", MaxKey: "f", Count: 3, SealedAt: day1, Pages: []int32{4, 5}}))
	archived, err = c.Archived()
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, []int32{4, 5}, archived[0].Pages)
}

func TestSegmentCatalog_GetFallsBackToEngine(t *testing.T) {
	ctx := context.Background()
	engine := kv.NewMemoryEngine()

	first, err := NewSegmentCatalog(engine, nil, nil)
	require.NoError(t, err)
	sealed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, first.Record(ctx, model.SegmentInfo{PageID: 9, MinKey: "x", MaxKey: "z", Count: 2, SealedAt: sealed}))

	second, err := NewSegmentCatalog(engine, nil, nil)
	require.NoError(t, err)
	info, ok, err := second.Get(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", info.MinKey)
	assert.True(t, sealed.Equal(info.SealedAt))

	_, ok, err = second.Get(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveService_OnArchivedFeedsCatalog(t *testing.T) {
	ctx := context.Background()
	store, svc := setup(t, 2, heapAllocator(t), nil)
	c, err := NewSegmentCatalog(kv.NewMemoryEngine(), nil, nil)
	require.NoError(t, err)

	svc.OnArchived(func(ctx context.Context, info model.SegmentInfo) {
		assert.NoError(t, c.Record(ctx, info))
	})

	store.Append("a", "1")
	store.Append("b", "2")
	store.Append("c", "3")
	waitArchived(t, store, 1)

	require.Eventually(t, func() bool {
		info, ok, err := c.Get(ctx, 1)
		return err == nil && ok && len(info.Pages) > 0
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSegmentCatalog_RecordKeepsArchivePages(t *testing.T) {
	ctx := context.Background()
	c, err := NewSegmentCatalog(kv.NewMemoryEngine(), nil, nil)
	require.NoError(t, err)

	sealed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 4, Count: 2, SealedAt: sealed, Pages: []int32{8}}))
	require.NoError(t, c.Record(ctx, model.SegmentInfo{PageID: 4, Count: 2, SealedAt: sealed}))

	info, ok, err := c.Get(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int32{8}, info.Pages)
}

// blockingEngine holds Put until release is closed
type blockingEngine struct {
	kv.Engine
	release chan struct{}
}

func (e *blockingEngine) Put(ctx context.Context, key string, value []byte) error {
	<-e.release
	return e.Engine.Put(ctx, key, value)
}

func TestRecordSeals_AppendDoesNotWaitForEngine(t *testing.T) {
	ctx := context.Background()
	engine := &blockingEngine{Engine: kv.NewMemoryEngine(), release: make(chan struct{})}
	c, err := NewSegmentCatalog(engine, nil, nil)
	require.NoError(t, err)

	store, err := timeseries.New[string](&timeseries.Config{ChunkSize: 1}, nil, nil)
	require.NoError(t, err)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: "segments", MaxWorkers: 1, QueueSize: 8})
	RecordSeals(c, store, pool)

	appended := make(chan struct{})
	go func() {
		store.Append("a", "1")
		store.Append("b", "2")
		close(appended)
	}()
	select {
	case <-appended:
	case <-time.After(5 * time.Second):
		t.Fatal("append blocked on the catalog engine")
	}

	close(engine.release)
	require.Eventually(t, func() bool {
		info, ok, err := c.Get(ctx, 1)
		return err == nil && ok && info.MinKey == "a" && info.Count == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Stop(time.Second))
}
