package timeseries

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T, chunk int) *Store[string] {
	t.Helper()
	s, err := New[string](&Config{ChunkSize: chunk}, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func collect(s *Store[string], from, to string) []string {
	var out []string
	s.Iterate(from, to, func(v string) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestNew_RejectsZeroChunk(t *testing.T) {
	_, err := New[string](&Config{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestStore_SealOnOverflow(t *testing.T) {
	s := newStore(t, 3)

	s.Append("k1", "v1")
	s.Append("k2", "v2")
	s.Append("k3", "v3")
	assert.Empty(t, s.Buffers())
	assert.Equal(t, 3, s.Active())

	s.Append("k4", "v4")

	segs := s.Buffers()
	require.Len(t, segs, 1)
	assert.Equal(t, int64(1), segs[0].PageID)
	assert.Equal(t, "k1", segs[0].MinKey)
	assert.Equal(t, "k3", segs[0].MaxKey)
	assert.Equal(t, 3, segs[0].Count)

	assert.Equal(t, 1, s.Active())
	assert.Equal(t, []string{"v4", "v1", "v2", "v3"}, collect(s, "", ""))
}

func TestStore_ChunkOfTwoScenario(t *testing.T) {
	s := newStore(t, 2)
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	keyAt := func(i int) string { return base.Add(time.Duration(i) * time.Second).Format("20060102150405") }

	s.Append(keyAt(0), "a")
	s.Append(keyAt(1), "b")
	s.Append(keyAt(2), "c")

	segs := s.Buffers()
	require.Len(t, segs, 1)
	assert.Equal(t, 2, segs[0].Payload.Len())
	assert.Equal(t, 1, s.Active())

	assert.Equal(t, []string{"c", "a", "b"}, collect(s, "", ""))
}

func TestStore_PageIDsIncrease(t *testing.T) {
	s := newStore(t, 1)
	for i := 0; i < 5; i++ {
		s.Append(fmt.Sprintf("k%d", i), "v")
	}

	segs := s.Buffers()
	require.Len(t, segs, 4)
	for i, seg := range segs {
		assert.Equal(t, int64(i+1), seg.PageID)
		assert.Equal(t, fmt.Sprintf("k%d", i), seg.MinKey)
		assert.Equal(t, seg.MinKey, seg.MaxKey)
	}
}

func TestStore_IterateBounds(t *testing.T) {
	s := newStore(t, 3)
	for i := 1; i <= 7; i++ {
		s.Append(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}
	// sealed: [k1 k2 k3] [k4 k5 k6], active: [k7]

	tests := []struct {
		name     string
		from, to string
		want     []string
	}{
		{"everything", "", "", []string{"v7", "v1", "v2", "v3", "v4", "v5", "v6"}},
		{"from only", "k5", "", []string{"v7", "v5", "v6"}},
		{"to only", "", "k2", []string{"v1", "v2"}},
		{"between", "k3", "k5", []string{"v3", "v4", "v5"}},
		{"empty range", "k9", "k1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(s, tt.from, tt.to))
		})
	}
}

func TestStore_IterateShortCircuits(t *testing.T) {
	s := newStore(t, 2)
	for i := 0; i < 6; i++ {
		s.Append(fmt.Sprintf("k%d", i), "v")
	}

	calls := 0
	s.Iterate("", "", func(string) bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)
}

func TestStore_Get(t *testing.T) {
	s := newStore(t, 2)
	s.Append("a", "1")
	s.Append("b", "2")
	s.Append("c", "3")
	s.Append("d", "4")
	s.Append("a", "5")

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "5", v)

	v, ok = s.Get("c")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = s.Get("zz")
	assert.False(t, ok)
}

func TestStore_UpdateAndRemove(t *testing.T) {
	s := newStore(t, 1)
	s.Append("a", "1")
	s.Append("b", "2")
	s.Append("c", "3")
	require.Len(t, s.Buffers(), 2)

	rec, ok := s.Segment(1)
	require.True(t, ok)
	updated := *rec
	updated.ArchivedPages = []int32{7}
	s.Update(1, &updated)

	rec, ok = s.Segment(1)
	require.True(t, ok)
	assert.Equal(t, []int32{7}, rec.ArchivedPages)

	s.Remove(2)
	segs := s.Buffers()
	require.Len(t, segs, 1)
	assert.Equal(t, int64(1), segs[0].PageID)
	assert.Equal(t, []string{"3", "1"}, collect(s, "", ""))
}

func TestStore_OnSeal(t *testing.T) {
	s := newStore(t, 2)

	var sealed []int64
	s.OnSeal(func(r *PageRecord[string]) {
		sealed = append(sealed, r.PageID)
	})

	for i := 0; i < 7; i++ {
		s.Append(fmt.Sprintf("k%d", i), "v")
	}
	assert.Equal(t, []int64{1, 2, 3}, sealed)
}

func TestStore_SealedAtFromClock(t *testing.T) {
	at := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	s, err := New[int](&Config{ChunkSize: 1, Clock: util.FixedClock(at)}, nil, nil)
	require.NoError(t, err)

	s.Append("a", 1)
	s.Append("b", 2)
	require.Len(t, s.Buffers(), 1)
	assert.Equal(t, at, s.Buffers()[0].SealedAt)
}

func TestStore_ConcurrentAppendersLoseNothing(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	s, err := New[int](&Config{ChunkSize: 16}, zap.NewNop(), m)
	require.NoError(t, err)

	var sealedEntries atomic.Int64
	s.OnSeal(func(r *PageRecord[int]) {
		assert.LessOrEqual(t, r.Count, 16)
		sealedEntries.Add(int64(r.Count))
	})

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Append(fmt.Sprintf("w%02d-%05d", w, i), w*perWorker+i)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int]int)
	s.Iterate("", "", func(v int) bool {
		seen[v]++
		return true
	})
	assert.Len(t, seen, workers*perWorker)
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d visited more than once", v)
	}

	assert.Equal(t, int64(workers*perWorker), sealedEntries.Load()+int64(s.Active()))
	assert.Equal(t, float64(workers*perWorker), testutil.ToFloat64(m.BufferAppendsTotal))
	assert.Equal(t, float64(len(s.Buffers())), testutil.ToFloat64(m.BufferSealsTotal))
}

func TestStore_ReadersNeverMissRotatingBuffers(t *testing.T) {
	s, err := New[int](&Config{ChunkSize: 4}, nil, nil)
	require.NoError(t, err)

	const total = 4000
	var appended atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			s.Append(fmt.Sprintf("k%06d", i), i)
			appended.Store(int64(i + 1))
		}
	}()

	for {
		select {
		case <-done:
			seen := 0
			s.Iterate("", "", func(int) bool { seen++; return true })
			assert.Equal(t, total, seen)
			return
		default:
		}

		before := appended.Load()
		seen := 0
		s.Iterate("", "", func(int) bool { seen++; return true })
		require.GreaterOrEqual(t, int64(seen), before)
	}
}

func TestStore_ConcurrentReadersSeeCompletedAppends(t *testing.T) {
	s, err := New[int](&Config{ChunkSize: 1}, nil, nil)
	require.NoError(t, err)

	const workers, perWorker = 16, 300
	var completed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Append(fmt.Sprintf("w%02d-%05d", w, i), w*perWorker+i)
				completed.Add(1)
			}
		}(w)
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	for round := 0; ; round++ {
		select {
		case <-finished:
			seen := 0
			s.Iterate("", "", func(int) bool { seen++; return true })
			assert.Equal(t, workers*perWorker, seen)
			return
		default:
		}

		before := completed.Load()
		seen := 0
		s.Iterate("", "", func(int) bool { seen++; return true })
		require.GreaterOrEqual(t, int64(seen), before, "round %d", round)
	}
}

func TestStore_IterateCallbackMayAppend(t *testing.T) {
	s := newStore(t, 2)
	for i := 0; i < 5; i++ {
		s.Append(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}

	var visited []string
	s.Iterate("", "", func(v string) bool {
		visited = append(visited, v)
		s.Append("z-"+v, v)
		return true
	})
	assert.Equal(t, []string{"v4", "v0", "v1", "v2", "v3"}, visited)
	assert.Equal(t, 10, len(collect(s, "", "")))
}
