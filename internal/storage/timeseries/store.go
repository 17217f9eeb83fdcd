package timeseries

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/storage/bloom"
	"github.com/devrev/pagedb/internal/storage/memtable"
	"github.com/devrev/pagedb/internal/util"
	"github.com/google/btree"
	"go.uber.org/zap"
)

// Config holds rotating store configuration
type Config struct {
	// ChunkSize is the number of appends a buffer accepts before it is sealed.
	ChunkSize int

	// BloomFalsePositive is the target rate for per-segment key filters.
	BloomFalsePositive float64

	Clock util.Clock
}

// PageRecord is a sealed, read-only buffer generation.
type PageRecord[V any] struct {
	PageID   int64
	MinKey   string
	MaxKey   string
	Count    int
	SealedAt time.Time
	Payload  *memtable.SkipList[V]
	Filter   *bloom.Filter

	// ArchivedPages lists the allocator pages holding this segment, once
	// it has been archived.
	ArchivedPages []int32
}

// covers reports whether the segment key range intersects [from, to].
func (r *PageRecord[V]) covers(from, to string) bool {
	if from != "" && r.MaxKey < from {
		return false
	}
	if to != "" && r.MinKey > to {
		return false
	}
	return true
}

func (r *PageRecord[V]) mayContain(key string) bool {
	if key < r.MinKey || key > r.MaxKey {
		return false
	}
	return r.Filter == nil || r.Filter.MayContain(key)
}

type buffer[V any] struct {
	gen      int64
	list     *memtable.SkipList[V]
	reserved atomic.Int64
	landed   atomic.Int64
}

func newBuffer[V any](gen int64) *buffer[V] {
	return &buffer[V]{gen: gen, list: memtable.NewSkipList[V]()}
}

// Store is an append-only sorted store that rotates its active buffer into
// a sealed PageRecord every ChunkSize appends.
//
// Appenders never take a lock: each reserves a slot on the active buffer
// with an atomic counter. The appender whose reservation overflows the
// chunk swaps in a fresh buffer with a single CompareAndSwap; the winner
// seals the old buffer once every reserved append has landed, everyone
// else retries on whatever buffer is current. The swap and the registration
// of the old buffer as pending happen under mu, so readers always see a
// swapped-out buffer either as active or in the directory.
type Store[V any] struct {
	chunk   int64
	fpRate  float64
	clock   util.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	active atomic.Pointer[buffer[V]]

	mu      sync.RWMutex
	pending map[int64]*buffer[V] // swapped out, not yet sealed
	sealed  *btree.BTreeG[*PageRecord[V]]

	hookMu sync.RWMutex
	hooks  []func(*PageRecord[V])
}

// New creates a rotating store
func New[V any](cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*Store[V], error) {
	if cfg.ChunkSize < 1 {
		return nil, errors.InvalidArgument("chunk size must be at least 1", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	fp := cfg.BloomFalsePositive
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}

	s := &Store[V]{
		chunk:   int64(cfg.ChunkSize),
		fpRate:  fp,
		clock:   cfg.Clock.OrSystem(),
		logger:  logger,
		metrics: m,
		pending: make(map[int64]*buffer[V]),
		sealed: btree.NewG(16, func(a, b *PageRecord[V]) bool {
			return a.PageID < b.PageID
		}),
	}
	s.active.Store(newBuffer[V](1))
	return s, nil
}

// Append stores v under key in the active buffer. Appending an existing
// key within the same generation replaces its value.
func (s *Store[V]) Append(key string, v V) {
	for {
		b := s.active.Load()
		n := b.reserved.Add(1)
		if n <= s.chunk {
			b.list.Insert(key, v)
			landed := b.landed.Add(1)
			s.metrics.BufferAppendsTotal.Inc()
			s.metrics.BufferActiveEntries.Set(float64(landed))
			return
		}

		if s.rotate(b) {
			s.seal(b)
		} else {
			s.metrics.BufferCASRetries.Inc()
		}
	}
}

// rotate swaps a fresh buffer in for b and registers b as pending. It
// reports whether this caller won the swap.
func (s *Store[V]) rotate(b *buffer[V]) bool {
	if s.active.Load() != b {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.CompareAndSwap(b, newBuffer[V](b.gen+1)) {
		return false
	}
	s.pending[b.gen] = b
	return true
}

// seal freezes a swapped-out buffer into the segment directory. Only the
// CAS winner for b calls it.
func (s *Store[V]) seal(b *buffer[V]) {
	for b.landed.Load() < s.chunk {
		runtime.Gosched()
	}

	rec := &PageRecord[V]{
		PageID:   b.gen,
		Count:    b.list.Len(),
		SealedAt: s.clock(),
		Payload:  b.list,
		Filter:   bloom.New(b.list.Len(), s.fpRate),
	}
	rec.MinKey, _ = b.list.First()
	rec.MaxKey, _ = b.list.Last()
	b.list.Range("", "", func(k string, _ V) bool {
		rec.Filter.Add(k)
		return true
	})

	s.mu.Lock()
	delete(s.pending, b.gen)
	s.sealed.ReplaceOrInsert(rec)
	segments := s.sealed.Len()
	s.mu.Unlock()

	s.metrics.BufferSealsTotal.Inc()
	s.metrics.BufferSealedSegments.Set(float64(segments))
	s.logger.Info("Sealed buffer",
		zap.Int64("page_id", rec.PageID),
		zap.String("min_key", rec.MinKey),
		zap.String("max_key", rec.MaxKey),
		zap.Int("entries", rec.Count))

	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(rec)
	}
}

// OnSeal registers fn to run after every seal, on the sealing goroutine.
func (s *Store[V]) OnSeal(fn func(*PageRecord[V])) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

type generation[V any] struct {
	gen  int64
	list *memtable.SkipList[V]
	rec  *PageRecord[V]
}

// generations returns the active buffer, then every older generation in
// ascending order.
func (s *Store[V]) generations() (*buffer[V], []generation[V]) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.active.Load()
	gens := make([]generation[V], 0, s.sealed.Len()+len(s.pending))
	s.sealed.Ascend(func(r *PageRecord[V]) bool {
		gens = append(gens, generation[V]{gen: r.PageID, list: r.Payload, rec: r})
		return true
	})
	for _, b := range s.pending {
		gens = append(gens, generation[V]{gen: b.gen, list: b.list})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].gen < gens[j].gen })
	return active, gens
}

// Iterate visits values with keys in [from, to]; an empty bound is open on
// that side. The active buffer is visited first, then sealed segments by
// ascending page ID, each in key order. Iteration stops as soon as fn
// returns false. Sealed segments are streamed; buffers still receiving
// appends are copied first so fn may append to the store.
func (s *Store[V]) Iterate(from, to string, fn func(V) bool) {
	active, gens := s.generations()

	for _, e := range active.list.Snapshot(from, to) {
		if !fn(e.Value) {
			return
		}
	}

	for _, g := range gens {
		if g.rec == nil {
			for _, e := range g.list.Snapshot(from, to) {
				if !fn(e.Value) {
					return
				}
			}
			continue
		}
		if !g.rec.covers(from, to) {
			continue
		}
		more := true
		g.list.Range(from, to, func(_ string, v V) bool {
			more = fn(v)
			return more
		})
		if !more {
			return
		}
	}
}

// Get returns the newest value stored under key.
func (s *Store[V]) Get(key string) (V, bool) {
	active, gens := s.generations()
	if v, ok := active.list.Search(key); ok {
		return v, true
	}
	for i := len(gens) - 1; i >= 0; i-- {
		g := gens[i]
		if g.rec != nil && !g.rec.mayContain(key) {
			continue
		}
		if v, ok := g.list.Search(key); ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Buffers returns the sealed segments in ascending page ID order.
func (s *Store[V]) Buffers() []*PageRecord[V] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PageRecord[V], 0, s.sealed.Len())
	s.sealed.Ascend(func(r *PageRecord[V]) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Segment returns the sealed segment with the given page ID
func (s *Store[V]) Segment(pageID int64) (*PageRecord[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed.Get(&PageRecord[V]{PageID: pageID})
}

// Update replaces the directory entry for pageID. The store never calls it.
func (s *Store[V]) Update(pageID int64, rec *PageRecord[V]) {
	rec.PageID = pageID

	s.mu.Lock()
	s.sealed.ReplaceOrInsert(rec)
	segments := s.sealed.Len()
	s.mu.Unlock()

	s.metrics.BufferSealedSegments.Set(float64(segments))
}

// Replace swaps in rec for pageID only while the segment is still in the
// directory. It reports whether the entry was replaced.
func (s *Store[V]) Replace(pageID int64, rec *PageRecord[V]) bool {
	rec.PageID = pageID

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sealed.Has(rec) {
		return false
	}
	s.sealed.ReplaceOrInsert(rec)
	return true
}

// Remove drops a sealed segment. The store never calls it.
func (s *Store[V]) Remove(pageID int64) {
	s.mu.Lock()
	s.sealed.Delete(&PageRecord[V]{PageID: pageID})
	segments := s.sealed.Len()
	s.mu.Unlock()

	s.metrics.BufferSealedSegments.Set(float64(segments))
}

// Active returns the number of distinct keys in the active buffer.
func (s *Store[V]) Active() int {
	return s.active.Load().list.Len()
}
