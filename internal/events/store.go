package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/storage/timeseries"
	"github.com/devrev/pagedb/internal/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Converter turns a domain object into an event
type Converter func(row any) (*model.Event, error)

// ConverterFactory builds the converter for one type tag. It is called
// once per tag; the converter is cached.
type ConverterFactory func() Converter

// Config holds event store configuration
type Config struct {
	ChunkSize          int
	BloomFalsePositive float64

	// Clock stamps events whose converter left EventTime unset.
	Clock util.Clock
}

// Store converts typed objects into events and keeps them in a rotating
// store keyed by event time. Keys are the UTC event time at second
// precision followed by "/" and the event ID, so events in the same second
// stay distinct and still sort by time.
type Store struct {
	factories  sync.Map // string -> ConverterFactory
	converters sync.Map // string -> Converter

	series  *timeseries.Store[*model.Event]
	clock   util.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an event store
func New(cfg *Config, logger *zap.Logger, m *metrics.Metrics) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}

	series, err := timeseries.New[*model.Event](&timeseries.Config{
		ChunkSize:          cfg.ChunkSize,
		BloomFalsePositive: cfg.BloomFalsePositive,
		Clock:              cfg.Clock,
	}, logger.Named("timeseries"), m)
	if err != nil {
		return nil, err
	}

	return &Store{
		series:  series,
		clock:   cfg.Clock.OrSystem(),
		logger:  logger,
		metrics: m,
	}, nil
}

// Register binds a type tag to a converter factory, replacing any earlier
// registration.
func (s *Store) Register(kind string, f ConverterFactory) {
	s.factories.Store(kind, f)
	s.converters.Delete(kind)
	s.logger.Debug("Registered event type", zap.String("type", kind))
}

func (s *Store) converter(kind string) (Converter, bool) {
	if c, ok := s.converters.Load(kind); ok {
		return c.(Converter), true
	}
	f, ok := s.factories.Load(kind)
	if !ok {
		return nil, false
	}
	c, _ := s.converters.LoadOrStore(kind, f.(ConverterFactory)())
	return c.(Converter), true
}

// Insert converts row with the converter registered for kind and appends
// the event. An unknown kind fails with UnregisteredType.
func (s *Store) Insert(kind string, row any) (*model.Event, error) {
	conv, ok := s.converter(kind)
	if !ok {
		s.metrics.EventsRejectedTotal.Inc()
		err := errors.UnregisteredType(kind)
		s.logger.Error("Insert of unregistered event type", zap.String("type", kind), zap.Error(err))
		return nil, err
	}

	ev, err := conv(row)
	if err == nil && ev == nil {
		err = fmt.Errorf("converter returned no event")
	}
	if err != nil {
		s.metrics.EventsRejectedTotal.Inc()
		s.logger.Warn("Event conversion failed", zap.String("type", kind), zap.Error(err))
		return nil, errors.InvalidArgument(fmt.Sprintf("cannot convert %T to event %s", row, kind), err)
	}

	if ev.Type == "" {
		ev.Type = kind
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = s.clock()
	}

	s.series.Append(Key(ev), ev)
	s.metrics.EventsInsertedTotal.WithLabelValues(ev.Type).Inc()
	return ev, nil
}

// MustInsert is like Insert but panics on error
func (s *Store) MustInsert(kind string, row any) *model.Event {
	ev, err := s.Insert(kind, row)
	if err != nil {
		panic(err)
	}
	return ev
}

// Key returns the store key of an event
func Key(ev *model.Event) string {
	return model.TimeKey(ev.EventTime) + "/" + ev.ID
}

// upper is the largest key in the second of t; IDs are ASCII.
func upper(t time.Time) string {
	return model.TimeKey(t) + "/\xff"
}

// Gt visits events at or after ts, truncated to the second, until fn
// returns false. The active buffer is visited before sealed segments.
func (s *Store) Gt(ts time.Time, fn func(*model.Event) bool) {
	s.series.Iterate(model.TimeKey(ts), "", fn)
}

// Lt visits events at or before ts, truncated to the second.
func (s *Store) Lt(ts time.Time, fn func(*model.Event) bool) {
	s.series.Iterate("", upper(ts), fn)
}

// Between visits events from from to to inclusive, at second precision.
func (s *Store) Between(from, to time.Time, fn func(*model.Event) bool) {
	s.series.Iterate(model.TimeKey(from), upper(to), fn)
}

// Segments returns the sealed event segments
func (s *Store) Segments() []*timeseries.PageRecord[*model.Event] {
	return s.series.Buffers()
}

// Series exposes the underlying rotating store
func (s *Store) Series() *timeseries.Store[*model.Event] {
	return s.series
}
