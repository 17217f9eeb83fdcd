package events

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/model"
	"github.com/devrev/pagedb/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orderPlaced struct {
	OrderID string
	At      time.Time
}

type paymentFailed struct {
	PaymentID string
	At        time.Time
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, chunk int) *Store {
	t.Helper()
	s, err := New(&Config{ChunkSize: chunk}, zap.NewNop(), nil)
	require.NoError(t, err)

	s.Register("order_placed", func() Converter {
		return func(row any) (*model.Event, error) {
			o, ok := row.(orderPlaced)
			if !ok {
				return nil, fmt.Errorf("unexpected row %T", row)
			}
			return &model.Event{
				EventTime:  o.At,
				Attributes: map[string]string{"order_id": o.OrderID},
			}, nil
		}
	})
	s.Register("payment_failed", func() Converter {
		return func(row any) (*model.Event, error) {
			p := row.(paymentFailed)
			return &model.Event{
				ID:        "pay-" + p.PaymentID,
				EventTime: p.At,
			}, nil
		}
	})
	return s
}

func collectIDs(visit func(func(*model.Event) bool)) []string {
	var out []string
	visit(func(ev *model.Event) bool {
		out = append(out, ev.Attributes["order_id"])
		return true
	})
	return out
}

func TestStore_InsertFillsDefaults(t *testing.T) {
	s := newStore(t, 10)

	ev, err := s.Insert("order_placed", orderPlaced{OrderID: "o1", At: base})
	require.NoError(t, err)
	assert.Equal(t, "order_placed", ev.Type)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "20240301120000/"+ev.ID, Key(ev))

	ev, err = s.Insert("payment_failed", paymentFailed{PaymentID: "7", At: base})
	require.NoError(t, err)
	assert.Equal(t, "pay-7", ev.ID)
}

func TestStore_UnregisteredType(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	s, err := New(&Config{ChunkSize: 4}, zap.NewNop(), m)
	require.NoError(t, err)

	_, err = s.Insert("refund_issued", struct{}{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnregisteredType))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejectedTotal))

	assert.Panics(t, func() { s.MustInsert("refund_issued", struct{}{}) })
}

func TestStore_ConverterError(t *testing.T) {
	s := newStore(t, 4)

	_, err := s.Insert("order_placed", "not an order")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestStore_FactoryCalledOnce(t *testing.T) {
	s, err := New(&Config{ChunkSize: 100}, nil, nil)
	require.NoError(t, err)

	var calls atomic.Int32
	s.Register("tick", func() Converter {
		calls.Add(1)
		return func(any) (*model.Event, error) { return &model.Event{EventTime: base}, nil }
	})

	for i := 0; i < 10; i++ {
		s.MustInsert("tick", i)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_SameSecondEventsKept(t *testing.T) {
	s := newStore(t, 100)
	for i := 0; i < 5; i++ {
		s.MustInsert("order_placed", orderPlaced{OrderID: fmt.Sprint(i), At: base})
	}

	n := 0
	s.Gt(base, func(*model.Event) bool {
		n++
		return true
	})
	assert.Equal(t, 5, n)
}

func TestStore_TimeQueries(t *testing.T) {
	s := newStore(t, 100)
	for i := 0; i < 5; i++ {
		s.MustInsert("order_placed", orderPlaced{OrderID: fmt.Sprint(i), At: base.Add(time.Duration(i) * time.Minute)})
	}

	assert.Equal(t, []string{"2", "3", "4"}, collectIDs(func(fn func(*model.Event) bool) {
		s.Gt(base.Add(2*time.Minute), fn)
	}))
	assert.Equal(t, []string{"0", "1"}, collectIDs(func(fn func(*model.Event) bool) {
		s.Lt(base.Add(time.Minute), fn)
	}))
	assert.Equal(t, []string{"1", "2", "3"}, collectIDs(func(fn func(*model.Event) bool) {
		s.Between(base.Add(time.Minute), base.Add(3*time.Minute), fn)
	}))
}

func TestStore_GtVisitsActiveBeforeSealed(t *testing.T) {
	s := newStore(t, 2)
	for i := 0; i < 3; i++ {
		s.MustInsert("order_placed", orderPlaced{OrderID: fmt.Sprint(i), At: base.Add(time.Duration(i) * time.Second)})
	}

	require.Len(t, s.Segments(), 1)
	assert.Equal(t, 1, s.Series().Active())
	assert.Equal(t, []string{"2", "0", "1"}, collectIDs(func(fn func(*model.Event) bool) {
		s.Gt(base, fn)
	}))
}

func TestStore_ClockStampsMissingTime(t *testing.T) {
	at := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := New(&Config{ChunkSize: 4, Clock: util.FixedClock(at)}, nil, nil)
	require.NoError(t, err)
	s.Register("ping", func() Converter {
		return func(any) (*model.Event, error) { return &model.Event{}, nil }
	})

	ev := s.MustInsert("ping", nil)
	assert.Equal(t, at, ev.EventTime)
}

func TestStore_RegisterReplaces(t *testing.T) {
	s := newStore(t, 4)
	s.Register("order_placed", func() Converter {
		return func(any) (*model.Event, error) {
			return &model.Event{Type: "order_v2", EventTime: base}, nil
		}
	})

	ev := s.MustInsert("order_placed", orderPlaced{})
	assert.Equal(t, "order_v2", ev.Type)
}
