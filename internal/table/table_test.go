package table

import (
	"fmt"
	"sync"
	"testing"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type Order struct {
	OrderID    int     `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Status     string  `json:"status"`
	Amount     float64 `json:"amount"`
}

func orderInfo() Info[Order] {
	return Info[Order]{
		Name: "orders",
		Schema: map[string]func(Order) any{
			"orderId":    func(o Order) any { return o.OrderID },
			"customerId": func(o Order) any { return o.CustomerID },
			"status":     func(o Order) any { return o.Status },
			"amount":     func(o Order) any { return o.Amount },
		},
		Indexes: map[string]func(Order) string{
			"customerId": func(o Order) string { return o.CustomerID },
			"status":     func(o Order) string { return o.Status },
		},
		PK: func(o Order) string { return fmt.Sprint(o.OrderID) },
	}
}

func newOrders(t *testing.T) *Table[Order] {
	t.Helper()
	tbl, err := New(orderInfo(), zap.NewNop(), nil)
	require.NoError(t, err)
	return tbl
}

func seed(t *testing.T, tbl *Table[Order]) []Order {
	t.Helper()
	rows := []Order{
		{100, "1", "NEW", 10},
		{101, "2", "SHIPPED", 20},
		{102, "1", "SHIPPED", 30},
		{104, "3", "NEW", 40},
	}
	for _, r := range rows {
		require.NoError(t, tbl.Insert(r))
	}
	return rows
}

func ids(rows []Order) []int {
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.OrderID)
	}
	return out
}

func TestTable_OrdersScenario(t *testing.T) {
	tbl := newOrders(t)
	rows := seed(t, tbl)

	for _, r := range rows {
		got, ok := tbl.Get(fmt.Sprint(r.OrderID))
		require.True(t, ok)
		assert.Equal(t, r, got)
	}
	_, ok := tbl.Get("103")
	assert.False(t, ok)

	found, err := tbl.Search("customerId", "1", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 102}, ids(found))
}

func TestTable_SearchLimit(t *testing.T) {
	tbl := newOrders(t)
	seed(t, tbl)

	found, err := tbl.Search("customerId", "1", 1)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, ids(found))

	found, err = tbl.Search("status", "NEW", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 104}, ids(found))
}

func TestTable_SearchDoesNotMatchValuePrefix(t *testing.T) {
	tbl := newOrders(t)
	require.NoError(t, tbl.Insert(Order{OrderID: 1, CustomerID: "1"}))
	require.NoError(t, tbl.Insert(Order{OrderID: 2, CustomerID: "10"}))

	found, err := tbl.Search("customerId", "1", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, ids(found))
}

func TestTable_SearchFuncStops(t *testing.T) {
	tbl := newOrders(t)
	seed(t, tbl)

	var visited []int
	require.NoError(t, tbl.SearchFunc("status", "SHIPPED", func(o Order) bool {
		visited = append(visited, o.OrderID)
		return false
	}))
	assert.Equal(t, []int{101}, visited)
}

func TestTable_RangeSearch(t *testing.T) {
	tbl := newOrders(t)
	seed(t, tbl)

	tests := []struct {
		name       string
		start, end string
		limit      int
		want       []int
	}{
		{"inclusive both ends", "1", "2", 0, []int{100, 102, 101}},
		{"start equals end", "3", "3", 0, []int{104}},
		{"limited", "1", "3", 2, []int{100, 102}},
		{"reversed bounds", "3", "1", 0, nil},
		{"no match", "5", "9", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := tbl.RangeSearch("customerId", tt.start, tt.end, tt.limit)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, found)
				return
			}
			assert.Equal(t, tt.want, ids(found))
		})
	}
}

func TestTable_UnknownIndex(t *testing.T) {
	tbl := newOrders(t)

	_, err := tbl.Search("region", "eu", 10)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
	_, err = tbl.RangeSearch("region", "a", "b", 10)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestTable_SeparatorRejected(t *testing.T) {
	tbl := newOrders(t)

	err := tbl.Insert(Order{OrderID: 1, CustomerID: "a/b"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
	assert.Equal(t, 0, tbl.Len())

	_, err = tbl.Search("customerId", "a/b", 10)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	info := orderInfo()
	info.Name = "my/orders"
	_, err = New(info, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))

	info = orderInfo()
	info.Indexes["by/status"] = func(o Order) string { return o.Status }
	_, err = New(info, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument))
}

func TestTable_UpdateKeepsStaleIndexEntry(t *testing.T) {
	tbl := newOrders(t)
	require.NoError(t, tbl.Insert(Order{OrderID: 100, CustomerID: "1", Status: "NEW"}))
	require.NoError(t, tbl.Update(Order{OrderID: 100, CustomerID: "1", Status: "SHIPPED"}))

	got, ok := tbl.Get("100")
	require.True(t, ok)
	assert.Equal(t, "SHIPPED", got.Status)
	assert.Equal(t, 1, tbl.Len())

	shipped, err := tbl.Search("status", "SHIPPED", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, ids(shipped))

	// the entry under the old value still exists and holds the old row
	stale, err := tbl.Search("status", "NEW", 0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "NEW", stale[0].Status)
}

func TestTable_Scan(t *testing.T) {
	tbl := newOrders(t)
	seed(t, tbl)

	assert.Equal(t, []int{100, 101, 102, 104}, ids(tbl.Scan(0)))
	assert.Equal(t, []int{100, 101}, ids(tbl.Scan(2)))
	assert.Empty(t, newOrders(t).Scan(10))
}

func TestTable_ColumnValue(t *testing.T) {
	tbl := newOrders(t)
	row := Order{OrderID: 7, CustomerID: "9", Amount: 1.5}

	v, err := tbl.ColumnValue("CUSTOMERID", row)
	require.NoError(t, err)
	assert.Equal(t, "9", v)

	v, err = tbl.ColumnValue("amount", row)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	_, err = tbl.ColumnValue("region", row)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestTable_Introspection(t *testing.T) {
	tbl := newOrders(t)
	assert.Equal(t, "orders", tbl.Name())
	assert.Equal(t, []string{"amount", "customerId", "orderId", "status"}, tbl.Cols())
	assert.Equal(t, "Table[orders]", tbl.String())
}

func TestTable_Metrics(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	tbl, err := New(orderInfo(), nil, m)
	require.NoError(t, err)
	seed(t, tbl)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.TableWritesTotal.WithLabelValues("orders")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TableRowsTotal.WithLabelValues("orders")))
}

func TestTable_ConcurrentWriters(t *testing.T) {
	tbl := newOrders(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := w*1000 + i
				assert.NoError(t, tbl.Insert(Order{OrderID: id, CustomerID: fmt.Sprint(w)}))
				tbl.Get(fmt.Sprint(id))
				_, _ = tbl.Search("customerId", fmt.Sprint(w), 5)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 800, tbl.Len())
	for w := 0; w < 8; w++ {
		found, err := tbl.Search("customerId", fmt.Sprint(w), 0)
		require.NoError(t, err)
		assert.Len(t, found, 100)
	}
}
