package table

import (
	"sort"
	"strings"
	"sync"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/metrics"
	"github.com/devrev/pagedb/internal/validation"
	"github.com/google/btree"
	"go.uber.org/zap"
)

// Info describes a table: its name, column accessors, secondary index
// extractors and primary key function.
type Info[R any] struct {
	Name    string
	Schema  map[string]func(R) any
	Indexes map[string]func(R) string
	PK      func(R) string
}

type item[R any] struct {
	key string
	row R
}

func lessItem[R any](a, b item[R]) bool { return a.key < b.key }

// Table is an in-memory table with a primary map and one sorted map shared
// by all secondary indexes. Index entries use the composite key
// name/index/value/pk, so exact, prefix and range lookups are all ordered
// scans over the same tree.
//
// Each map write is atomic on its own. A row written to several indexes
// can be observed under some of them before the rest. When an indexed
// value changes, the entry under the old value is kept, so searches by the
// old value still return the row.
type Table[R any] struct {
	info      Info[R]
	cols      []string
	schema    map[string]func(R) any
	validator *validation.Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	rowsMu sync.RWMutex
	rows   *btree.BTreeG[item[R]]

	indexMu sync.RWMutex
	index   *btree.BTreeG[item[R]]
}

// New creates a table
func New[R any](info Info[R], logger *zap.Logger, m *metrics.Metrics) (*Table[R], error) {
	v := validation.NewValidator()
	if err := v.ValidateName("table", info.Name); err != nil {
		return nil, err
	}
	if info.PK == nil {
		return nil, errors.InvalidArgument("table "+info.Name+" has no primary key function", nil)
	}
	for name := range info.Indexes {
		if err := v.ValidateName("index", name); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}

	t := &Table[R]{
		info:      info,
		schema:    make(map[string]func(R) any, len(info.Schema)),
		validator: v,
		logger:    logger.With(zap.String("table", info.Name)),
		metrics:   m,
		rows:      btree.NewG(32, lessItem[R]),
		index:     btree.NewG(32, lessItem[R]),
	}
	for col, fn := range info.Schema {
		t.schema[strings.ToLower(col)] = fn
		t.cols = append(t.cols, col)
	}
	sort.Strings(t.cols)
	return t, nil
}

func (t *Table[R]) prefix(index, value string) string {
	return t.info.Name + validation.Separator + index + validation.Separator + value + validation.Separator
}

// Insert stores row under its primary key and writes an index entry per
// index. Inserting an existing key overwrites it.
func (t *Table[R]) Insert(row R) error {
	return t.put(row, "insert")
}

// Update overwrites the row with the same primary key and rewrites its
// index entries for the current values.
func (t *Table[R]) Update(row R) error {
	return t.put(row, "update")
}

func (t *Table[R]) put(row R, op string) error {
	pk := t.info.PK(row)
	if err := t.validator.ValidatePrimaryKey(pk); err != nil {
		return err
	}

	keys := make([]string, 0, len(t.info.Indexes))
	for name, fn := range t.info.Indexes {
		value := fn(row)
		if err := t.validator.ValidateIndexValue(name, value); err != nil {
			return err
		}
		keys = append(keys, t.prefix(name, value)+pk)
	}

	t.rowsMu.Lock()
	_, replaced := t.rows.ReplaceOrInsert(item[R]{key: pk, row: row})
	n := t.rows.Len()
	t.rowsMu.Unlock()

	for _, k := range keys {
		t.indexMu.Lock()
		t.index.ReplaceOrInsert(item[R]{key: k, row: row})
		t.indexMu.Unlock()
	}

	t.metrics.TableWritesTotal.WithLabelValues(t.info.Name).Inc()
	t.metrics.TableRowsTotal.WithLabelValues(t.info.Name).Set(float64(n))
	t.logger.Debug("Row written",
		zap.String("op", op),
		zap.String("pk", pk),
		zap.Bool("replaced", replaced))
	return nil
}

// Get returns the row stored under key
func (t *Table[R]) Get(key string) (R, bool) {
	t.metrics.TableReadsTotal.WithLabelValues(t.info.Name, "get").Inc()

	t.rowsMu.RLock()
	defer t.rowsMu.RUnlock()

	it, ok := t.rows.Get(item[R]{key: key})
	return it.row, ok
}

// Scan returns up to limit rows in primary key order. limit <= 0 returns
// every row.
func (t *Table[R]) Scan(limit int) []R {
	t.metrics.TableReadsTotal.WithLabelValues(t.info.Name, "scan").Inc()

	t.rowsMu.RLock()
	defer t.rowsMu.RUnlock()

	var out []R
	t.rows.Ascend(func(it item[R]) bool {
		out = append(out, it.row)
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (t *Table[R]) checkIndex(index string) error {
	if _, ok := t.info.Indexes[index]; !ok {
		return errors.NotFound("index", t.info.Name+"."+index)
	}
	return nil
}

// SearchFunc calls fn for each row whose index value equals value, in
// primary key order, until fn returns false.
func (t *Table[R]) SearchFunc(index, value string, fn func(R) bool) error {
	if err := t.checkIndex(index); err != nil {
		return err
	}
	if err := t.validator.ValidateIndexValue(index, value); err != nil {
		return err
	}

	prefix := t.prefix(index, value)
	var rows []R
	t.indexMu.RLock()
	t.index.AscendGreaterOrEqual(item[R]{key: prefix}, func(it item[R]) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}
		rows = append(rows, it.row)
		return true
	})
	t.indexMu.RUnlock()

	for _, r := range rows {
		if !fn(r) {
			break
		}
	}
	return nil
}

// Search returns up to limit rows whose index value equals value.
// limit <= 0 means no limit.
func (t *Table[R]) Search(index, value string, limit int) ([]R, error) {
	t.metrics.TableReadsTotal.WithLabelValues(t.info.Name, "search").Inc()

	var out []R
	err := t.SearchFunc(index, value, func(r R) bool {
		out = append(out, r)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	t.metrics.TableSearchRows.Observe(float64(len(out)))
	return out, nil
}

// RangeSearch returns up to limit rows whose index value lies between
// start and end inclusive, ordered by value then primary key. Values are
// compared as components of the composite key.
func (t *Table[R]) RangeSearch(index, start, end string, limit int) ([]R, error) {
	t.metrics.TableReadsTotal.WithLabelValues(t.info.Name, "range").Inc()

	if err := t.checkIndex(index); err != nil {
		return nil, err
	}
	for _, v := range []string{start, end} {
		if err := t.validator.ValidateIndexValue(index, v); err != nil {
			return nil, err
		}
	}
	if start > end {
		return nil, nil
	}

	lo := t.prefix(index, start)
	// every key under end/ sorts below end followed by the byte after '/'
	hi := strings.TrimSuffix(t.prefix(index, end), validation.Separator) + string(rune(validation.Separator[0]+1))

	t.indexMu.RLock()
	defer t.indexMu.RUnlock()

	var out []R
	t.index.AscendRange(item[R]{key: lo}, item[R]{key: hi}, func(it item[R]) bool {
		out = append(out, it.row)
		return limit <= 0 || len(out) < limit
	})
	t.metrics.TableSearchRows.Observe(float64(len(out)))
	return out, nil
}

// ColumnValue reads a column from row. Column names match case-insensitively.
func (t *Table[R]) ColumnValue(col string, row R) (any, error) {
	fn, ok := t.schema[strings.ToLower(col)]
	if !ok {
		return nil, errors.NotFound("column", t.info.Name+"."+col)
	}
	return fn(row), nil
}

// Cols returns the column names in sorted order
func (t *Table[R]) Cols() []string {
	return append([]string(nil), t.cols...)
}

func (t *Table[R]) Name() string { return t.info.Name }

// Len returns the number of rows
func (t *Table[R]) Len() int {
	t.rowsMu.RLock()
	defer t.rowsMu.RUnlock()
	return t.rows.Len()
}

func (t *Table[R]) String() string {
	return "Table[" + t.info.Name + "]"
}
