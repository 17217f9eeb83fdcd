package table

import (
	"context"
	stderrors "errors"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/kv"
	"github.com/devrev/pagedb/internal/validation"
	"go.uber.org/zap"
)

// PersistentTable writes rows through to a kv.Engine before indexing them
// in memory. Reads that miss in memory fall back to the engine and index
// the row they load.
type PersistentTable[R any] struct {
	table  *Table[R]
	engine kv.Engine
	codec  kv.Codec[R]
	logger *zap.Logger
}

// NewPersistent wraps t with a backing engine
func NewPersistent[R any](t *Table[R], engine kv.Engine, codec kv.Codec[R], logger *zap.Logger) *PersistentTable[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistentTable[R]{
		table:  t,
		engine: engine,
		codec:  codec,
		logger: logger.With(zap.String("table", t.Name())),
	}
}

func (p *PersistentTable[R]) engineKey(pk string) string {
	return p.table.Name() + validation.Separator + pk
}

func (p *PersistentTable[R]) write(ctx context.Context, row R) error {
	pk := p.table.info.PK(row)
	data, err := p.codec.Encode(row)
	if err != nil {
		return errors.InvalidArgument("failed to encode row "+pk, err)
	}
	if err := p.engine.Put(ctx, p.engineKey(pk), data); err != nil {
		p.logger.Error("Engine write failed", zap.String("pk", pk), zap.Error(err))
		return errors.EngineFailed("failed to write row "+pk, err)
	}
	return nil
}

// Insert persists row and indexes it
func (p *PersistentTable[R]) Insert(ctx context.Context, row R) error {
	if err := p.write(ctx, row); err != nil {
		return err
	}
	return p.table.Insert(row)
}

// Update persists row and rewrites its index entries
func (p *PersistentTable[R]) Update(ctx context.Context, row R) error {
	if err := p.write(ctx, row); err != nil {
		return err
	}
	return p.table.Update(row)
}

// Get returns the row for key from memory or, failing that, the engine.
func (p *PersistentTable[R]) Get(ctx context.Context, key string) (R, bool, error) {
	if row, ok := p.table.Get(key); ok {
		return row, true, nil
	}

	var zero R
	data, err := p.engine.Get(ctx, p.engineKey(key))
	if stderrors.Is(err, kv.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, errors.EngineFailed("failed to read row "+key, err)
	}

	row, err := p.codec.Decode(data)
	if err != nil {
		return zero, false, errors.CorruptedData("failed to decode row "+key, err)
	}
	if err := p.table.Insert(row); err != nil {
		return zero, false, err
	}
	p.logger.Debug("Row loaded from engine", zap.String("pk", key))
	return row, true, nil
}

// Table returns the in-memory table for searches and scans
func (p *PersistentTable[R]) Table() *Table[R] { return p.table }
