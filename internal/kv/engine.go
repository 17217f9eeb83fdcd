package kv

import (
	"context"
	stderrors "errors"
)

// ErrNotFound is returned when a key does not exist in the engine
var ErrNotFound = stderrors.New("key not found")

// Engine is a byte-oriented key/value backend behind a persistent table
type Engine interface {
	// Get returns the value for key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value
	Put(ctx context.Context, key string, value []byte) error

	Close() error
}
