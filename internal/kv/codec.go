package kv

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec converts rows to and from engine values
type Codec[R any] interface {
	Encode(row R) ([]byte, error)
	Decode(data []byte) (R, error)
}

// JSONCodec encodes rows with encoding/json
type JSONCodec[R any] struct{}

func (JSONCodec[R]) Encode(row R) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}
	return data, nil
}

func (JSONCodec[R]) Decode(data []byte) (R, error) {
	var row R
	if err := json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return row, nil
}

// ProtoCodec encodes protobuf messages. New must return an empty message
// to decode into.
type ProtoCodec[M proto.Message] struct {
	New func() M
}

func (c ProtoCodec[M]) Encode(msg M) ([]byte, error) {
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

func (c ProtoCodec[M]) Decode(data []byte) (M, error) {
	msg := c.New()
	if err := proto.Unmarshal(data, msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}
