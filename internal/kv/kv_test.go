package kv

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type order struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

func testEngine(t *testing.T, e Engine) {
	t.Helper()
	ctx := context.Background()

	_, err := e.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Put(ctx, "orders/100", []byte("a")))
	require.NoError(t, e.Put(ctx, "orders/100", []byte("b")))

	v, err := e.Get(ctx, "orders/100")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)
}

func TestMemoryEngine(t *testing.T) {
	e := NewMemoryEngine()
	defer e.Close()
	testEngine(t, e)
	assert.Equal(t, 1, e.Len())
}

func TestMemoryEngine_CopiesValues(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()

	buf := []byte("abc")
	require.NoError(t, e.Put(ctx, "k", buf))
	buf[0] = 'x'

	v, err := e.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(v))
}

func TestMemoryEngine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewMemoryEngine()
	assert.ErrorIs(t, e.Put(ctx, "k", nil), context.Canceled)
	_, err := e.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisEngine(t *testing.T) {
	host := os.Getenv("PAGEDB_TEST_REDIS_HOST")
	if host == "" {
		t.Skip("PAGEDB_TEST_REDIS_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("PAGEDB_TEST_REDIS_PORT"))
	if port == 0 {
		port = 6379
	}

	e, err := NewRedisEngine(&RedisConfig{Host: host, Port: port, KeyPrefix: "pagedb-test:"}, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	testEngine(t, e)
}

func TestPostgresEngine(t *testing.T) {
	host := os.Getenv("PAGEDB_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("PAGEDB_TEST_POSTGRES_HOST not set")
	}

	e, err := NewPostgresEngine(context.Background(), &PostgresConfig{
		Host:     host,
		Port:     5432,
		Database: "postgres",
		User:     "postgres",
		Password: os.Getenv("PAGEDB_TEST_POSTGRES_PASSWORD"),
		MaxConns: 4,
		MinConns: 1,
		Table:    "pagedb_kv_test",
	}, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	testEngine(t, e)
}

func TestJSONCodec(t *testing.T) {
	c := JSONCodec[order]{}
	in := order{OrderID: "100", CustomerID: "1", Amount: 9.5}

	data, err := c.Encode(in)
	require.NoError(t, err)
	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = c.Decode([]byte("{"))
	assert.Error(t, err)
}

func TestProtoCodec(t *testing.T) {
	c := ProtoCodec[*wrapperspb.StringValue]{New: func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }}

	data, err := c.Encode(wrapperspb.String("hello"))
	require.NoError(t, err)
	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.GetValue())

	_, err = c.Decode([]byte{0xFF, 0xFF})
	assert.Error(t, err)
}
