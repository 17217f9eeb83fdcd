package diskmanager

import (
	"testing"
	"time"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fakeStat(total, avail uint64) StatFunc {
	return func(string) (Usage, error) {
		return Usage{TotalBytes: total, AvailableBytes: avail}, nil
	}
}

func TestGuard_CheckBeforeGrow(t *testing.T) {
	tests := []struct {
		name    string
		total   uint64
		avail   uint64
		grow    uint64
		wantErr bool
	}{
		{"plenty of space", 1000, 900, 100, false},
		{"over refuse threshold", 1000, 10, 1, true},
		{"request larger than available", 1000, 100, 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			cfg.Stat = fakeStat(tt.total, tt.avail)
			g, err := NewGuard(cfg, zap.NewNop())
			require.NoError(t, err)

			err = g.CheckBeforeGrow(tt.grow)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsCode(err, errors.ErrCodeAllocationFailed))
		})
	}
}

func TestGuard_RefreshesAfterInterval(t *testing.T) {
	avail := uint64(10)
	cfg := DefaultConfig(t.TempDir())
	cfg.CheckInterval = time.Nanosecond
	cfg.Stat = func(string) (Usage, error) {
		return Usage{TotalBytes: 1000, AvailableBytes: avail}, nil
	}
	g, err := NewGuard(cfg, nil)
	require.NoError(t, err)
	require.Error(t, g.CheckBeforeGrow(1))

	avail = 800
	time.Sleep(time.Millisecond)
	assert.NoError(t, g.CheckBeforeGrow(1))
	assert.InDelta(t, 20.0, g.Usage().Percent(), 0.001)
}

func TestGuard_RealFilesystem(t *testing.T) {
	g, err := NewGuard(DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	require.NoError(t, g.ForceCheck())
	assert.NotZero(t, g.Usage().TotalBytes)
}

func TestNewGuard_RequiresDir(t *testing.T) {
	_, err := NewGuard(&Config{}, nil)
	assert.Error(t, err)
}
