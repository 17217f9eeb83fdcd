package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, f.MayContain(fmt.Sprintf("key-%d", i)))
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	f := New(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(fmt.Sprintf("key-%d", i))
	}

	hits := 0
	for i := 0; i < 10000; i++ {
		if f.MayContain(fmt.Sprintf("other-%d", i)) {
			hits++
		}
	}
	assert.Less(t, hits, 500, "false positive rate far above configured 1%%")
}

func TestFilter_DegenerateArguments(t *testing.T) {
	f := New(0, 0)
	f.Add("a")
	assert.True(t, f.MayContain("a"))
}

func TestFilter_MarshalRoundTrip(t *testing.T) {
	f := New(10, 0.01)
	f.Add("alpha")
	f.Add("beta")

	data, err := f.MarshalBinary()
	require.NoError(t, err)

	var g Filter
	require.NoError(t, g.UnmarshalBinary(data))
	assert.True(t, g.MayContain("alpha"))
	assert.True(t, g.MayContain("beta"))

	assert.Error(t, g.UnmarshalBinary(data[:10]))
	assert.Error(t, g.UnmarshalBinary(data[:len(data)-8]))
}
