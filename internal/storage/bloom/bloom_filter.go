package bloom

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Filter is a probabilistic set of keys. A negative answer is exact; a
// positive one may be wrong with roughly the configured rate.
type Filter struct {
	bits      []uint64
	size      uint64
	hashCount uint64
}

// New creates a filter sized for expectedElements keys at the given false
// positive rate.
func New(expectedElements int, falsePositiveRate float64) *Filter {
	if expectedElements < 1 {
		expectedElements = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	// m = -(n * ln(p)) / (ln(2)^2)
	size := uint64(-float64(expectedElements) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	if size < 64 {
		size = 64
	}

	// k = (m/n) * ln(2)
	hashCount := uint64(float64(size) / float64(expectedElements) * math.Ln2)
	if hashCount == 0 {
		hashCount = 1
	}

	return &Filter{
		bits:      make([]uint64, (size+63)/64),
		size:      size,
		hashCount: hashCount,
	}
}

// Add inserts a key
func (f *Filter) Add(key string) {
	h1, h2 := hashes(key)
	for i := uint64(0); i < f.hashCount; i++ {
		bit := (h1 + i*h2) % f.size
		f.bits[bit/64] |= 1 << (bit % 64)
	}
}

// MayContain checks if a key might be in the set
func (f *Filter) MayContain(key string) bool {
	h1, h2 := hashes(key)
	for i := uint64(0); i < f.hashCount; i++ {
		bit := (h1 + i*h2) % f.size
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// double hashing: h(i) = h1(x) + i*h2(x)
func hashes(key string) (uint64, uint64) {
	h := fnv.New64()
	h.Write([]byte(key))
	hash1 := h.Sum64()

	h.Reset()
	h.Write([]byte(key + "salt"))
	return hash1, h.Sum64()
}

// MarshalBinary encodes size, hash count and the bit words little-endian.
func (f *Filter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16+8*len(f.bits))
	binary.LittleEndian.PutUint64(buf[0:8], f.size)
	binary.LittleEndian.PutUint64(buf[8:16], f.hashCount)
	for i, w := range f.bits {
		binary.LittleEndian.PutUint64(buf[16+8*i:], w)
	}
	return buf, nil
}

// UnmarshalBinary restores a filter written by MarshalBinary
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("bloom filter too short: %d bytes", len(data))
	}
	size := binary.LittleEndian.Uint64(data[0:8])
	hashCount := binary.LittleEndian.Uint64(data[8:16])
	words := (size + 63) / 64
	if size == 0 || hashCount == 0 || uint64(len(data)-16) != words*8 {
		return fmt.Errorf("bloom filter header does not match payload: size=%d len=%d", size, len(data))
	}

	f.size = size
	f.hashCount = hashCount
	f.bits = make([]uint64, words)
	for i := range f.bits {
		f.bits[i] = binary.LittleEndian.Uint64(data[16+8*i:])
	}
	return nil
}
