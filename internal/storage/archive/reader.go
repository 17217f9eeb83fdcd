package archive

import (
	"encoding/binary"
	"fmt"

	"github.com/devrev/pagedb/internal/errors"
	"github.com/devrev/pagedb/internal/storage/allocator"
	"github.com/devrev/pagedb/internal/util"
)

func decodeRecord(buf []byte) (string, []byte, error) {
	if len(buf) < keyLenSize+checksumSize {
		return "", nil, errors.CorruptedData(fmt.Sprintf("archive record of %d bytes is too short", len(buf)), nil)
	}
	keyLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	off := keyLenSize + keyLen
	if off+checksumSize > len(buf) {
		return "", nil, errors.CorruptedData(fmt.Sprintf("archive key length %d exceeds record", keyLen), nil)
	}

	key := buf[keyLenSize:off]
	expected := binary.LittleEndian.Uint32(buf[off : off+checksumSize])
	value := buf[off+checksumSize:]

	if actual := util.ComputeChecksum(append(append([]byte{}, key...), value...)); actual != expected {
		return "", nil, errors.ChecksumFailed(expected, actual)
	}
	return string(key), value, nil
}

// Scan reads the given pages in order and calls fn for every record until
// fn returns false. Values alias a per-page buffer and must be copied if
// retained.
func Scan(alloc allocator.PageAllocator, pageNumbers []int32, fn func(key string, value []byte) bool) error {
	buf := make([]byte, alloc.PageSize())
	for _, n := range pageNumbers {
		p, err := alloc.ReadPage(n)
		if err != nil {
			return err
		}
		for p.HasNext() {
			l, err := p.Next(buf)
			if err != nil {
				return fmt.Errorf("failed to read record from page %d: %w", n, err)
			}
			key, value, err := decodeRecord(buf[:l])
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}
			if !fn(key, value) {
				return nil
			}
		}
	}
	return nil
}
