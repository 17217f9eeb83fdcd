package util

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32 (IEEE) checksums guard the data file header and archived
// segment records.

var crc32Table = crc32.MakeTable(crc32.IEEE)

// ComputeChecksum computes a CRC32 checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum appends a 4-byte little-endian checksum to the data
// Format: [data][checksum (4 bytes)]
func AppendChecksum(data []byte) []byte {
	result := make([]byte, len(data)+4)
	copy(result, data)
	binary.LittleEndian.PutUint32(result[len(data):], ComputeChecksum(data))
	return result
}

// ValidateAndStripChecksum validates the trailing checksum and returns the
// data without it. valid is false when the input is too short or the
// checksum does not match.
func ValidateAndStripChecksum(dataWithChecksum []byte) ([]byte, bool) {
	if len(dataWithChecksum) < 4 {
		return nil, false
	}

	dataLen := len(dataWithChecksum) - 4
	data := dataWithChecksum[:dataLen]
	expected := binary.LittleEndian.Uint32(dataWithChecksum[dataLen:])

	return data, ValidateChecksum(data, expected)
}
