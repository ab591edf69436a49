package protocol

import "hash/crc32"

// CRC32 computes the checksum the bootloader verifies for blocks, pages and
// boot descriptors (IEEE polynomial, same as zlib).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
