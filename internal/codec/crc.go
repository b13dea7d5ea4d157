package codec

import "hash/crc32"

// Table is the CRC32 polynomial table behind the WAL's WCRC footer, the
// only checksum in Vela's on-disk formats. Castagnoli, matching the
// teacher's wal.go/format.go convention.
var Table = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC32-C checksum of b.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, Table)
}
