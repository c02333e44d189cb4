package protocol

import "encoding/binary"

// putUint32 writes v into b[0:4] big-endian.
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// Uint32 reads a big-endian uint32 from b[0:4].
func Uint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// putUint64 writes v into b[0:8] big-endian.
func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// Uint64 reads a big-endian uint64 from b[0:8].
func Uint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

// EncodeUint32 returns v as 4 big-endian bytes.
func EncodeUint32(v uint32) [4]byte {
	var b [4]byte
	putUint32(b[:], v)
	return b
}

// EncodeUint64 returns v as 8 big-endian bytes.
func EncodeUint64(v uint64) [8]byte {
	var b [8]byte
	putUint64(b[:], v)
	return b
}
