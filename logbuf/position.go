// Package logbuf implements the term-partitioned memory-mapped raw log
// shared between producers and the sender, and the scanner that walks
// committed frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package logbuf

// The stream is written into a rotating sequence of PartitionCount term
// buffers; a 64-bit position decomposes into (term id, term offset).
const PartitionCount = 3

const (
	TermMinLength = 64 * 1024 // power of two
)

func IndexByPosition(pos int64, bits uint8) int {
	return int(uint64(pos)>>bits) % PartitionCount
}

func TermIDFromPosition(pos int64, bits uint8, initialTermID int32) int32 {
	return initialTermID + int32(pos>>bits) // term id wraps by design
}

// Position computes the stream position of (termID, termOffset); the
// term-id delta is computed in 32 bits to survive wrap.
func Position(termID, termOffset int32, bits uint8, initialTermID int32) int64 {
	return (int64(termID-initialTermID) << bits) + int64(termOffset)
}

func PackTail(termID, tail int32) int64  { return int64(termID)<<32 | int64(uint32(tail)) }
func UnpackRawTail(raw int64) (termID, tail int32) {
	return int32(raw >> 32), int32(raw & 0xffffffff)
}
