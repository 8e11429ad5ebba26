// Package logbuf implements the term-partitioned memory-mapped raw log
// and the scanner that walks committed frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package logbuf_test

import (
	"encoding/binary"
	"testing"

	"github.com/NVIDIA/udx/logbuf"
	"github.com/NVIDIA/udx/protocol"
)

// commit lays a data frame of the given total length down at off and
// returns the next (aligned) offset.
func commit(term []byte, off, length int32) int32 {
	binary.LittleEndian.PutUint16(term[off+6:], protocol.TypeData)
	binary.LittleEndian.PutUint32(term[off:], uint32(length))
	return off + protocol.AlignFrame(length)
}

func commitPadding(term []byte, off, length int32) int32 {
	binary.LittleEndian.PutUint16(term[off+6:], protocol.TypePad)
	binary.LittleEndian.PutUint32(term[off:], uint32(length))
	return off + protocol.AlignFrame(length)
}

func TestScanCommittedRun(t *testing.T) {
	term := make([]byte, 64*1024)
	off := commit(term, 0, 1024)
	off = commit(term, off, 512)
	commit(term, off, 256)

	available, padding := logbuf.ScanForAvailability(term, 4096)
	if available != 1024+512+256 || padding != 0 {
		t.Fatalf("available=%d padding=%d", available, padding)
	}
}

func TestScanStopsAtUncommitted(t *testing.T) {
	term := make([]byte, 64*1024)
	commit(term, 0, 1024)
	// the frame at 1024 is reserved but not committed (zero length)

	available, padding := logbuf.ScanForAvailability(term, 8192)
	if available != 1024 || padding != 0 {
		t.Fatalf("available=%d padding=%d", available, padding)
	}
}

func TestScanLimit(t *testing.T) {
	term := make([]byte, 64*1024)
	off := commit(term, 0, 1024)
	commit(term, off, 1024)

	// the second frame does not fit the scan limit
	available, padding := logbuf.ScanForAvailability(term, 1408)
	if available != 1024 || padding != 0 {
		t.Fatalf("available=%d padding=%d", available, padding)
	}
}

func TestScanTrailingPadding(t *testing.T) {
	term := make([]byte, 64*1024)
	off := commit(term, 0, 1024)
	off = commit(term, off, 512)
	commitPadding(term, off, 2048)

	available, padding := logbuf.ScanForAvailability(term, 8192)
	if available != 1024+512 {
		t.Fatalf("available=%d", available)
	}
	if padding != 2048 {
		t.Fatalf("padding=%d", padding)
	}
}

func TestScanNeverPastTermEnd(t *testing.T) {
	term := make([]byte, 128)
	commit(term, 0, 120)

	available, padding := logbuf.ScanForAvailability(term[:128], 4096)
	if available != 120 || padding != 0 {
		t.Fatalf("available=%d padding=%d", available, padding)
	}
	// nothing left to scan at the very end of a term
	available, padding = logbuf.ScanForAvailability(term[128:], 4096)
	if available != 0 || padding != 0 {
		t.Fatalf("empty scan: available=%d padding=%d", available, padding)
	}
}
