// Package logbuf implements the term-partitioned memory-mapped raw log
// shared between producers and the sender, and the scanner that walks
// committed frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package logbuf

import (
	"encoding/binary"
	ratomic "sync/atomic"
	"unsafe"

	"github.com/NVIDIA/udx/protocol"
)

// ScanForAvailability walks committed frames starting at b[0] and returns
// the contiguous run of ready-to-send bytes plus trailing padding:
//   - stops at the first zero-length (not yet committed) frame;
//   - stops at a padding frame, reporting its full aligned length as
//     `padding` (the padding advances the position but is not transmitted);
//   - never exceeds maxLength nor len(b) (the remainder of the term).
//
// Frame lengths are loaded with acquire semantics: producers commit
// concurrently by storing the length last.
func ScanForAvailability(b []byte, maxLength int32) (available, padding int32) {
	limit := min(maxLength, int32(len(b)))
	for available < limit {
		frame := b[available:]
		if len(frame) < protocol.HeaderSize {
			break
		}
		frameLength := ratomic.LoadInt32((*int32)(unsafe.Pointer(&frame[0])))
		if frameLength <= 0 {
			break
		}
		aligned := protocol.AlignFrame(frameLength)
		if binary.LittleEndian.Uint16(frame[6:]) == protocol.TypePad {
			padding = aligned
			break
		}
		if available+aligned > limit {
			break
		}
		available += aligned
	}
	return
}
