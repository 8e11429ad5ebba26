// Package logbuf implements the term-partitioned memory-mapped raw log
// and the scanner that walks committed frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package logbuf_test

import (
	"path/filepath"
	"testing"

	"github.com/NVIDIA/udx/logbuf"
	"github.com/stretchr/testify/require"
)

func TestCreateMapClose(t *testing.T) {
	const termLength = 64 * 1024
	path := filepath.Join(t.TempDir(), "udp-127.0.0.1-40456-3-1001-42.logbuffer")

	ml, err := logbuf.Create(path, termLength, true /*sparse*/)
	require.NoError(t, err)
	ml.InitMetaData(3, 1001, 7 /*initial term*/, 1408, 42)

	require.EqualValues(t, termLength, ml.TermLength())
	require.EqualValues(t, 7, ml.InitialTermID())
	require.EqualValues(t, 1408, ml.MTULength())
	require.EqualValues(t, 42, ml.CorrelationID())

	termID, tail := logbuf.UnpackRawTail(ml.RawTail(0))
	require.EqualValues(t, 7, termID)
	require.EqualValues(t, 0, tail)

	require.NoError(t, ml.Close())

	// producers map the same file
	ml2, err := logbuf.Map(path)
	require.NoError(t, err)
	require.EqualValues(t, termLength, ml2.TermLength())
	require.EqualValues(t, 7, ml2.InitialTermID())
	require.NoError(t, ml2.Delete())
}

func TestCreateExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.logbuffer")
	ml, err := logbuf.Create(path, 64*1024, true)
	require.NoError(t, err)
	defer ml.Delete()

	_, err = logbuf.Create(path, 64*1024, true)
	require.Error(t, err, "second create of the same log must fail")
}

func TestProducerPosition(t *testing.T) {
	const termLength = 64 * 1024
	path := filepath.Join(t.TempDir(), "pp.logbuffer")
	ml, err := logbuf.Create(path, termLength, true)
	require.NoError(t, err)
	defer ml.Delete()

	const initialTermID = int32(-5) // term ids may be negative and wrap
	ml.InitMetaData(3, 1001, initialTermID, 1408, 1)
	bits := uint8(16) // log2(64 KiB)

	require.EqualValues(t, 0, ml.ProducerPosition(bits))

	ml.SetRawTail(0, logbuf.PackTail(initialTermID, 4096))
	require.EqualValues(t, 4096, ml.ProducerPosition(bits))

	// rotation: term 1 is ahead of term 0
	ml.SetRawTail(1, logbuf.PackTail(initialTermID+1, 512))
	require.EqualValues(t, int64(termLength)+512, ml.ProducerPosition(bits))

	// a tail past the term end is clamped
	ml.SetRawTail(1, logbuf.PackTail(initialTermID+1, termLength+100))
	require.EqualValues(t, int64(termLength)*2, ml.ProducerPosition(bits))
}

func TestZeroRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zr.logbuffer")
	ml, err := logbuf.Create(path, 64*1024, true)
	require.NoError(t, err)
	defer ml.Delete()

	term := ml.Term(1)
	for i := 0; i < 1024; i++ {
		term[i] = 0xff
	}
	ml.ZeroRange(1, 256, 512)
	for i := 0; i < 256; i++ {
		require.EqualValues(t, 0xff, term[i])
	}
	for i := 256; i < 768; i++ {
		require.EqualValues(t, 0, term[i])
	}
	require.EqualValues(t, 0xff, term[768])
}

func TestPositionMath(t *testing.T) {
	const bits = uint8(16)
	for _, tc := range []struct {
		initial int32
		pos     int64
		termID  int32
		offset  int32
	}{
		{7, 0, 7, 0},
		{7, 1024, 7, 1024},
		{7, 64*1024 + 10, 8, 10},
		{-3, 3 * 64 * 1024, 0, 0},
		{0x7fffffff, 64 * 1024, -0x80000000, 0}, // wrap
	} {
		termID := logbuf.TermIDFromPosition(tc.pos, bits, tc.initial)
		require.EqualValues(t, tc.termID, termID, "pos=%d", tc.pos)
		require.EqualValues(t, tc.pos, logbuf.Position(termID, tc.offset, bits, tc.initial))
	}
	require.Equal(t, 0, logbuf.IndexByPosition(0, bits))
	require.Equal(t, 1, logbuf.IndexByPosition(64*1024, bits))
	require.Equal(t, 2, logbuf.IndexByPosition(2*64*1024+5, bits))
	require.Equal(t, 0, logbuf.IndexByPosition(3*64*1024, bits))
}
