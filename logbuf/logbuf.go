// Package logbuf implements the term-partitioned memory-mapped raw log
// shared between producers and the sender, and the scanner that walks
// committed frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package logbuf

import (
	"os"
	ratomic "sync/atomic"
	"unsafe"

	"github.com/NVIDIA/udx/cmn/cos"
	"github.com/NVIDIA/udx/cmn/debug"
	"github.com/NVIDIA/udx/protocol"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Metadata region layout (8-byte aligned):
//
//	0 .. 23   term tail counters, one per partition (term_id<<32 | tail)
//	24        time of last status message (epoch ms)
//	32        initial term id
//	36        MTU length
//	40        correlation (registration) id
//	48        default data-frame header template
const (
	MetaDataSize = 4096

	metaOffTailCounters  = 0
	metaOffTimeOfLastSM  = 24
	metaOffInitialTermID = 32
	metaOffMTULength     = 36
	metaOffCorrelationID = 40
	metaOffDefaultHeader = 48
)

// Log is a memory-mapped raw log: PartitionCount term buffers of termLength
// bytes each, followed by the metadata region. The owning publication maps
// it at creation and unmaps at close.
type Log struct {
	f          *os.File
	path       string
	raw        []byte
	meta       []byte
	terms      [PartitionCount][]byte
	termLength int32
}

func ComputeLogLength(termLength int32) int64 {
	return int64(termLength)*PartitionCount + MetaDataSize
}

// Create creates and maps a new raw log file. The file is grown to its full
// length up front unless sparse.
func Create(path string, termLength int32, sparse bool) (*Log, error) {
	debug.Assert(cos.IsPow2(int64(termLength)) && termLength >= TermMinLength, termLength)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create raw log")
	}
	logLength := ComputeLogLength(termLength)
	if sparse {
		err = f.Truncate(logLength)
	} else {
		err = unix.Fallocate(int(f.Fd()), 0, 0, logLength)
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		if cos.IsErrOOS(err) {
			return nil, cos.NewErrNotEnoughSpace(path, uint64(logLength), 0)
		}
		return nil, errors.Wrap(err, "size raw log")
	}
	return _map(f, path, termLength)
}

// Map maps an existing raw log file (producer/spy side).
func Map(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open raw log")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	termLength := int32((fi.Size() - MetaDataSize) / PartitionCount)
	if !cos.IsPow2(int64(termLength)) || ComputeLogLength(termLength) != fi.Size() {
		f.Close()
		return nil, errors.Errorf("%s: invalid raw log length %d", path, fi.Size())
	}
	return _map(f, path, termLength)
}

func _map(f *os.File, path string, termLength int32) (*Log, error) {
	logLength := ComputeLogLength(termLength)
	raw, err := unix.Mmap(int(f.Fd()), 0, int(logLength), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, cos.NewErrMapFailed(path, err)
	}
	ml := &Log{f: f, path: path, raw: raw, termLength: termLength}
	for i := range ml.terms {
		ml.terms[i] = raw[int64(i)*int64(termLength) : int64(i+1)*int64(termLength)]
	}
	ml.meta = raw[int64(termLength)*PartitionCount:]
	return ml, nil
}

func (ml *Log) Path() string       { return ml.path }
func (ml *Log) TermLength() int32  { return ml.termLength }
func (ml *Log) Term(i int) []byte  { return ml.terms[i] }

// Close unmaps and closes the log; the file remains on disk (see Delete).
func (ml *Log) Close() error {
	if ml.raw == nil {
		return nil
	}
	err := unix.Munmap(ml.raw)
	ml.raw, ml.meta = nil, nil
	for i := range ml.terms {
		ml.terms[i] = nil
	}
	if errc := ml.f.Close(); err == nil {
		err = errc
	}
	return err
}

func (ml *Log) Delete() error {
	err := ml.Close()
	if errr := os.Remove(ml.path); err == nil {
		err = errr
	}
	return err
}

//
// metadata accessors
// (cross-thread fields use acquire loads and release stores)
//

func (ml *Log) metaInt64(off int) *int64 { return (*int64)(unsafe.Pointer(&ml.meta[off])) }
func (ml *Log) metaInt32(off int) *int32 { return (*int32)(unsafe.Pointer(&ml.meta[off])) }

func (ml *Log) RawTail(i int) int64       { return ratomic.LoadInt64(ml.metaInt64(metaOffTailCounters + i*8)) }
func (ml *Log) SetRawTail(i int, v int64) { ratomic.StoreInt64(ml.metaInt64(metaOffTailCounters+i*8), v) }

func (ml *Log) TimeOfLastSM() int64     { return ratomic.LoadInt64(ml.metaInt64(metaOffTimeOfLastSM)) }
func (ml *Log) SetTimeOfLastSM(v int64) { ratomic.StoreInt64(ml.metaInt64(metaOffTimeOfLastSM), v) }

func (ml *Log) InitialTermID() int32 { return *ml.metaInt32(metaOffInitialTermID) }
func (ml *Log) MTULength() int32     { return *ml.metaInt32(metaOffMTULength) }
func (ml *Log) CorrelationID() int64 { return *ml.metaInt64(metaOffCorrelationID) }

// InitMetaData writes the write-once fields and the default data-frame
// header template; done by the creating publication before the log is
// visible to anybody else.
func (ml *Log) InitMetaData(sessionID, streamID, initialTermID int32, mtu int32, correlationID int64) {
	ml.SetRawTail(0, PackTail(initialTermID, 0))
	for i := 1; i < PartitionCount; i++ {
		// not yet rotated into: a term id behind the initial one
		ml.SetRawTail(i, PackTail(initialTermID+int32(i)-PartitionCount, 0))
	}
	*ml.metaInt32(metaOffInitialTermID) = initialTermID
	*ml.metaInt32(metaOffMTULength) = mtu
	*ml.metaInt64(metaOffCorrelationID) = correlationID
	dh := protocol.DataHeader{
		Header:    protocol.Header{Version: protocol.Version, Flags: protocol.FlagUnfragmented},
		SessionID: sessionID,
		StreamID:  streamID,
		TermID:    initialTermID,
	}
	dh.Put(ml.meta[metaOffDefaultHeader : metaOffDefaultHeader+protocol.DataHeaderSize])
}

// ProducerPosition derives the producers' current position from the most
// advanced term tail counter.
func (ml *Log) ProducerPosition(bits uint8) int64 {
	initialTermID := ml.InitialTermID()
	var (
		bestDelta int32
		bestPos   int64
	)
	for i := 0; i < PartitionCount; i++ {
		termID, tail := UnpackRawTail(ml.RawTail(i))
		if tail > ml.termLength {
			tail = ml.termLength
		}
		if delta := termID - initialTermID; delta >= 0 && delta >= bestDelta {
			bestDelta = delta
			bestPos = Position(termID, tail, bits, initialTermID)
		}
	}
	return bestPos
}

// ZeroRange wipes [offset, offset+length) of term buffer i (buffer cleaning).
func (ml *Log) ZeroRange(i int, offset, length int32) {
	b := ml.terms[i][offset : offset+length]
	for j := range b {
		b[j] = 0
	}
}
