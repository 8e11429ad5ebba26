// Package protocol defines the little-endian wire formats of the
// datagram frames exchanged between publications and receivers:
// DATA, PAD, SETUP, SM (status message), NAK, and RTTM.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const Version = uint8(0x0)

// frame types
const (
	TypePad   = uint16(0x00)
	TypeData  = uint16(0x01)
	TypeNak   = uint16(0x02)
	TypeSM    = uint16(0x03)
	TypeErr   = uint16(0x04)
	TypeSetup = uint16(0x05)
	TypeRTTM  = uint16(0x06)
)

// DATA frame flags
const (
	FlagBegin = uint8(0x80)
	FlagEnd   = uint8(0x40)
	FlagEOS   = uint8(0x20)

	FlagUnfragmented = FlagBegin | FlagEnd
)

// RTTM flags
const FlagReply = uint8(0x80)

// fixed header and frame sizes; frames in the log are aligned to
// FrameAlignment (SM and NAK sizes are not multiples of it)
const (
	HeaderSize     = 8
	DataHeaderSize = 32
	SetupFrameSize = 40
	SMFrameSize    = 36
	NakFrameSize   = 28
	RTTMFrameSize  = 40
	FrameAlignment = 8
)

type (
	// leading 8 bytes of every frame
	Header struct {
		FrameLength int32
		Version     uint8
		Flags       uint8
		Type        uint16
	}
	DataHeader struct {
		Header
		TermOffset int32
		SessionID  int32
		StreamID   int32
		TermID     int32
		Reserved   int64
	}
	SetupFrame struct {
		Header
		TermOffset    int32
		SessionID     int32
		StreamID      int32
		InitialTermID int32
		ActiveTermID  int32
		TermLength    int32
		MTU           int32
		TTL           int32
	}
	StatusMessage struct {
		Header
		SessionID             int32
		StreamID              int32
		ConsumptionTermID     int32
		ConsumptionTermOffset int32
		ReceiverWindow        int32
		ReceiverID            int64
		AppSpecific           []byte // trailing bytes, consumed by flow control
	}
	Nak struct {
		Header
		SessionID  int32
		StreamID   int32
		TermID     int32
		TermOffset int32
		Length     int32
	}
	RTTM struct {
		Header
		SessionID      int32
		StreamID       int32
		EchoTimestamp  int64
		ReceptionDelta int64
		ReceiverID     int64
	}
)

var le = binary.LittleEndian

func AlignFrame(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

////////////
// Header //
////////////

func (h *Header) put(b []byte) {
	le.PutUint32(b[0:], uint32(h.FrameLength))
	b[4] = h.Version
	b[5] = h.Flags
	le.PutUint16(b[6:], h.Type)
}

func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderSize {
		err = errors.Errorf("runt frame: %d bytes", len(b))
		return
	}
	h.FrameLength = int32(le.Uint32(b[0:]))
	h.Version = b[4]
	h.Flags = b[5]
	h.Type = le.Uint16(b[6:])
	return
}

////////////////
// DataHeader //
////////////////

// Put serializes the header into the leading DataHeaderSize bytes of b.
// A zero FrameLength denotes a heartbeat.
func (dh *DataHeader) Put(b []byte) {
	dh.Header.Type = TypeData
	dh.Header.Version = Version
	dh.Header.put(b)
	le.PutUint32(b[8:], uint32(dh.TermOffset))
	le.PutUint32(b[12:], uint32(dh.SessionID))
	le.PutUint32(b[16:], uint32(dh.StreamID))
	le.PutUint32(b[20:], uint32(dh.TermID))
	le.PutUint64(b[24:], uint64(dh.Reserved))
}

func ParseDataHeader(b []byte) (dh DataHeader, err error) {
	if dh.Header, err = ParseHeader(b); err != nil {
		return
	}
	if len(b) < DataHeaderSize {
		err = errors.Errorf("truncated data header: %d bytes", len(b))
		return
	}
	dh.TermOffset = int32(le.Uint32(b[8:]))
	dh.SessionID = int32(le.Uint32(b[12:]))
	dh.StreamID = int32(le.Uint32(b[16:]))
	dh.TermID = int32(le.Uint32(b[20:]))
	dh.Reserved = int64(le.Uint64(b[24:]))
	return
}

////////////////
// SetupFrame //
////////////////

func (sf *SetupFrame) Put(b []byte) {
	sf.Header.FrameLength = SetupFrameSize
	sf.Header.Version = Version
	sf.Header.Type = TypeSetup
	sf.Header.put(b)
	le.PutUint32(b[8:], uint32(sf.TermOffset))
	le.PutUint32(b[12:], uint32(sf.SessionID))
	le.PutUint32(b[16:], uint32(sf.StreamID))
	le.PutUint32(b[20:], uint32(sf.InitialTermID))
	le.PutUint32(b[24:], uint32(sf.ActiveTermID))
	le.PutUint32(b[28:], uint32(sf.TermLength))
	le.PutUint32(b[32:], uint32(sf.MTU))
	le.PutUint32(b[36:], uint32(sf.TTL))
}

func ParseSetupFrame(b []byte) (sf SetupFrame, err error) {
	if sf.Header, err = ParseHeader(b); err != nil {
		return
	}
	if len(b) < SetupFrameSize {
		err = errors.Errorf("truncated setup frame: %d bytes", len(b))
		return
	}
	sf.TermOffset = int32(le.Uint32(b[8:]))
	sf.SessionID = int32(le.Uint32(b[12:]))
	sf.StreamID = int32(le.Uint32(b[16:]))
	sf.InitialTermID = int32(le.Uint32(b[20:]))
	sf.ActiveTermID = int32(le.Uint32(b[24:]))
	sf.TermLength = int32(le.Uint32(b[28:]))
	sf.MTU = int32(le.Uint32(b[32:]))
	sf.TTL = int32(le.Uint32(b[36:]))
	return
}

///////////////////
// StatusMessage //
///////////////////

func (sm *StatusMessage) Put(b []byte) int {
	sm.Header.FrameLength = int32(SMFrameSize + len(sm.AppSpecific))
	sm.Header.Version = Version
	sm.Header.Type = TypeSM
	sm.Header.put(b)
	le.PutUint32(b[8:], uint32(sm.SessionID))
	le.PutUint32(b[12:], uint32(sm.StreamID))
	le.PutUint32(b[16:], uint32(sm.ConsumptionTermID))
	le.PutUint32(b[20:], uint32(sm.ConsumptionTermOffset))
	le.PutUint32(b[24:], uint32(sm.ReceiverWindow))
	le.PutUint64(b[28:], uint64(sm.ReceiverID))
	return SMFrameSize + copy(b[SMFrameSize:], sm.AppSpecific)
}

func ParseStatusMessage(b []byte) (sm StatusMessage, err error) {
	if sm.Header, err = ParseHeader(b); err != nil {
		return
	}
	if len(b) < SMFrameSize {
		err = errors.Errorf("truncated status message: %d bytes", len(b))
		return
	}
	sm.SessionID = int32(le.Uint32(b[8:]))
	sm.StreamID = int32(le.Uint32(b[12:]))
	sm.ConsumptionTermID = int32(le.Uint32(b[16:]))
	sm.ConsumptionTermOffset = int32(le.Uint32(b[20:]))
	sm.ReceiverWindow = int32(le.Uint32(b[24:]))
	sm.ReceiverID = int64(le.Uint64(b[28:]))
	sm.AppSpecific = b[SMFrameSize:]
	return
}

/////////
// Nak //
/////////

func (nak *Nak) Put(b []byte) {
	nak.Header.FrameLength = NakFrameSize
	nak.Header.Version = Version
	nak.Header.Type = TypeNak
	nak.Header.put(b)
	le.PutUint32(b[8:], uint32(nak.SessionID))
	le.PutUint32(b[12:], uint32(nak.StreamID))
	le.PutUint32(b[16:], uint32(nak.TermID))
	le.PutUint32(b[20:], uint32(nak.TermOffset))
	le.PutUint32(b[24:], uint32(nak.Length))
}

func ParseNak(b []byte) (nak Nak, err error) {
	if nak.Header, err = ParseHeader(b); err != nil {
		return
	}
	if len(b) < NakFrameSize {
		err = errors.Errorf("truncated NAK: %d bytes", len(b))
		return
	}
	nak.SessionID = int32(le.Uint32(b[8:]))
	nak.StreamID = int32(le.Uint32(b[12:]))
	nak.TermID = int32(le.Uint32(b[16:]))
	nak.TermOffset = int32(le.Uint32(b[20:]))
	nak.Length = int32(le.Uint32(b[24:]))
	return
}

//////////
// RTTM //
//////////

func (rt *RTTM) Put(b []byte) {
	rt.Header.FrameLength = RTTMFrameSize
	rt.Header.Version = Version
	rt.Header.Type = TypeRTTM
	rt.Header.put(b)
	le.PutUint32(b[8:], uint32(rt.SessionID))
	le.PutUint32(b[12:], uint32(rt.StreamID))
	le.PutUint64(b[16:], uint64(rt.EchoTimestamp))
	le.PutUint64(b[24:], uint64(rt.ReceptionDelta))
	le.PutUint64(b[32:], uint64(rt.ReceiverID))
}

func ParseRTTM(b []byte) (rt RTTM, err error) {
	if rt.Header, err = ParseHeader(b); err != nil {
		return
	}
	if len(b) < RTTMFrameSize {
		err = errors.Errorf("truncated RTTM: %d bytes", len(b))
		return
	}
	rt.SessionID = int32(le.Uint32(b[8:]))
	rt.StreamID = int32(le.Uint32(b[12:]))
	rt.EchoTimestamp = int64(le.Uint64(b[16:]))
	rt.ReceptionDelta = int64(le.Uint64(b[24:]))
	rt.ReceiverID = int64(le.Uint64(b[32:]))
	return
}
