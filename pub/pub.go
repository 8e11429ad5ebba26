// Package pub implements the network publication: the per-stream state
// machine that owns a mapped log, schedules sends and retransmissions,
// answers control frames, and advances through its lifecycle under the
// conductor.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package pub

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/NVIDIA/udx/cmn/atomic"
	"github.com/NVIDIA/udx/cmn/cos"
	"github.com/NVIDIA/udx/cmn/debug"
	"github.com/NVIDIA/udx/conf"
	"github.com/NVIDIA/udx/counters"
	"github.com/NVIDIA/udx/flowctl"
	"github.com/NVIDIA/udx/logbuf"
	"github.com/NVIDIA/udx/protocol"
	"github.com/sirupsen/logrus"
)

const (
	maxMessagesPerSend = 2

	heartbeatTimeoutNs = int64(100 * time.Millisecond)
	setupTimeoutNs     = int64(100 * time.Millisecond)
)

type (
	// Channel is the write side of the shared UDP endpoint
	// (implemented by *udp.Endpoint; a weak reference - never closed here).
	Channel interface {
		Send(b []byte) (int, error)
		SendBatch(bufs [][]byte) (int, error)
		TTL() uint8
	}

	Args struct {
		Channel          Channel
		Flow             flowctl.Strategy
		Counters         *counters.Manager
		Sys              *counters.System
		NanoClock        func() int64 // mono ns
		EpochClock       func() int64 // wall ms
		UsableSpace      func(dir string) (uint64, error)
		Dir              string // publications dir
		CanonicalChannel string
		RegistrationID   int64
		TermWindowLength int64
		LingerTimeoutNs  int64
		ConnectionTmoMs  int64
		SessionID        int32
		StreamID         int32
		InitialTermID    int32
		TermLength       int32
		MTU              int32
		Sparse           bool
		IsExclusive      bool
	}

	Publication struct {
		channel Channel
		flow    flowctl.Strategy
		cm      *counters.Manager
		sys     *counters.System
		log     *logbuf.Log

		pubLmt *counters.Position
		sndPos *counters.Position
		sndLmt *counters.Position

		nanoClock  func() int64
		epochClock func() int64

		lg *logrus.Entry

		// sender-thread state
		timeOfLastSendOrHBNs int64
		timeOfLastSetupNs    int64
		trackSenderLimits    bool

		// conductor-thread state
		spies         []*counters.Position
		status        status
		refcnt        int32
		cleanPosition int64
		lastSndPos    int64
		timeOfLastActivityNs     int64
		timeOfLastStatusChangeNs int64

		// cross-thread flags
		shouldSendSetupFrame atomic.Bool
		isConnected          atomic.Bool
		isComplete           atomic.Bool
		hasSenderReleased    atomic.Bool

		retransmit retransmitHandler

		registrationID   int64
		termWindowLength int64
		lingerTimeoutNs  int64
		connectionTmoMs  int64
		sessionID        int32
		streamID         int32
		initialTermID    int32
		termLengthMask   int32
		mtu              int32
		posBits          uint8
		isExclusive      bool
	}
)

// New creates a publication together with its mapped log; on any failure
// the partially acquired resources are released in reverse order.
func New(a *Args) (*Publication, error) {
	debug.Assert(a.Channel != nil && a.Flow != nil && a.Counters != nil && a.Sys != nil)

	usable := a.UsableSpace
	if usable == nil {
		usable = conf.UsableSpace
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, err
	}
	logLength := logbuf.ComputeLogLength(a.TermLength)
	if avail, err := usable(a.Dir); err == nil && avail < uint64(logLength) {
		return nil, cos.NewErrNotEnoughSpace(a.Dir, uint64(logLength), avail)
	}

	path := filepath.Join(a.Dir, fmt.Sprintf("%s-%d-%d-%d.logbuffer",
		a.CanonicalChannel, a.SessionID, a.StreamID, a.RegistrationID))
	log, err := logbuf.Create(path, a.TermLength, a.Sparse)
	if err != nil {
		return nil, err
	}
	log.InitMetaData(a.SessionID, a.StreamID, a.InitialTermID, a.MTU, a.RegistrationID)

	nanoClock := a.NanoClock
	epochClock := a.EpochClock
	debug.Assert(nanoClock != nil && epochClock != nil)
	now := nanoClock()

	p := &Publication{
		channel:    a.Channel,
		flow:       a.Flow,
		cm:         a.Counters,
		sys:        a.Sys,
		log:        log,
		nanoClock:  nanoClock,
		epochClock: epochClock,

		registrationID:   a.RegistrationID,
		sessionID:        a.SessionID,
		streamID:         a.StreamID,
		initialTermID:    a.InitialTermID,
		termLengthMask:   a.TermLength - 1,
		posBits:          cos.TrailingZeros(int64(a.TermLength)),
		mtu:              a.MTU,
		termWindowLength: a.TermWindowLength,
		lingerTimeoutNs:  a.LingerTimeoutNs,
		connectionTmoMs:  a.ConnectionTmoMs,
		isExclusive:      a.IsExclusive,

		status: statusActive,
		refcnt: 1,

		timeOfLastSendOrHBNs: now - heartbeatTimeoutNs - 1,
		timeOfLastSetupNs:    now - setupTimeoutNs - 1,
		trackSenderLimits:    true,
	}
	p.shouldSendSetupFrame.Store(true)
	p.retransmit.init(&a.Sys.InvalidPackets, nil /*immediate*/, p.resend)

	lid := fmt.Sprintf("%s:%d:%d", a.CanonicalChannel, a.StreamID, a.SessionID)
	p.lg = logrus.WithFields(logrus.Fields{"pub": lid, "reg": a.RegistrationID})

	p.pubLmt = a.Counters.Allocate("pub-lmt " + lid)
	p.sndPos = a.Counters.Allocate("snd-pos " + lid)
	p.sndLmt = a.Counters.Allocate("snd-lmt " + lid)
	return p, nil
}

// Close releases everything the publication owns, in reverse construction
// order. The endpoint is shared and is left alone.
func (p *Publication) Close() {
	p.cm.Free(p.sndLmt.ID())
	p.cm.Free(p.sndPos.ID())
	p.cm.Free(p.pubLmt.ID())
	for _, spy := range p.spies {
		p.cm.Free(spy.ID())
	}
	p.spies = nil
	p.flow.Close()
	if err := p.log.Delete(); err != nil {
		p.lg.WithError(err).Warn("delete raw log")
	}
}

func (p *Publication) RegistrationID() int64 { return p.registrationID }
func (p *Publication) SessionID() int32      { return p.sessionID }
func (p *Publication) StreamID() int32       { return p.streamID }
func (p *Publication) LogFileName() string   { return p.log.Path() }
func (p *Publication) IsExclusive() bool     { return p.isExclusive }
func (p *Publication) IsConnected() bool     { return p.isConnected.Load() }
func (p *Publication) String() string {
	return fmt.Sprintf("pub[%d:%d reg=%d]", p.sessionID, p.streamID, p.registrationID)
}

func (p *Publication) SenderPosition() int64  { return p.sndPos.Load() }
func (p *Publication) CleanPosition() int64   { return p.cleanPosition }
func (p *Publication) SenderLimit() int64     { return p.sndLmt.Load() }
func (p *Publication) PublisherLimit() int64  { return p.pubLmt.Load() }
func (p *Publication) ProducerPosition() int64 { return p.log.ProducerPosition(p.posBits) }
func (p *Publication) SpyJoinPosition() int64  { return p.ProducerPosition() }

//
// sender-thread duty cycle
//

// Send is the sender tick: setup cadence, data batching, heartbeats,
// flow-control idle, and retransmit timeouts.
func (p *Publication) Send(nowNs int64) (int, error) {
	var (
		sndPos       = p.sndPos.Load()
		activeTermID = logbuf.TermIDFromPosition(sndPos, p.posBits, p.initialTermID)
		termOffset   = int32(sndPos) & p.termLengthMask
	)
	if p.shouldSendSetupFrame.Load() {
		if err := p.setupCheck(nowNs, activeTermID, termOffset); err != nil {
			return 0, err
		}
	}
	bytesSent, err := p.sendData(nowNs, sndPos, termOffset)
	if err != nil {
		return bytesSent, err
	}
	if bytesSent == 0 {
		bytesSent, err = p.heartbeatCheck(nowNs, activeTermID, termOffset)
		if err != nil {
			return 0, err
		}
		sndLmt := p.sndLmt.Load()
		p.sndLmt.Store(p.flow.OnIdle(nowNs, sndLmt))
	}
	p.retransmit.processTimeouts(nowNs)
	return bytesSent, nil
}

func (p *Publication) setupCheck(nowNs int64, activeTermID, termOffset int32) error {
	if p.isConnected.Load() {
		p.shouldSendSetupFrame.Store(false)
		return nil
	}
	if nowNs <= p.timeOfLastSetupNs+setupTimeoutNs {
		return nil
	}
	var (
		buf [protocol.SetupFrameSize]byte
		sf  = protocol.SetupFrame{
			TermOffset:    termOffset,
			SessionID:     p.sessionID,
			StreamID:      p.streamID,
			InitialTermID: p.initialTermID,
			ActiveTermID:  activeTermID,
			TermLength:    p.termLengthMask + 1,
			MTU:           p.mtu,
			TTL:           int32(p.channel.TTL()),
		}
	)
	sf.Put(buf[:])
	err := p.dispatch(buf[:])
	p.timeOfLastSetupNs = nowNs
	p.timeOfLastSendOrHBNs = nowNs
	return err
}

func (p *Publication) heartbeatCheck(nowNs int64, activeTermID, termOffset int32) (int, error) {
	if nowNs <= p.timeOfLastSendOrHBNs+heartbeatTimeoutNs {
		return 0, nil
	}
	var (
		buf [protocol.DataHeaderSize]byte
		dh  = protocol.DataHeader{
			Header:     protocol.Header{Flags: protocol.FlagUnfragmented},
			TermOffset: termOffset,
			SessionID:  p.sessionID,
			StreamID:   p.streamID,
			TermID:     activeTermID,
		}
	)
	if p.isComplete.Load() {
		dh.Flags |= protocol.FlagEOS
	}
	dh.Put(buf[:]) // FrameLength stays zero: heartbeat
	err := p.dispatch(buf[:])
	p.sys.HeartbeatsSent.Inc()
	p.timeOfLastSendOrHBNs = nowNs
	return protocol.DataHeaderSize, err
}

func (p *Publication) sendData(nowNs, sndPos int64, termOffset int32) (int, error) {
	var (
		termLength      = p.termLengthMask + 1
		availableWindow = p.sndLmt.Load() - sndPos
		highestPos      = sndPos
		iovecs          [maxMessagesPerSend][]byte
		vlen, bytesSent int
	)
	for i := 0; i < maxMessagesPerSend && availableWindow > 0; i++ {
		scanLimit := min(int32(min(availableWindow, int64(termLength))), p.mtu)
		index := logbuf.IndexByPosition(sndPos, p.posBits)
		ptr := p.log.Term(index)[termOffset:]

		available, padding := logbuf.ScanForAvailability(ptr, scanLimit)
		if available > 0 {
			iovecs[vlen] = ptr[:available]
			vlen++
			bytesSent += int(available)
			availableWindow -= int64(available + padding)
			termOffset += available + padding
			highestPos += int64(available + padding)
		}
		if available == 0 || termOffset == termLength {
			break
		}
	}

	var fatal error
	if vlen > 0 {
		n, err := p.channel.SendBatch(iovecs[:vlen])
		switch {
		case err != nil && !cos.IsRetriableConnErr(err):
			fatal = err
		case n < vlen:
			p.sys.ShortSends.Inc()
		}
		p.timeOfLastSendOrHBNs = nowNs
		p.trackSenderLimits = true
		p.sndPos.Store(highestPos)
	}

	if availableWindow <= 0 && p.trackSenderLimits {
		p.sys.SenderFlowControlLimits.Inc()
		p.trackSenderLimits = false
	}
	return bytesSent, fatal
}

// resend services one honored NAK; invoked by the retransmit handler.
func (p *Publication) resend(termID, termOffset, length int32) error {
	var (
		sndPos     = p.sndPos.Load()
		resendPos  = logbuf.Position(termID, termOffset, p.posBits, p.initialTermID)
		termLength = int64(p.termLengthMask + 1)
	)
	// not yet sent, or already aged out of the log
	if resendPos >= sndPos || resendPos < sndPos-termLength {
		return nil
	}
	var (
		index     = logbuf.IndexByPosition(resendPos, p.posBits)
		offset    = termOffset
		remaining = length
	)
	for remaining > 0 && offset < int32(termLength) {
		ptr := p.log.Term(index)[offset:]
		available, padding := logbuf.ScanForAvailability(ptr, p.mtu)
		if available <= 0 {
			break
		}
		n, err := p.channel.Send(ptr[:available])
		if err != nil {
			if cos.IsRetriableConnErr(err) {
				p.sys.ShortSends.Inc()
				break
			}
			return err
		}
		if n < int(available) {
			p.sys.ShortSends.Inc()
			break
		}
		offset += available + padding
		remaining -= available + padding
	}
	p.sys.RetransmitsSent.Inc()
	return nil
}

func (p *Publication) dispatch(b []byte) error {
	n, err := p.channel.Send(b)
	if err != nil {
		if cos.IsRetriableConnErr(err) {
			p.sys.ShortSends.Inc()
			return nil
		}
		return err
	}
	if n < len(b) {
		p.sys.ShortSends.Inc()
	}
	return nil
}

//
// control-frame intake (conductor-serialized)
//

func (p *Publication) OnStatusMessage(sm *protocol.StatusMessage, from net.Addr) {
	p.log.SetTimeOfLastSM(p.epochClock())
	if !p.isConnected.Load() {
		p.isConnected.Store(true)
		p.lg.Info("connected")
	}
	p.sndLmt.Store(
		p.flow.OnStatusMessage(sm, from, p.sndLmt.Load(), p.initialTermID, p.posBits, p.nanoClock()))
}

func (p *Publication) OnNak(nak *protocol.Nak) {
	p.retransmit.onNak(nak.TermID, nak.TermOffset, nak.Length, p.termLengthMask+1, p.nanoClock())
}

// OnRTTM echoes measurement probes carrying the REPLY flag.
func (p *Publication) OnRTTM(rt *protocol.RTTM, _ net.Addr) error {
	if rt.Flags&protocol.FlagReply == 0 {
		return nil
	}
	var (
		buf   [protocol.RTTMFrameSize]byte
		reply = protocol.RTTM{
			SessionID:      p.sessionID,
			StreamID:       p.streamID,
			EchoTimestamp:  rt.EchoTimestamp,
			ReceptionDelta: 0,
			ReceiverID:     rt.ReceiverID,
		}
	)
	reply.Put(buf[:])
	return p.dispatch(buf[:])
}

//
// producer-limit maintenance and buffer cleaning (conductor thread)
//

// UpdatePubLmt advances the publisher-limit to
// min(consumer positions, snd-pos) + term window; returns 1 if advanced.
func (p *Publication) UpdatePubLmt() int {
	sndPos := p.sndPos.Load()
	if p.isConnected.Load() {
		minConsumer := sndPos
		for _, spy := range p.spies {
			minConsumer = min(minConsumer, spy.Load())
		}
		proposed := minConsumer + p.termWindowLength
		if p.pubLmt.ProposeMax(proposed) {
			p.cleanBuffer(proposed)
			return 1
		}
	} else if p.pubLmt.Load() > sndPos {
		p.pubLmt.Store(sndPos)
	}
	return 0
}

// cleanBuffer wipes aging terms behind the clean cursor, always leaving
// two terms ahead of it dirty (owned by producers).
func (p *Publication) cleanBuffer(pubLmt int64) {
	var (
		cleanPos   = p.cleanPosition
		dirty      = pubLmt - cleanPos
		termLength = p.termLengthMask + 1
		reserved   = int64(termLength) * 2
	)
	if dirty <= reserved {
		return
	}
	var (
		index       = logbuf.IndexByPosition(cleanPos, p.posBits)
		termOffset  = int32(cleanPos) & p.termLengthMask
		bytesLeft   = termLength - termOffset
		forCleaning = int32(min(dirty-reserved, int64(bytesLeft)))
	)
	p.log.ZeroRange(index, termOffset, forCleaning)
	p.cleanPosition = cleanPos + int64(forCleaning)
}
