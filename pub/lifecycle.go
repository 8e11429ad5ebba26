// Package pub implements the network publication: the per-stream state
// machine that owns a mapped log, schedules sends and retransmissions,
// answers control frames, and advances through its lifecycle under the
// conductor.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package pub

import (
	"github.com/NVIDIA/udx/cmn/debug"
	"github.com/NVIDIA/udx/counters"
)

// Lifecycle: ACTIVE -> DRAINING -> LINGER -> CLOSING; transitions are
// monotone and never rolled back.
type status int8

const (
	statusActive = status(iota)
	statusDraining
	statusLinger
	statusClosing
)

func (st status) String() string {
	switch st {
	case statusActive:
		return "active"
	case statusDraining:
		return "draining"
	case statusLinger:
		return "linger"
	case statusClosing:
		return "closing"
	}
	debug.Assert(false, int8(st))
	return "invalid"
}

// Conductor is the slice of the driver conductor the lifecycle calls back
// into.
type Conductor interface {
	// CleanupSpies detaches local spy subscribers once drained.
	CleanupSpies(p *Publication)
	// CleanupPublication schedules destruction after linger.
	CleanupPublication(p *Publication)
}

func (p *Publication) IncRef() { p.refcnt++ }

// DecRef transitions to DRAINING once the last publisher handle is gone.
func (p *Publication) DecRef(nowNs int64) {
	p.refcnt--
	debug.Assert(p.refcnt >= 0)
	if p.refcnt == 0 {
		p.status = statusDraining
		p.timeOfLastStatusChangeNs = nowNs
	}
}

func (p *Publication) RefCount() int32 { return p.refcnt }
func (p *Publication) IsDrained() bool { return p.status >= statusLinger }
func (p *Publication) IsClosing() bool { return p.status == statusClosing }

// OnTimeEvent is the conductor's periodic tick: connectivity timeout while
// active, drain detection, linger expiry.
func (p *Publication) OnTimeEvent(cd Conductor, nowNs, nowMs int64) {
	switch p.status {
	case statusActive:
		if p.isConnected.Load() && nowMs > p.log.TimeOfLastSM()+p.connectionTmoMs {
			p.isConnected.Store(false)
			p.lg.Info("no status messages - disconnected")
		}
	case statusDraining:
		sndPos := p.sndPos.Load()
		if sndPos == p.lastSndPos {
			if p.spiesNotBehindSender(cd, sndPos) {
				p.isComplete.Store(true)
				p.timeOfLastActivityNs = nowNs
				p.status = statusLinger
			}
		} else {
			p.lastSndPos = sndPos
			p.timeOfLastActivityNs = nowNs
		}
	case statusLinger:
		if nowNs > p.timeOfLastActivityNs+p.lingerTimeoutNs {
			cd.CleanupPublication(p)
			p.status = statusClosing
		}
	case statusClosing:
		// awaiting sender release; destruction is the conductor's
	}
}

// AddSpyPosition attaches a local spy subscriber's consumer position; the
// publication owns the counter id, the position itself is observed only.
func (p *Publication) AddSpyPosition(pos *counters.Position) {
	p.spies = append(p.spies, pos)
}

func (p *Publication) spiesNotBehindSender(cd Conductor, sndPos int64) bool {
	if len(p.spies) == 0 {
		return true
	}
	for _, spy := range p.spies {
		if spy.Load() < sndPos {
			return false
		}
	}
	cd.CleanupSpies(p)
	for _, spy := range p.spies {
		p.cm.Free(spy.ID())
	}
	p.spies = nil
	return true
}

// TriggerSendSetupFrame re-arms setup emission, e.g. upon a new receiver
// destination.
func (p *Publication) TriggerSendSetupFrame() { p.shouldSendSetupFrame.Store(true) }

// SenderRelease is the sender thread's acknowledgment that it will no
// longer touch the publication; the conductor destroys it afterwards.
func (p *Publication) SenderRelease()          { p.hasSenderReleased.Store(true) }
func (p *Publication) HasSenderReleased() bool { return p.hasSenderReleased.Load() }
