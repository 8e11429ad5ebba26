// Package pub implements the network publication: the per-stream state
// machine that owns a mapped log, schedules sends and retransmissions,
// answers control frames, and advances through its lifecycle under the
// conductor.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package pub

import (
	"sync"
	"time"

	"github.com/NVIDIA/udx/counters"
	"github.com/NVIDIA/udx/protocol"
)

// Retransmission requests are deduplicated and rate-limited: at most one
// concurrent action per overlapping range, with completed actions
// lingering to suppress duplicate NAKs.
const (
	maxRetransmitActions = 16

	dfltRetransmitLinger = 100 * time.Millisecond
)

const (
	stateInactive = int8(iota)
	stateDelayed
	stateLingering
)

type (
	resendFunc func(termID, termOffset, length int32) error

	// DelayGenerator returns the delay before an accepted NAK is
	// serviced; nil means immediate (unicast).
	DelayGenerator func() int64

	retransmitAction struct {
		expireNs   int64
		termID     int32
		termOffset int32
		length     int32
		state      int8
	}

	// onNak arrives on the conductor thread while processTimeouts runs on
	// the sender thread; the mutex serializes the two.
	retransmitHandler struct {
		invalidPackets *counters.Counter
		delayGen       DelayGenerator
		resend         resendFunc
		mu             sync.Mutex
		actions        [maxRetransmitActions]retransmitAction
		lingerNs       int64
	}
)

func (h *retransmitHandler) init(invalid *counters.Counter, delayGen DelayGenerator, resend resendFunc) {
	h.invalidPackets = invalid
	h.delayGen = delayGen
	h.resend = resend
	h.lingerNs = int64(dfltRetransmitLinger)
}

func (h *retransmitHandler) onNak(termID, termOffset, length, termLength int32, nowNs int64) {
	if length <= 0 || termOffset < 0 || termOffset >= termLength ||
		termOffset&(protocol.FrameAlignment-1) != 0 {
		h.invalidPackets.Inc()
		return
	}
	length = min(length, termLength-termOffset)

	h.mu.Lock()
	defer h.mu.Unlock()

	var free *retransmitAction
	for i := range h.actions {
		a := &h.actions[i]
		if a.state == stateInactive {
			if free == nil {
				free = a
			}
			continue
		}
		if a.overlaps(termID, termOffset, length) {
			return // first come wins; duplicates are suppressed
		}
	}
	if free == nil {
		return // all actions busy - the receiver will NAK again
	}
	var delay int64
	if h.delayGen != nil {
		delay = h.delayGen()
	}
	*free = retransmitAction{
		state:      stateDelayed,
		expireNs:   nowNs + delay,
		termID:     termID,
		termOffset: termOffset,
		length:     length,
	}
}

// processTimeouts promotes due DELAYED actions to sent (invoking resend)
// and retires LINGERING actions past their window.
func (h *retransmitHandler) processTimeouts(nowNs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.actions {
		a := &h.actions[i]
		switch a.state {
		case stateDelayed:
			if nowNs >= a.expireNs {
				if err := h.resend(a.termID, a.termOffset, a.length); err != nil {
					a.state = stateInactive
					continue
				}
				a.state = stateLingering
				a.expireNs = nowNs + h.lingerNs
			}
		case stateLingering:
			if nowNs >= a.expireNs {
				a.state = stateInactive
			}
		}
	}
}

func (a *retransmitAction) overlaps(termID, termOffset, length int32) bool {
	return a.termID == termID &&
		termOffset < a.termOffset+a.length && a.termOffset < termOffset+length
}
