// Package flowctl provides sender-side flow control: strategies consume
// receiver status messages and periodic idle ticks and return the next
// sender-limit position.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package flowctl

import (
	"net"
	"time"

	"github.com/NVIDIA/udx/logbuf"
	"github.com/NVIDIA/udx/protocol"
	"github.com/pkg/errors"
)

// Strategy returns are authoritative for the sender-limit; the publication
// writes them with release ordering.
type Strategy interface {
	OnStatusMessage(sm *protocol.StatusMessage, from net.Addr, sndLmt int64,
		initialTermID int32, posBits uint8, nowNs int64) int64
	OnIdle(nowNs, sndLmt int64) int64
	Close()
}

const dfltReceiverTimeout = 2 * time.Second

// New constructs a strategy by its configured name.
func New(name string) (Strategy, error) {
	switch name {
	case "", "max":
		return &maxFlow{}, nil
	case "min":
		return &minFlow{
			receivers: make(map[int64]*receiver, 4),
			timeoutNs: int64(dfltReceiverTimeout),
		}, nil
	}
	return nil, errors.Errorf("unknown flow-control strategy %q", name)
}

/////////////
// maxFlow //
/////////////

// maxFlow tracks the fastest receiver: the limit is the greatest
// (position + window) ever reported.
type maxFlow struct{}

// interface guard
var _ Strategy = (*maxFlow)(nil)

func (*maxFlow) OnStatusMessage(sm *protocol.StatusMessage, _ net.Addr, sndLmt int64,
	initialTermID int32, posBits uint8, _ int64) int64 {
	pos := logbuf.Position(sm.ConsumptionTermID, sm.ConsumptionTermOffset, posBits, initialTermID)
	return max(sndLmt, pos+int64(sm.ReceiverWindow))
}

func (*maxFlow) OnIdle(_, sndLmt int64) int64 { return sndLmt }
func (*maxFlow) Close()                       {}

/////////////
// minFlow //
/////////////

type (
	receiver struct {
		lastSMNs   int64
		windowEdge int64
	}
	// minFlow paces the sender to the slowest live receiver, evicting
	// receivers not heard from within the timeout.
	minFlow struct {
		receivers map[int64]*receiver
		timeoutNs int64
	}
)

// interface guard
var _ Strategy = (*minFlow)(nil)

func (f *minFlow) OnStatusMessage(sm *protocol.StatusMessage, _ net.Addr, sndLmt int64,
	initialTermID int32, posBits uint8, nowNs int64) int64 {
	pos := logbuf.Position(sm.ConsumptionTermID, sm.ConsumptionTermOffset, posBits, initialTermID)
	r, ok := f.receivers[sm.ReceiverID]
	if !ok {
		r = &receiver{}
		f.receivers[sm.ReceiverID] = r
	}
	r.lastSMNs = nowNs
	r.windowEdge = max(r.windowEdge, pos+int64(sm.ReceiverWindow))
	return f.minEdge(sndLmt)
}

func (f *minFlow) OnIdle(nowNs, sndLmt int64) int64 {
	for id, r := range f.receivers {
		if nowNs > r.lastSMNs+f.timeoutNs {
			delete(f.receivers, id)
		}
	}
	return f.minEdge(sndLmt)
}

func (f *minFlow) Close() { clear(f.receivers) }

func (f *minFlow) minEdge(sndLmt int64) int64 {
	if len(f.receivers) == 0 {
		return sndLmt
	}
	edge := int64(1<<63 - 1)
	for _, r := range f.receivers {
		edge = min(edge, r.windowEdge)
	}
	return edge
}
