// Package counters provides shared 64-bit monotonic position counters
// (publisher-limit, sender-position, sender-limit, per-spy consumer
// positions) and the driver-wide system counters.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package counters

import (
	"sync"

	"github.com/NVIDIA/udx/cmn/atomic"
	"github.com/NVIDIA/udx/cmn/debug"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Position is a monotonic byte-offset counter shared across threads.
	// Readers use acquire loads, writers release stores; ProposeMax only
	// ever advances the value.
	Position struct {
		name string
		val  atomic.Int64
		id   int32
	}

	// Manager allocates and frees position counters by id.
	Manager struct {
		byID   map[int32]*Position
		mu     sync.Mutex
		nextID int32
	}

	// Counter is a monotonic event counter.
	Counter struct {
		val atomic.Int64
	}

	// System holds the driver-wide event counters.
	System struct {
		ShortSends              Counter
		HeartbeatsSent          Counter
		SenderFlowControlLimits Counter
		RetransmitsSent         Counter
		InvalidPackets          Counter
	}
)

//////////////
// Position //
//////////////

func (p *Position) ID() int32            { return p.id }
func (p *Position) Name() string         { return p.name }
func (p *Position) Load() int64          { return p.val.Load() }
func (p *Position) Store(v int64)        { p.val.Store(v) }
func (p *Position) ProposeMax(v int64) bool { return p.val.ProposeMax(v) }

/////////////
// Manager //
/////////////

func NewManager() *Manager {
	return &Manager{byID: make(map[int32]*Position, 16)}
}

func (m *Manager) Allocate(name string) *Position {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	p := &Position{name: name, id: id}
	m.byID[id] = p
	m.mu.Unlock()
	return p
}

func (m *Manager) Free(id int32) {
	m.mu.Lock()
	_, ok := m.byID[id]
	debug.Assert(ok, id)
	delete(m.byID, id)
	m.mu.Unlock()
}

func (m *Manager) Get(id int32) (p *Position) {
	m.mu.Lock()
	p = m.byID[id]
	m.mu.Unlock()
	return
}

/////////////
// Counter //
/////////////

func (c *Counter) Inc()          { c.val.Inc() }
func (c *Counter) Add(d int64)   { c.val.Add(d) }
func (c *Counter) Load() int64   { return c.val.Load() }

////////////
// System //
////////////

func NewSystem() *System { return &System{} }

// System implements prometheus.Collector over the underlying atomics.

var sysDescs = map[string]*prometheus.Desc{
	"short_sends":                prometheus.NewDesc("udx_short_sends_total", "datagram sends that transmitted fewer bytes than requested", nil, nil),
	"heartbeats_sent":            prometheus.NewDesc("udx_heartbeats_sent_total", "zero-length data heartbeats sent", nil, nil),
	"sender_flow_control_limits": prometheus.NewDesc("udx_sender_flow_control_limits_total", "times the sender was limited by flow control", nil, nil),
	"retransmits_sent":           prometheus.NewDesc("udx_retransmits_sent_total", "retransmissions honored", nil, nil),
	"invalid_packets":            prometheus.NewDesc("udx_invalid_packets_total", "malformed inbound control packets dropped", nil, nil),
}

// interface guard
var _ prometheus.Collector = (*System)(nil)

func (*System) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range sysDescs {
		ch <- d
	}
}

func (s *System) Collect(ch chan<- prometheus.Metric) {
	emit := func(name string, c *Counter) {
		ch <- prometheus.MustNewConstMetric(sysDescs[name], prometheus.CounterValue, float64(c.Load()))
	}
	emit("short_sends", &s.ShortSends)
	emit("heartbeats_sent", &s.HeartbeatsSent)
	emit("sender_flow_control_limits", &s.SenderFlowControlLimits)
	emit("retransmits_sent", &s.RetransmitsSent)
	emit("invalid_packets", &s.InvalidPackets)
}
