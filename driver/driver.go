// Package driver runs the sender and conductor duty cycles over the
// registered publications and dispatches inbound control frames.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package driver

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/NVIDIA/udx/cmn/atomic"
	"github.com/NVIDIA/udx/cmn/cos"
	"github.com/NVIDIA/udx/cmn/mono"
	"github.com/NVIDIA/udx/conf"
	"github.com/NVIDIA/udx/counters"
	"github.com/NVIDIA/udx/flowctl"
	"github.com/NVIDIA/udx/protocol"
	"github.com/NVIDIA/udx/pub"
	"github.com/NVIDIA/udx/udp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	timerTick    = 10 * time.Millisecond
	controlPoll  = time.Millisecond
	controlBufSz = 4 * cos.KiB
)

// interface guards
var (
	_ pub.Channel   = (*udp.Endpoint)(nil)
	_ pub.Conductor = (*Driver)(nil)
)

type (
	streamKey struct {
		sessionID int32
		streamID  int32
	}

	// Driver owns one send channel endpoint and the publications on it.
	// The publication collection is guarded by mu: client calls
	// (AddPublication, RemovePublication) and the conductor goroutine both
	// touch it; the sender goroutine keeps its own working list.
	Driver struct {
		config *conf.Config
		ep     *udp.Endpoint
		cm     *counters.Manager
		sys    *counters.System
		lg     *logrus.Entry

		mu      sync.Mutex
		pubs    map[streamKey]*pub.Publication
		reaping []*pub.Publication

		addCh  chan *pub.Publication
		stopCh cos.StopCh
		wg     sync.WaitGroup

		nextRegID atomic.Int64

		warn rate.Sometimes // throttles send-error and bad-packet logging
	}
)

func New(config *conf.Config, ep *udp.Endpoint) *Driver {
	d := &Driver{
		config: config,
		ep:     ep,
		cm:     counters.NewManager(),
		sys:    counters.NewSystem(),
		pubs:   make(map[streamKey]*pub.Publication, 8),
		addCh:  make(chan *pub.Publication, 16),
		lg:     logrus.WithField("channel", ep.String()),
		warn:   rate.Sometimes{Interval: time.Second},
	}
	d.stopCh.Init()
	d.nextRegID.Store(1)
	return d
}

func (d *Driver) Counters() *counters.Manager { return d.cm }
func (d *Driver) System() *counters.System    { return d.sys }

func (d *Driver) Run() {
	d.wg.Add(2)
	go d.senderLoop()
	go d.conductorLoop()
}

func (d *Driver) Stop() {
	d.stopCh.Close()
	d.wg.Wait()
	d.reapAll() // both loops are done; release whatever remains
}

//
// client requests (serialized with the conductor by d.mu)
//

// AddPublication attaches to an existing publication for the stream or
// creates a new one (a fresh session, a random initial term).
func (d *Driver) AddPublication(streamID int32, exclusive bool) (*pub.Publication, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !exclusive {
		for _, p := range d.pubs {
			if p.StreamID() == streamID && !p.IsExclusive() && p.RefCount() > 0 {
				p.IncRef()
				return p, nil
			}
		}
	}
	var (
		sessionID     = rand.Int31()
		initialTermID = rand.Int31()
	)
	flow, err := flowctl.New(d.config.FlowControl)
	if err != nil {
		return nil, err
	}
	p, err := pub.New(&pub.Args{
		Channel:          d.ep,
		Flow:             flow,
		Counters:         d.cm,
		Sys:              d.sys,
		NanoClock:        mono.NanoTime,
		EpochClock:       func() int64 { return time.Now().UnixMilli() },
		Dir:              d.config.PublicationsDir(),
		CanonicalChannel: d.ep.Channel().CanonicalForm(),
		RegistrationID:   d.nextRegID.Inc(),
		TermWindowLength: d.config.TermWindowLength(),
		LingerTimeoutNs:  d.config.LingerTimeoutNs(),
		ConnectionTmoMs:  d.config.ConnectionTimeoutMs,
		SessionID:        sessionID,
		StreamID:         streamID,
		InitialTermID:    initialTermID,
		TermLength:       d.config.TermLength,
		MTU:              d.config.MTU,
		Sparse:           d.config.Sparse,
		IsExclusive:      exclusive,
	})
	if err != nil {
		flow.Close()
		return nil, err
	}
	d.pubs[streamKey{sessionID, streamID}] = p
	d.addCh <- p
	d.lg.WithFields(logrus.Fields{"stream": streamID, "session": sessionID}).Info("publication added")
	return p, nil
}

func (d *Driver) RemovePublication(p *pub.Publication) {
	d.mu.Lock()
	p.DecRef(mono.NanoTime())
	d.mu.Unlock()
}

//
// pub.Conductor
//

func (d *Driver) CleanupSpies(p *pub.Publication) {
	d.lg.WithField("pub", p.String()).Info("spies drained")
}

// CleanupPublication queues the publication for destruction once the
// sender acknowledges release.
func (d *Driver) CleanupPublication(p *pub.Publication) {
	d.reaping = append(d.reaping, p)
}

//
// sender duty cycle
//

func (d *Driver) senderLoop() {
	defer d.wg.Done()
	var (
		idle backoffIdle
		pubs []*pub.Publication
	)
	for {
		select {
		case <-d.stopCh.Listen():
			for _, p := range pubs {
				p.SenderRelease()
			}
			return
		case p := <-d.addCh:
			pubs = append(pubs, p)
		default:
		}
		var (
			work  int
			nowNs = mono.NanoTime()
		)
		for i := 0; i < len(pubs); i++ {
			p := pubs[i]
			if p.IsClosing() {
				p.SenderRelease()
				pubs = append(pubs[:i], pubs[i+1:]...)
				i--
				continue
			}
			n, err := p.Send(nowNs)
			if err != nil {
				d.warn.Do(func() { d.lg.WithError(err).Error("send tick failed") })
				continue // the publication remains usable; retry next cycle
			}
			work += n
		}
		idle.idle(work)
	}
}

//
// conductor duty cycle
//

func (d *Driver) conductorLoop() {
	defer d.wg.Done()
	var (
		buf      = make([]byte, controlBufSz)
		lastTick int64
	)
	for {
		select {
		case <-d.stopCh.Listen():
			return
		default:
		}
		n, from, err := d.ep.ReceiveControl(buf, controlPoll)
		if err == nil && n > 0 {
			d.onControl(buf[:n], from)
		} else if err != nil && !cos.IsRetriableConnErr(err) {
			d.warn.Do(func() { d.lg.WithError(err).Error("control receive") })
		}

		if nowNs := mono.NanoTime(); nowNs > lastTick+int64(timerTick) {
			lastTick = nowNs
			d.onTimer(nowNs, time.Now().UnixMilli())
		}
	}
}

func (d *Driver) onTimer(nowNs, nowMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pubs {
		p.OnTimeEvent(d, nowNs, nowMs)
		p.UpdatePubLmt()
	}
	for i := 0; i < len(d.reaping); i++ {
		p := d.reaping[i]
		if !p.HasSenderReleased() {
			continue
		}
		delete(d.pubs, streamKey{p.SessionID(), p.StreamID()})
		d.reaping = append(d.reaping[:i], d.reaping[i+1:]...)
		i--
		p.Close()
		d.lg.WithField("pub", p.String()).Info("publication closed")
	}
}

func (d *Driver) onControl(b []byte, from net.Addr) {
	h, err := protocol.ParseHeader(b)
	if err != nil {
		d.sys.InvalidPackets.Inc()
		return
	}
	switch h.Type {
	case protocol.TypeSM:
		sm, err := protocol.ParseStatusMessage(b)
		if err != nil {
			d.sys.InvalidPackets.Inc()
			return
		}
		if p := d.lookup(sm.SessionID, sm.StreamID); p != nil {
			p.OnStatusMessage(&sm, from)
		}
	case protocol.TypeNak:
		nak, err := protocol.ParseNak(b)
		if err != nil {
			d.sys.InvalidPackets.Inc()
			return
		}
		if p := d.lookup(nak.SessionID, nak.StreamID); p != nil {
			p.OnNak(&nak)
		}
	case protocol.TypeRTTM:
		rt, err := protocol.ParseRTTM(b)
		if err != nil {
			d.sys.InvalidPackets.Inc()
			return
		}
		if p := d.lookup(rt.SessionID, rt.StreamID); p != nil {
			if err := p.OnRTTM(&rt, from); err != nil {
				d.warn.Do(func() { d.lg.WithError(err).Error("rttm reply") })
			}
		}
	default:
		d.sys.InvalidPackets.Inc()
		d.warn.Do(func() {
			d.lg.WithField("type", h.Type).Warn("unexpected control frame")
		})
	}
}

func (d *Driver) lookup(sessionID, streamID int32) *pub.Publication {
	d.mu.Lock()
	p := d.pubs[streamKey{sessionID, streamID}]
	d.mu.Unlock()
	return p
}

func (d *Driver) reapAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, p := range d.pubs {
		p.Close()
		delete(d.pubs, k)
	}
	d.reaping = nil
}
