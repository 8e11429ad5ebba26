// Package udp implements the send-side channel endpoint: channel URI
// parsing, interface resolution, unicast/multicast socket setup, and
// batched datagram sends.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
)

// Endpoint is the write side of one channel. It is shared by all
// publications on the channel (the publication holds a weak reference and
// never closes it). Status messages, NAKs, and RTTMs arrive on the same
// socket and are drained by the conductor via ReceiveControl.
type Endpoint struct {
	ch   *Channel
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	dst  *net.UDPAddr
}

func Dial(ch *Channel) (*Endpoint, error) {
	var (
		laddr = &net.UDPAddr{}
		dst   = &net.UDPAddr{IP: ch.IP, Port: ch.Port}
	)
	if ch.IsMulticast() && ch.Interface != "" {
		_, src, err := ResolveInterface(ch.Interface)
		if err != nil {
			return nil, err
		}
		laddr.IP = src
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", ch.CanonicalForm())
	}
	ep := &Endpoint{ch: ch, conn: conn, pc: ipv4.NewPacketConn(conn), dst: dst}
	if ch.IsMulticast() {
		if ch.Interface != "" {
			ifc, _, err := ResolveInterface(ch.Interface)
			if err != nil {
				conn.Close()
				return nil, err
			}
			if err := ep.pc.SetMulticastInterface(ifc); err != nil {
				conn.Close()
				return nil, errors.Wrapf(err, "set multicast interface %s", ifc.Name)
			}
		}
		ttl := int(ch.TTL)
		if ttl == 0 {
			ttl = 1
		}
		if err := ep.pc.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "set multicast ttl %d", ttl)
		}
		_ = ep.pc.SetMulticastLoopback(false)
	}
	return ep, nil
}

func (ep *Endpoint) Channel() *Channel    { return ep.ch }
func (ep *Endpoint) TTL() uint8           { return ep.ch.TTL }
func (ep *Endpoint) LocalAddr() net.Addr  { return ep.conn.LocalAddr() }
func (ep *Endpoint) String() string       { return ep.ch.CanonicalForm() }

func (ep *Endpoint) Close() error { return ep.conn.Close() }

// Send transmits a single datagram; a return of n < len(b) with nil error
// is a short send and is counted by the caller.
func (ep *Endpoint) Send(b []byte) (int, error) {
	return ep.conn.WriteToUDP(b, ep.dst)
}

// SendBatch transmits up to len(bufs) datagrams in one syscall
// (sendmmsg); returns the number of datagrams accepted by the kernel.
func (ep *Endpoint) SendBatch(bufs [][]byte) (int, error) {
	msgs := make([]ipv4.Message, len(bufs))
	for i, b := range bufs {
		msgs[i].Buffers = [][]byte{b}
		msgs[i].Addr = ep.dst
	}
	return ep.pc.WriteBatch(msgs, 0)
}

// ReceiveControl reads one inbound control datagram (SM, NAK, RTTM),
// waiting at most the given poll interval.
func (ep *Endpoint) ReceiveControl(b []byte, poll time.Duration) (n int, from net.Addr, err error) {
	if err = ep.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return
	}
	return ep.conn.ReadFromUDP(b)
}
