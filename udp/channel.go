// Package udp implements the send-side channel endpoint: channel URI
// parsing, interface resolution, unicast/multicast socket setup, and
// batched datagram sends.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package udp

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

// Resolver resolves a hostname to an IPv4 address. Injected through
// configuration - deliberately not a process-wide hook.
type Resolver func(host string) (net.IP, error)

func DefaultResolver(host string) (net.IP, error) {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return nil, err
	}
	return addr.IP, nil
}

// Channel describes one unicast or multicast destination, parsed from a
// URI of the form:
//
//	udp://<host>:<port>[?interface=<name|cidr>][&ttl=<n>]
type Channel struct {
	URI       string
	Host      string
	Interface string // name or CIDR, multicast only
	IP        net.IP
	Port      int
	TTL       uint8
}

func ParseChannel(uri string, resolve Resolver) (*Channel, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid channel %q", uri)
	}
	if u.Scheme != "udp" {
		return nil, errors.Errorf("invalid channel %q: expecting udp:// scheme", uri)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return nil, errors.Errorf("invalid channel %q: bad port", uri)
	}
	if resolve == nil {
		resolve = DefaultResolver
	}
	ip, err := resolve(u.Hostname())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid channel %q", uri)
	}
	ch := &Channel{
		URI:       uri,
		Host:      u.Hostname(),
		IP:        ip.To4(),
		Port:      port,
		Interface: u.Query().Get("interface"),
	}
	if ch.IP == nil {
		return nil, errors.Errorf("invalid channel %q: IPv4 required", uri)
	}
	if s := u.Query().Get("ttl"); s != "" {
		ttl, err := strconv.Atoi(s)
		if err != nil || ttl < 0 || ttl > 255 {
			return nil, errors.Errorf("invalid channel %q: bad ttl", uri)
		}
		ch.TTL = uint8(ttl)
	}
	return ch, nil
}

func (ch *Channel) IsMulticast() bool { return ch.IP.IsMulticast() }

// CanonicalForm uniquely identifies the channel destination; used in the
// log-file name and in log fields.
func (ch *Channel) CanonicalForm() (s string) {
	s = "udp-" + ch.IP.String() + "-" + strconv.Itoa(ch.Port)
	if ch.Interface != "" {
		s += "-" + strings.ReplaceAll(ch.Interface, "/", "_")
	}
	return
}

func (ch *Channel) Hash() uint64 { return xxhash.ChecksumString64(ch.CanonicalForm()) }

// ResolveInterface finds the local interface selected by sel: either an
// interface name or a CIDR that one of its addresses falls into. The
// prefix mask is built big-endian from the prefix length (net.CIDRMask).
func ResolveInterface(sel string) (*net.Interface, net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	_, subnet, cidrErr := net.ParseCIDR(sel)
	for i := range ifaces {
		ifc := &ifaces[i]
		if cidrErr != nil && ifc.Name != sel {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			if cidrErr == nil && !subnet.Contains(ipnet.IP) {
				continue
			}
			return ifc, ipnet.IP.To4(), nil
		}
	}
	return nil, nil, errors.Errorf("no interface matches %q", sel)
}
