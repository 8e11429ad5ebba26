// Package udp implements the send-side channel endpoint.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package udp_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/NVIDIA/udx/udp"
	"github.com/stretchr/testify/require"
)

func TestParseUnicast(t *testing.T) {
	ch, err := udp.ParseChannel("udp://127.0.0.1:40456", nil)
	require.NoError(t, err)
	require.False(t, ch.IsMulticast())
	require.Equal(t, 40456, ch.Port)
	require.EqualValues(t, 0, ch.TTL)
	require.Equal(t, "udp-127.0.0.1-40456", ch.CanonicalForm())
}

func TestParseMulticast(t *testing.T) {
	ch, err := udp.ParseChannel("udp://239.255.0.1:40456?ttl=4&interface=192.168.0.0/24", nil)
	require.NoError(t, err)
	require.True(t, ch.IsMulticast())
	require.EqualValues(t, 4, ch.TTL)
	require.Equal(t, "192.168.0.0/24", ch.Interface)
	require.Equal(t, "udp-239.255.0.1-40456-192.168.0.0_24", ch.CanonicalForm())
}

func TestParseWithResolver(t *testing.T) {
	resolver := func(host string) (net.IP, error) {
		require.Equal(t, "receiver.example.com", host)
		return net.IPv4(10, 1, 2, 3), nil
	}
	ch, err := udp.ParseChannel("udp://receiver.example.com:7777", resolver)
	require.NoError(t, err)
	require.Equal(t, "udp-10.1.2.3-7777", ch.CanonicalForm())
}

func TestParseErrors(t *testing.T) {
	for _, uri := range []string{
		"tcp://127.0.0.1:40456",
		"udp://127.0.0.1",
		"udp://127.0.0.1:0",
		"udp://127.0.0.1:99999",
		"udp://239.255.0.1:40456?ttl=300",
	} {
		_, err := udp.ParseChannel(uri, nil)
		require.Error(t, err, uri)
	}
}

func TestChannelHashStable(t *testing.T) {
	a, err := udp.ParseChannel("udp://127.0.0.1:40456", nil)
	require.NoError(t, err)
	b, err := udp.ParseChannel("udp://127.0.0.1:40456", nil)
	require.NoError(t, err)
	c, err := udp.ParseChannel("udp://127.0.0.1:40457", nil)
	require.NoError(t, err)

	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestLoopbackRoundTrip(t *testing.T) {
	// receiver socket first
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	ch, err := udp.ParseChannel("udp://127.0.0.1:"+strconv.Itoa(port), nil)
	require.NoError(t, err)
	ep, err := udp.Dial(ch)
	require.NoError(t, err)
	defer ep.Close()

	n, err := ep.Send([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	sent, err := ep.SendBatch([][]byte{[]byte("a"), []byte("bb")})
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	buf := make([]byte, 64)
	total := 0
	for i := 0; i < 3; i++ {
		n, _, err := rx.ReadFromUDP(buf)
		require.NoError(t, err)
		total += n
	}
	require.Equal(t, 4+1+2, total)
}
