// Package driver runs the sender and conductor duty cycles.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package driver_test

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/NVIDIA/udx/conf"
	"github.com/NVIDIA/udx/driver"
	"github.com/NVIDIA/udx/protocol"
	"github.com/NVIDIA/udx/udp"
	"github.com/stretchr/testify/require"
)

// One driver, one loopback receiver: setup cadence, connect via SM, and
// teardown through drain/linger once the publication is released.
func TestDriverLoopback(t *testing.T) {
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	config := conf.Default()
	config.Dir = t.TempDir()
	config.TermLength = 64 * 1024
	config.LingerTimeoutMs = 100

	ch, err := udp.ParseChannel("udp://127.0.0.1:"+strconv.Itoa(port), nil)
	require.NoError(t, err)
	ep, err := udp.Dial(ch)
	require.NoError(t, err)
	defer ep.Close()

	d := driver.New(config, ep)
	d.Run()
	defer d.Stop()

	p, err := d.AddPublication(1001, false)
	require.NoError(t, err)

	// the publication announces itself with SETUP frames
	var setup protocol.SetupFrame
	buf := make([]byte, 2048)
	for {
		require.NoError(t, rx.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := rx.ReadFromUDP(buf)
		require.NoError(t, err, "no SETUP frame received")
		h, err := protocol.ParseHeader(buf[:n])
		require.NoError(t, err)
		if h.Type == protocol.TypeSetup {
			setup, err = protocol.ParseSetupFrame(buf[:n])
			require.NoError(t, err)
			break
		}
	}
	require.EqualValues(t, 1001, setup.StreamID)
	require.EqualValues(t, config.TermLength, setup.TermLength)

	// a status message connects the publication
	sm := protocol.StatusMessage{
		SessionID:         setup.SessionID,
		StreamID:          setup.StreamID,
		ConsumptionTermID: setup.ActiveTermID,
		ReceiverWindow:    4096,
		ReceiverID:        7,
	}
	smBuf := make([]byte, 64)
	n := sm.Put(smBuf)
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ep.LocalAddr().(*net.UDPAddr).Port}
	require.Eventually(t, func() bool {
		_, err := rx.WriteToUDP(smBuf[:n], dst)
		require.NoError(t, err)
		return p.IsConnected()
	}, 2*time.Second, 10*time.Millisecond, "publication never connected")

	// attaching to the same stream reuses the publication
	p2, err := d.AddPublication(1001, false)
	require.NoError(t, err)
	require.Same(t, p, p2)
	require.EqualValues(t, 2, p.RefCount())

	// exclusive attach creates a new session
	p3, err := d.AddPublication(1001, true)
	require.NoError(t, err)
	require.NotSame(t, p, p3)

	// release all handles: drain -> linger -> close; the raw log goes away
	logFile := p.LogFileName()
	require.FileExists(t, logFile)
	d.RemovePublication(p)
	d.RemovePublication(p2)
	require.Eventually(t, func() bool {
		_, err := os.Stat(logFile)
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond, "raw log not removed after linger")
}
