// Package conf holds the driver configuration.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package conf_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NVIDIA/udx/conf"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := conf.Default()
	require.NoError(t, c.Validate())
	require.EqualValues(t, conf.DfltTermLength, c.TermLength)
	require.EqualValues(t, conf.DfltMTU, c.MTU)
	require.EqualValues(t, 5000, c.LingerTimeoutMs)
	require.NotEmpty(t, c.Dir)
	require.Equal(t, filepath.Join(c.Dir, "publications"), c.PublicationsDir())
	require.EqualValues(t, c.TermLength/2, c.TermWindowLength())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udx.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"dir": "/tmp/udx-test",
		"term_length": 65536,
		"mtu": 1408,
		"flow_control": "min",
		"linger_timeout_ms": 100
	}`), 0o644))

	c, err := conf.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/udx-test", c.Dir)
	require.EqualValues(t, 65536, c.TermLength)
	require.Equal(t, "min", c.FlowControl)
	require.EqualValues(t, 100, c.LingerTimeoutMs)
	// untouched knobs keep their defaults
	require.EqualValues(t, 5000, c.ConnectionTimeoutMs)
}

func TestValidate(t *testing.T) {
	for _, tweak := range []func(*conf.Config){
		func(c *conf.Config) { c.TermLength = 100000 },    // not a power of two
		func(c *conf.Config) { c.TermLength = 32 * 1024 }, // below the minimum
		func(c *conf.Config) { c.MTU = 16 },
		func(c *conf.Config) { c.MTU = 64 * 1024 },
		func(c *conf.Config) { c.FlowControl = "median" },
	} {
		c := conf.Default()
		tweak(c)
		require.Error(t, c.Validate())
	}
}
