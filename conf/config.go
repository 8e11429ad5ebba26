// Package conf holds the driver configuration: a single JSON document
// with defaults and validation.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/NVIDIA/udx/cmn/cos"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	DfltTermLength = 16 * cos.MiB
	DfltMTU        = 1408

	DfltLingerTimeout     = 5 * time.Second
	DfltConnectionTimeout = 5 * time.Second
)

type Config struct {
	// Dir is the driver runtime directory; mapped logs live in
	// Dir/publications. When empty, a per-instance directory is derived
	// under the system temp dir.
	Dir         string `json:"dir"`
	FlowControl string `json:"flow_control"` // "max" (default) | "min"
	TermLength  int32  `json:"term_length"`  // power of two, >= 64 KiB
	MTU         int32  `json:"mtu"`
	Sparse      bool   `json:"sparse_files"`

	LingerTimeoutMs     int64 `json:"linger_timeout_ms"`
	ConnectionTimeoutMs int64 `json:"connection_timeout_ms"`

	PromPort int `json:"prom_port"` // 0: no metrics endpoint
}

func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads and validates a JSON config; an empty path yields defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := jsoniter.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	c.applyDefaults()
	return c, c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Dir == "" {
		c.Dir = filepath.Join(os.TempDir(), "udx-"+xid.New().String())
	}
	c.TermLength = int32(cos.NonZero(int64(c.TermLength), DfltTermLength))
	c.MTU = int32(cos.NonZero(int64(c.MTU), DfltMTU))
	c.LingerTimeoutMs = cos.NonZero(c.LingerTimeoutMs, DfltLingerTimeout.Milliseconds())
	c.ConnectionTimeoutMs = cos.NonZero(c.ConnectionTimeoutMs, DfltConnectionTimeout.Milliseconds())
}

func (c *Config) Validate() error {
	if !cos.IsPow2(int64(c.TermLength)) || c.TermLength < 64*cos.KiB {
		return errors.Errorf("term_length %d: must be a power of two >= 64KiB", c.TermLength)
	}
	if c.MTU < 64 || c.MTU > 8192 {
		return errors.Errorf("mtu %d: out of range [64, 8192]", c.MTU)
	}
	if int64(c.MTU) > int64(c.TermLength) {
		return errors.Errorf("mtu %d exceeds term_length %d", c.MTU, c.TermLength)
	}
	switch c.FlowControl {
	case "", "max", "min":
	default:
		return errors.Errorf("unknown flow_control %q", c.FlowControl)
	}
	return nil
}

func (c *Config) PublicationsDir() string { return filepath.Join(c.Dir, "publications") }

// TermWindowLength bounds outstanding unacknowledged bytes: half a term.
func (c *Config) TermWindowLength() int64 { return int64(c.TermLength) / 2 }

func (c *Config) LingerTimeoutNs() int64 { return c.LingerTimeoutMs * int64(time.Millisecond) }

// UsableSpace probes the filesystem holding dir for available bytes.
func UsableSpace(dir string) (uint64, error) {
	u, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}
