// Package counters provides shared position counters and the driver-wide
// system counters.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package counters_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCounters(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, t.Name())
}
