// Package counters provides shared position counters and the driver-wide
// system counters.
/*
 * Copyright (c) 2026, NVIDIA CORPORATION. All rights reserved.
 */
package counters_test

import (
	"sync"

	"github.com/NVIDIA/udx/counters"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Position", func() {
	It("should only ever advance via ProposeMax", func() {
		m := counters.NewManager()
		p := m.Allocate("snd-pos test")

		Expect(p.ProposeMax(100)).To(BeTrue())
		Expect(p.ProposeMax(50)).To(BeFalse())
		Expect(p.Load()).To(Equal(int64(100)))
		Expect(p.ProposeMax(100)).To(BeFalse())
		Expect(p.ProposeMax(101)).To(BeTrue())
		Expect(p.Load()).To(Equal(int64(101)))
	})

	It("should survive concurrent proposers", func() {
		var (
			m  = counters.NewManager()
			p  = m.Allocate("pub-lmt test")
			wg sync.WaitGroup
		)
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(top int64) {
				defer wg.Done()
				for v := int64(1); v <= top; v++ {
					p.ProposeMax(v)
				}
			}(int64(i * 1000))
		}
		wg.Wait()
		Expect(p.Load()).To(Equal(int64(8000)))
	})
})

var _ = Describe("Manager", func() {
	It("should hand out unique ids and free them", func() {
		m := counters.NewManager()
		a, b := m.Allocate("a"), m.Allocate("b")
		Expect(a.ID()).NotTo(Equal(b.ID()))
		Expect(m.Get(a.ID())).To(BeIdenticalTo(a))

		m.Free(a.ID())
		Expect(m.Get(a.ID())).To(BeNil())
		Expect(m.Get(b.ID())).To(BeIdenticalTo(b))
	})
})

var _ = Describe("System", func() {
	It("should expose all counters to prometheus", func() {
		sys := counters.NewSystem()
		sys.ShortSends.Inc()
		sys.RetransmitsSent.Add(3)

		reg := prometheus.NewPedanticRegistry()
		Expect(reg.Register(sys)).To(Succeed())
		mfs, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(mfs).To(HaveLen(5))

		byName := make(map[string]float64, 5)
		for _, mf := range mfs {
			byName[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
		}
		Expect(byName["udx_short_sends_total"]).To(Equal(1.0))
		Expect(byName["udx_retransmits_sent_total"]).To(Equal(3.0))
		Expect(byName["udx_heartbeats_sent_total"]).To(Equal(0.0))
	})
})
