package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Freq", func() {
	It("should get period", func() {
		var f = 1 * GHz
		Expect(f.Period()).To(BeNumerically("==", 1e-9))
	})

	It("should get this tick", func() {
		var f = 1 * Hz
		Expect(f.ThisTick(1)).To(BeNumerically("~", 1, 1e-12))
	})

	It("should get the next tick", func() {
		var f = 1 * GHz
		Expect(f.NextTick(0.000000031)).
			To(BeNumerically("~", 0.000000032, 1e-12))
	})

	It("should get the n cycles later", func() {
		var f = 1 * GHz
		Expect(f.NCyclesLater(12, 102.000000001)).To(
			BeNumerically("~", 102.000000013, 1e-12))
	})

	It("should convert between cycles and time", func() {
		var f = 1 * GHz
		Expect(f.CycleTime(42)).To(BeNumerically("~", 42e-9, 1e-15))
		Expect(f.Cycle(f.CycleTime(42))).To(Equal(uint64(42)))
	})

	DescribeTable("parsing",
		func(s string, expected Freq) {
			f, err := ParseFreq(s)
			Expect(err).NotTo(HaveOccurred())
			Expect(float64(f)).To(BeNumerically("~", float64(expected), 1e-3))
		},
		Entry("GHz", "1GHz", 1*GHz),
		Entry("MHz with space", "800 MHz", 800*MHz),
		Entry("plain number", "1e9", 1*GHz),
	)

	It("should reject bad frequencies", func() {
		_, err := ParseFreq("fast")
		Expect(err).To(HaveOccurred())

		_, err = ParseFreq("0GHz")
		Expect(err).To(HaveOccurred())
	})
})
