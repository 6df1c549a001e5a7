package id

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IDGenerator", func() {
	It("should generate increasing sequential ids", func() {
		g := NewIDGenerator()

		Expect(g.Generate()).To(Equal("1"))
		Expect(g.Generate()).To(Equal("2"))
		Expect(g.Generate()).To(Equal("3"))
	})

	It("should keep private generators independent", func() {
		g1 := NewIDGenerator()
		g2 := NewIDGenerator()

		g1.Generate()
		g1.Generate()

		Expect(g2.Generate()).To(Equal("1"))
	})

	It("should generate unique parallel ids", func() {
		g := parallelIDGenerator{}
		seen := make(map[string]bool)

		for i := 0; i < 100; i++ {
			id := g.Generate()
			Expect(seen).NotTo(HaveKey(id))
			seen[id] = true
		}
	})
})
