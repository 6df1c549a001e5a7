package protocol

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/timing"
)

const (
	addrA = 0x1000
	addrB = 0x1040
)

// link connects highs above low through a new network.
func link(sim *esim.Engine, low *module.Module, highs ...*module.Module) {
	net := network.MakeBuilder().WithEngine(sim).Build("net-" + low.Name)

	low.HighNet = net
	low.HighNode = net.AddEndNode(low.Name, low)

	for _, high := range highs {
		high.LowNet = net
		high.LowNode = net.AddEndNode(high.Name, high)
		high.AddLowModule(low)
	}
}

func buildModule(sim *esim.Engine, b module.Builder, name string) *module.Module {
	mod, err := b.WithEngine(sim).Build(name)
	Expect(err).NotTo(HaveOccurred())

	return mod
}

func initDirectories(mods ...*module.Module) {
	for _, m := range mods {
		Expect(m.InitDirectory()).To(Succeed())
	}
}

func stateOf(m *module.Module, addr uint64) cache.BlockState {
	_, _, _, state, hit := m.FindBlock(addr)
	if !hit {
		return cache.Invalid
	}

	return state
}

// subBlockOf returns the directory coordinates of addr in m.
func subBlockOf(m *module.Module, addr uint64) (set, way, z int) {
	set, way, tag, _, hit := m.FindBlock(addr)
	Expect(hit).To(BeTrue())

	return set, way, int(addr-tag) / m.SubBlockSize
}

func ownerOf(m *module.Module, addr uint64) int {
	set, way, z := subBlockOf(m, addr)

	return m.Dir.Owner(set, way, z)
}

func isSharer(m, high *module.Module, addr uint64) bool {
	set, way, z := subBlockOf(m, addr)

	return m.Dir.IsSharer(set, way, z, high.NodeIndex())
}

var _ = Describe("Two-level hierarchy", func() {
	var (
		sim      *esim.Engine
		proto    *Engine
		l1a, l1b *module.Module
		mm       *module.Module
		witness  int
	)

	build := func(peerTransfers bool) {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		l1 := module.MakeBuilder().WithGeometry(4, 2, 64)
		l1a = buildModule(sim, l1, "l1a")
		l1b = buildModule(sim, l1, "l1b")
		mm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindMainMemory).
			WithGeometry(16, 4, 64).
			WithPeerTransfers(peerTransfers), "mm")

		link(sim, mm, l1a, l1b)
		initDirectories(l1a, l1b, mm)

		witness = 0
	}

	run := func() {
		Expect(sim.Run()).To(Succeed())
	}

	BeforeEach(func() {
		build(false)
	})

	It("should fill a cold load as exclusive", func() {
		f := proto.Access(l1a, module.Load, addrA, &witness)
		run()

		Expect(witness).To(Equal(1))
		Expect(f.Shared).To(BeFalse())
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Exclusive))
		Expect(isSharer(mm, l1a, addrA)).To(BeTrue())
		Expect(ownerOf(mm, addrA)).To(Equal(l1a.NodeIndex()))
		Expect(mm.Stats.UpDownReads).To(Equal(uint64(1)))
		Expect(l1a.NumInFlight()).To(Equal(0))
	})

	It("should coalesce loads within a module but not across modules", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		proto.Access(l1a, module.Load, addrA+8, &witness)
		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		Expect(witness).To(Equal(3))
		Expect(l1a.Stats.CoalescedReads).To(Equal(uint64(1)))
		Expect(l1b.Stats.CoalescedReads).To(Equal(uint64(0)))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Shared))
		Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		Expect(l1a.NumCoalesced()).To(Equal(0))
	})

	It("should retry a request that finds the lower entry locked", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(mm.Stats.DirectoryConflicts).NotTo(BeZero())
		Expect(l1a.Stats.Retries + l1b.Stats.Retries).NotTo(BeZero())
	})

	It("should upgrade an exclusive block on a store hit", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		proto.Access(l1a, module.Store, addrA, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Modified))
		Expect(mm.Stats.UpDownWrites).To(BeZero())
	})

	It("should invalidate a modified copy on a store from a sibling", func() {
		proto.Access(l1a, module.Store, addrA, &witness)
		run()
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Modified))

		proto.Access(l1b, module.Store, addrA, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Modified))
		Expect(l1a.Stats.DownUpWrites).To(Equal(uint64(1)))
		Expect(isSharer(mm, l1a, addrA)).To(BeFalse())
		Expect(isSharer(mm, l1b, addrA)).To(BeTrue())
		Expect(ownerOf(mm, addrA)).To(Equal(l1b.NodeIndex()))
	})

	It("should send recalled data to the requester with peer transfers", func() {
		build(true)

		proto.Access(l1a, module.Store, addrA, &witness)
		run()
		proto.Access(l1b, module.Store, addrA, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(l1a.Stats.PeerTransfers).To(Equal(uint64(1)))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Modified))
	})

	It("should downgrade the owner when a sibling reads", func() {
		proto.Access(l1a, module.Store, addrA, &witness)
		run()
		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		Expect(stateOf(l1a, addrA)).To(Equal(cache.Owned))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Shared))
		Expect(l1a.Stats.DownUpReads).To(Equal(uint64(1)))
	})

	It("should write dirty blocks back on flush", func() {
		proto.Access(l1a, module.Store, addrA, &witness)
		run()

		proto.Flush(l1a, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(mm, addrA)).To(Equal(cache.Modified))
		Expect(isSharer(mm, l1a, addrA)).To(BeFalse())
	})

	It("should finish a flush of an empty cache", func() {
		proto.Flush(l1b, &witness)
		run()

		Expect(witness).To(Equal(1))
	})

	Context("prefetch", func() {
		It("should fill the block", func() {
			proto.Access(l1a, module.Prefetch, addrA, &witness)
			run()

			Expect(witness).To(Equal(1))
			Expect(stateOf(l1a, addrA)).To(Equal(cache.Exclusive))
			Expect(l1a.Stats.Prefetches).To(Equal(uint64(1)))
		})

		It("should count a hit as useless", func() {
			proto.Access(l1a, module.Load, addrA, &witness)
			run()
			proto.Access(l1a, module.Prefetch, addrA, &witness)
			run()

			Expect(witness).To(Equal(2))
			Expect(l1a.Stats.UselessPrefetches).To(Equal(uint64(1)))
		})

		It("should give up behind an in-flight load", func() {
			proto.Access(l1a, module.Load, addrA, &witness)
			proto.Access(l1a, module.Prefetch, addrA, &witness)
			run()

			Expect(witness).To(Equal(2))
			Expect(l1a.Stats.UselessPrefetches).To(Equal(uint64(1)))
			Expect(mm.Stats.UpDownReads).To(Equal(uint64(1)))
		})
	})

	Context("non-coherent store", func() {
		It("should drop ownership of an exclusive block", func() {
			proto.Access(l1a, module.Load, addrA, &witness)
			run()
			proto.Access(l1a, module.NCStore, addrA, &witness)
			run()

			Expect(witness).To(Equal(2))
			Expect(stateOf(l1a, addrA)).To(Equal(cache.NonCoherent))
			Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
			Expect(isSharer(mm, l1a, addrA)).To(BeTrue())
		})

		It("should write a modified block back first", func() {
			proto.Access(l1a, module.Store, addrA, &witness)
			run()
			proto.Access(l1a, module.NCStore, addrA, &witness)
			run()

			Expect(witness).To(Equal(2))
			Expect(stateOf(l1a, addrA)).To(Equal(cache.NonCoherent))
			Expect(stateOf(mm, addrA)).To(Equal(cache.Modified))
			Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		})

		It("should fetch a missing block without ownership", func() {
			proto.Access(l1a, module.NCStore, addrA, &witness)
			run()

			Expect(stateOf(l1a, addrA)).To(Equal(cache.NonCoherent))
			Expect(isSharer(mm, l1a, addrA)).To(BeTrue())
			Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		})

		It("should merge non-coherent data on eviction", func() {
			proto.Access(l1a, module.NCStore, addrA, &witness)
			run()
			proto.Flush(l1a, &witness)
			run()

			Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
			Expect(stateOf(mm, addrA)).To(Equal(cache.Modified))
		})
	})
})

var _ = Describe("Three-level hierarchy", func() {
	var (
		sim      *esim.Engine
		proto    *Engine
		l1a, l1b *module.Module
		l2, mm   *module.Module
		witness  int
	)

	run := func() {
		Expect(sim.Run()).To(Succeed())
	}

	BeforeEach(func() {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		l1 := module.MakeBuilder().WithGeometry(4, 2, 64)
		l1a = buildModule(sim, l1, "l1a")
		l1b = buildModule(sim, l1, "l1b")
		l2 = buildModule(sim, module.MakeBuilder().WithGeometry(1, 1, 64), "l2")
		mm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindMainMemory).
			WithGeometry(16, 4, 64), "mm")

		link(sim, l2, l1a, l1b)
		link(sim, mm, l2)
		initDirectories(l1a, l1b, l2, mm)

		witness = 0
	})

	It("should share a block read by both caches", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		Expect(stateOf(l1a, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l2, addrA)).To(Equal(cache.Exclusive))
		Expect(isSharer(l2, l1a, addrA)).To(BeTrue())
		Expect(isSharer(l2, l1b, addrA)).To(BeTrue())
	})

	It("should recall both sharers when evicting a shared block", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		proto.Access(l1a, module.Load, addrB, &witness)
		run()

		Expect(witness).To(Equal(3))
		Expect(l2.Stats.Evictions).To(Equal(uint64(1)))
		Expect(l1a.Stats.DownUpWrites).To(Equal(uint64(1)))
		Expect(l1b.Stats.DownUpWrites).To(Equal(uint64(1)))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l2, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l2, addrB)).To(Equal(cache.Exclusive))
		Expect(stateOf(l1a, addrB)).To(Equal(cache.Exclusive))

		// A clean block is not written back.
		Expect(stateOf(mm, addrA)).To(Equal(cache.Exclusive))
		Expect(isSharer(mm, l2, addrA)).To(BeFalse())
	})

	It("should write a recalled dirty block down on eviction", func() {
		proto.Access(l1a, module.Store, addrA, &witness)
		run()
		Expect(stateOf(l2, addrA)).To(Equal(cache.Exclusive))

		proto.Access(l1b, module.Load, addrB, &witness)
		run()

		Expect(witness).To(Equal(2))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(mm, addrA)).To(Equal(cache.Modified))
	})
})

var _ = Describe("Sibling second-level caches", func() {
	var (
		sim           *esim.Engine
		proto         *Engine
		l1a, l1b, l1c *module.Module
		l2a, l2b, mm  *module.Module
		witness       int
	)

	run := func() {
		Expect(sim.Run()).To(Succeed())
	}

	BeforeEach(func() {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		l1 := module.MakeBuilder().WithGeometry(4, 2, 64)
		l1a = buildModule(sim, l1, "l1a")
		l1b = buildModule(sim, l1, "l1b")
		l1c = buildModule(sim, l1, "l1c")

		l2 := module.MakeBuilder().WithGeometry(4, 2, 64)
		l2a = buildModule(sim, l2, "l2a")
		l2b = buildModule(sim, l2, "l2b")

		mm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindMainMemory).
			WithGeometry(16, 4, 64), "mm")

		link(sim, l2a, l1a, l1b)
		link(sim, l2b, l1c)
		link(sim, mm, l2a, l2b)
		initDirectories(l1a, l1b, l1c, l2a, l2b, mm)

		witness = 0
	})

	It("should forget an exclusive owner downgraded by a recall", func() {
		proto.Access(l1a, module.Store, addrA, &witness)
		run()
		proto.Flush(l1a, &witness)
		run()
		Expect(stateOf(l2a, addrA)).To(Equal(cache.Modified))

		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Exclusive))
		Expect(ownerOf(l2a, addrA)).To(Equal(l1a.NodeIndex()))

		proto.Access(l1c, module.Load, addrA, &witness)
		run()

		Expect(stateOf(l1a, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l2a, addrA)).To(Equal(cache.Owned))
		Expect(stateOf(l1c, addrA)).To(Equal(cache.Shared))
		Expect(ownerOf(l2a, addrA)).To(Equal(directory.NoOwner))
		Expect(isSharer(l2a, l1a, addrA)).To(BeTrue())

		proto.Access(l1b, module.Load, addrA, &witness)
		run()

		Expect(witness).To(Equal(5))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l2a, addrA)).To(Equal(cache.Owned))
		Expect(isSharer(l2a, l1b, addrA)).To(BeTrue())
		Expect(l1a.Stats.DownUpReads).To(Equal(uint64(1)))
	})
})

var _ = Describe("Sub-blocks", func() {
	const (
		addrA1 = addrA + 32
		addrC  = addrA + 0x80
		addrD  = addrA + 0x100
	)

	var (
		sim      *esim.Engine
		proto    *Engine
		l1a, l1b *module.Module
		mm       *module.Module
		witness  int
	)

	run := func() {
		Expect(sim.Run()).To(Succeed())
	}

	BeforeEach(func() {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		l1 := module.MakeBuilder().WithGeometry(4, 2, 32)
		l1a = buildModule(sim, l1, "l1a")
		l1b = buildModule(sim, l1, "l1b")
		mm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindMainMemory).
			WithGeometry(16, 4, 64), "mm")

		link(sim, mm, l1a, l1b)
		initDirectories(l1a, l1b, mm)

		witness = 0
	})

	It("should track each half of a block separately", func() {
		Expect(mm.SubBlockSize).To(Equal(32))
		Expect(mm.NumSubBlocks).To(Equal(2))

		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		Expect(ownerOf(mm, addrA)).To(Equal(l1a.NodeIndex()))
		Expect(ownerOf(mm, addrA1)).To(Equal(directory.NoOwner))

		proto.Access(l1b, module.Load, addrA1, &witness)
		run()

		// The other half was recalled from its exclusive owner.
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Shared))
		Expect(stateOf(l1b, addrA1)).To(Equal(cache.Exclusive))
		Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		Expect(ownerOf(mm, addrA1)).To(Equal(l1b.NodeIndex()))
		Expect(isSharer(mm, l1a, addrA)).To(BeTrue())
		Expect(isSharer(mm, l1a, addrA1)).To(BeFalse())
		Expect(isSharer(mm, l1b, addrA1)).To(BeTrue())

		proto.Access(l1b, module.Store, addrA, &witness)
		run()

		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Modified))
		Expect(stateOf(l1b, addrA1)).To(Equal(cache.Exclusive))
		Expect(isSharer(mm, l1a, addrA)).To(BeFalse())
		Expect(isSharer(mm, l1b, addrA)).To(BeTrue())
		Expect(ownerOf(mm, addrA)).To(Equal(l1b.NodeIndex()))
		Expect(ownerOf(mm, addrA1)).To(Equal(l1b.NodeIndex()))

		// Two more blocks of the same set push the dirty half out.
		proto.Access(l1b, module.Load, addrC, &witness)
		run()
		proto.Access(l1b, module.Load, addrD, &witness)
		run()

		Expect(witness).To(Equal(5))
		Expect(stateOf(l1b, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1b, addrA1)).To(Equal(cache.Exclusive))
		Expect(stateOf(mm, addrA)).To(Equal(cache.Modified))
		Expect(isSharer(mm, l1b, addrA)).To(BeFalse())
		Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		Expect(isSharer(mm, l1b, addrA1)).To(BeTrue())
		Expect(ownerOf(mm, addrA1)).To(Equal(l1b.NodeIndex()))
	})

	It("should announce a clean half without writing it back", func() {
		proto.Access(l1a, module.Load, addrA, &witness)
		run()
		proto.Access(l1a, module.Load, addrA1, &witness)
		run()
		Expect(ownerOf(mm, addrA1)).To(Equal(l1a.NodeIndex()))

		proto.Access(l1a, module.Load, addrC, &witness)
		run()
		proto.Access(l1a, module.Load, addrD, &witness)
		run()

		Expect(witness).To(Equal(4))
		Expect(l1a.Stats.Evictions).To(Equal(uint64(1)))
		Expect(stateOf(l1a, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1a, addrA1)).To(Equal(cache.Exclusive))
		Expect(stateOf(mm, addrA)).To(Equal(cache.Exclusive))
		Expect(isSharer(mm, l1a, addrA)).To(BeFalse())
		Expect(ownerOf(mm, addrA)).To(Equal(directory.NoOwner))
		Expect(isSharer(mm, l1a, addrA1)).To(BeTrue())
		Expect(ownerOf(mm, addrA1)).To(Equal(l1a.NodeIndex()))
	})
})

var _ = Describe("Lock contention", func() {
	var (
		sim     *esim.Engine
		proto   *Engine
		l1, mm  *module.Module
		witness int
	)

	BeforeEach(func() {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		l1 = buildModule(sim, module.MakeBuilder().WithGeometry(1, 1, 64), "l1")
		mm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindMainMemory).
			WithGeometry(16, 4, 64), "mm")

		link(sim, mm, l1)
		initDirectories(l1, mm)

		witness = 0
	})

	It("should retry the loser of a victim race", func() {
		proto.Access(l1, module.Load, addrA, &witness)
		proto.Access(l1, module.Load, addrB, &witness)
		Expect(sim.Run()).To(Succeed())

		Expect(witness).To(Equal(2))
		Expect(l1.Stats.DirectoryConflicts).NotTo(BeZero())
		Expect(l1.Dir.NumConflicts()).To(Equal(l1.Stats.DirectoryConflicts))
		Expect(l1.Stats.Retries).NotTo(BeZero())
		Expect(l1.Stats.Evictions).To(Equal(uint64(1)))
		Expect(stateOf(l1, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(l1, addrB)).To(Equal(cache.Exclusive))
		Expect(isSharer(mm, l1, addrA)).To(BeFalse())
		Expect(l1.NumInFlight()).To(Equal(0))
	})
})

var _ = Describe("Local memory", func() {
	var (
		sim     *esim.Engine
		proto   *Engine
		lm      *module.Module
		witness int
	)

	BeforeEach(func() {
		sim = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		proto = NewEngine(sim)

		lm = buildModule(sim, module.MakeBuilder().
			WithKind(module.KindLocalMemory).
			WithGeometry(1, 1, 64), "lm")
		initDirectories(lm)

		witness = 0
	})

	It("should serve loads and stores without a lower level", func() {
		proto.Access(lm, module.Store, addrA, &witness)
		Expect(sim.Run()).To(Succeed())
		proto.Access(lm, module.Load, addrA, &witness)
		Expect(sim.Run()).To(Succeed())

		Expect(witness).To(Equal(2))
		Expect(stateOf(lm, addrA)).To(Equal(cache.Modified))
		Expect(lm.Stats.Hits).To(Equal(uint64(1)))
	})

	It("should drop the victim on a miss", func() {
		proto.Access(lm, module.Load, addrA, &witness)
		Expect(sim.Run()).To(Succeed())
		proto.Access(lm, module.Load, addrB, &witness)
		Expect(sim.Run()).To(Succeed())

		Expect(stateOf(lm, addrA)).To(Equal(cache.Invalid))
		Expect(stateOf(lm, addrB)).To(Equal(cache.Exclusive))
		Expect(lm.Stats.Evictions).To(Equal(uint64(1)))
	})

	It("should serve accesses racing for the same line", func() {
		proto.Access(lm, module.Load, addrA, &witness)
		proto.Access(lm, module.Load, addrB, &witness)
		Expect(sim.Run()).To(Succeed())

		Expect(witness).To(Equal(2))
		Expect(stateOf(lm, addrB)).To(Equal(cache.Exclusive))
		Expect(lm.Dir.NumConflicts()).To(Equal(lm.Stats.DirectoryConflicts))
		Expect(lm.Dir.LockHolder(0, 0)).To(BeNil())
		Expect(lm.NumInFlight()).To(Equal(0))
	})
})
