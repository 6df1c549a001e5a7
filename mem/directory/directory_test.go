package directory

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/timing"
)

type lockFrame struct {
	esim.FrameBase
	name string
}

var _ = Describe("Directory", func() {
	var (
		engine *esim.Engine
		dir    *Directory
	)

	BeforeEach(func() {
		engine = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)

		var err error
		dir, err = New("dir", Config{
			NumSets:      2,
			NumWays:      2,
			NumSubBlocks: 2,
			NumNodes:     70,
		}, engine)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should reject an empty geometry", func() {
		_, err := New("bad", Config{NumSets: 0, NumWays: 1, NumSubBlocks: 1},
			engine)
		Expect(err).To(HaveOccurred())
	})

	It("should start with no owner and no sharer", func() {
		Expect(dir.Owner(1, 1, 1)).To(Equal(NoOwner))
		Expect(dir.NumSharers(1, 1, 1)).To(Equal(0))
		Expect(dir.IsBlockSharedOrOwned(1, 1)).To(BeFalse())
	})

	It("should keep the sharer count equal to the bitmap", func() {
		dir.SetSharer(0, 1, 0, 3)
		dir.SetSharer(0, 1, 0, 3)
		dir.SetSharer(0, 1, 0, 65)
		dir.ClearSharer(0, 1, 0, 7)

		e := dir.Entry(0, 1, 0)
		Expect(e.NumSharers).To(Equal(2))
		Expect(e.PopCount()).To(Equal(2))
		Expect(e.Sharers()).To(Equal([]int{3, 65}))
		Expect(dir.IsSharer(0, 1, 0, 65)).To(BeTrue())
		Expect(dir.IsSharer(0, 1, 1, 65)).To(BeFalse())

		dir.ClearSharer(0, 1, 0, 3)
		dir.ClearSharer(0, 1, 0, 3)
		Expect(dir.NumSharers(0, 1, 0)).To(Equal(1))

		dir.ClearAllSharers(0, 1, 0)
		Expect(dir.Entry(0, 1, 0).PopCount()).To(Equal(0))
		Expect(dir.NumSharers(0, 1, 0)).To(Equal(0))
	})

	It("should report a block owned through any sub-block", func() {
		dir.SetOwner(1, 0, 1, 5)
		Expect(dir.IsBlockSharedOrOwned(1, 0)).To(BeTrue())

		dir.SetOwner(1, 0, 1, NoOwner)
		Expect(dir.IsBlockSharedOrOwned(1, 0)).To(BeFalse())
	})

	It("should reject owners out of range", func() {
		Expect(func() { dir.SetOwner(0, 0, 0, 70) }).To(Panic())
	})

	It("should return a copy of an entry", func() {
		dir.SetSharer(0, 0, 0, 1)
		e := dir.Entry(0, 0, 0)

		dir.ClearSharer(0, 0, 0, 1)

		Expect(e.IsSharer(1)).To(BeTrue())
	})

	Context("locking", func() {
		var (
			resumed []string
			retry   *esim.EventType
		)

		BeforeEach(func() {
			resumed = nil
			retry = engine.RegisterEventType("retry",
				func(_ *esim.EventType, f esim.Frame) {
					resumed = append(resumed, f.(*lockFrame).name)
				})
		})

		It("should grant a free lock", func() {
			f := &lockFrame{name: "a"}
			Expect(dir.LockEntry(0, 0, retry, f)).To(BeTrue())
			Expect(dir.LockHolder(0, 0)).To(BeIdenticalTo(f))
			Expect(dir.IsLocked(0, 1)).To(BeFalse())
		})

		It("should queue and wake in FIFO order", func() {
			a := &lockFrame{name: "a"}
			b := &lockFrame{name: "b"}
			c := &lockFrame{name: "c"}

			Expect(dir.LockEntry(1, 1, retry, a)).To(BeTrue())
			Expect(dir.LockEntry(1, 1, retry, b)).To(BeFalse())
			Expect(dir.LockEntry(1, 1, retry, c)).To(BeFalse())
			Expect(dir.LockHolder(1, 1)).To(BeIdenticalTo(a))
			Expect(dir.NumWaiting(1, 1)).To(Equal(2))
			Expect(dir.NumConflicts()).To(Equal(uint64(2)))

			dir.UnlockEntry(1, 1)
			Expect(dir.IsLocked(1, 1)).To(BeFalse())
			Expect(engine.Run()).To(Succeed())

			Expect(resumed).To(Equal([]string{"b", "c"}))
			Expect(dir.NumWaiting(1, 1)).To(Equal(0))
		})

		It("should not queue on a try-lock", func() {
			Expect(dir.TryLockEntry(0, 0, &lockFrame{})).To(BeTrue())
			Expect(dir.TryLockEntry(0, 0, &lockFrame{})).To(BeFalse())
			Expect(dir.NumWaiting(0, 0)).To(Equal(0))
		})

		It("should panic on unlocking a free lock", func() {
			Expect(func() { dir.UnlockEntry(0, 0) }).To(Panic())
		})
	})
})
