package system

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/mem/config"
	"github.com/sarchlab/memsim/mem/module"
	"github.com/sarchlab/memsim/sim/hooking"
)

const twoLevel = `
geometries:
  l1:
    sets: 4
    ways: 1
    block_size: 64
    latency: 2
  scratch:
    sets: 4
    ways: 1
    block_size: 64
    latency: 1

networks:
  l1-mm:
    latency: 1

modules:
  - name: l1-0
    type: cache
    geometry: l1
    low_network: l1-mm
    low_modules: [mm]
  - name: l1-1
    type: cache
    geometry: l1
    low_network: l1-mm
    low_modules: [mm]
  - name: lm
    type: local_memory
    geometry: scratch
  - name: mm
    type: main_memory
    high_network: l1-mm
    block_size: 64
    latency: 10
    directory_size: 16
    directory_assoc: 1
`

func buildSystem() *System {
	c, err := config.Parse([]byte(twoLevel))
	Expect(err).NotTo(HaveOccurred())

	s, err := Build(c)
	Expect(err).NotTo(HaveOccurred())

	return s
}

func mustModule(s *System, name string) *module.Module {
	m, ok := s.Module(name)
	Expect(ok).To(BeTrue())

	return m
}

func runScript(s *System, script string) []CheckResult {
	cmds, err := ParseScript(strings.NewReader(script))
	Expect(err).NotTo(HaveOccurred())

	results, err := s.RunScript(cmds)
	Expect(err).NotTo(HaveOccurred())

	return results
}

func expectAllPassed(results []CheckResult) {
	for _, r := range results {
		Expect(r.Passed).To(BeTrue(), "%s: %s", r.Command, r.Message)
	}
}

var _ = Describe("Build", func() {
	It("should create and link the modules", func() {
		s := buildSystem()

		Expect(s.Modules()).To(HaveLen(4))
		Expect(s.Networks()).To(HaveLen(1))

		l10 := mustModule(s, "l1-0")
		l11 := mustModule(s, "l1-1")
		mm := mustModule(s, "mm")

		Expect(l10.NodeIndex()).To(Equal(0))
		Expect(l11.NodeIndex()).To(Equal(1))
		Expect(l10.LowModules).To(ConsistOf(mm))
		Expect(mm.HighModules).To(ConsistOf(l10, l11))
		Expect(mm.Kind).To(Equal(module.KindMainMemory))
		Expect(mm.Cache.NumSets()).To(Equal(16))
		Expect(mm.Cache.NumWays()).To(Equal(1))
		Expect(mm.Dir).NotTo(BeNil())
		Expect(mustModule(s, "lm").Kind).To(Equal(module.KindLocalMemory))

		_, ok := s.Module("l2")
		Expect(ok).To(BeFalse())
	})

	It("should reject an access without a kind", func() {
		s := buildSystem()

		_, err := s.Access(mustModule(s, "l1-0"), module.AccessNone, 0x1000)
		Expect(err).To(HaveOccurred())
	})

	It("should finish every issued request", func() {
		s := buildSystem()
		l10 := mustModule(s, "l1-0")

		for i := uint64(0); i < 4; i++ {
			s.IssueAccessAt(0, l10, module.Load, 0x1000+i*0x40)
		}

		s.IssueFlushAt(1000, l10)
		Expect(s.Run()).To(Succeed())

		Expect(s.NumIssued()).To(Equal(5))
		Expect(s.NumFinished()).To(Equal(5))
		Expect(l10.NumInFlight()).To(Equal(0))
	})
})

var _ = Describe("ParseScript", func() {
	It("should skip comments and empty lines", func() {
		cmds, err := ParseScript(strings.NewReader(`
# preset
setblock l1-0 0 0 0x1000 M

Access l1-0 1 load 0x1000
CHECKBLOCK l1-0 0 0 0x1000 M
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cmds).To(HaveLen(3))
		Expect(cmds[0].Name).To(Equal(CmdSetBlock))
		Expect(cmds[0].Line).To(Equal(3))
		Expect(cmds[1].Args).To(Equal([]string{"l1-0", "1", "load", "0x1000"}))
		Expect(cmds[2].IsCheck()).To(BeTrue())
	})

	It("should reject unknown commands", func() {
		_, err := ParseScript(strings.NewReader("SetBlock l1-0 0 0 0x0 I\nFoo"))
		Expect(err).To(MatchError(ContainSubstring("line 2")))
	})
})

var _ = Describe("Command scripts", func() {
	var s *System

	BeforeEach(func() {
		s = buildSystem()
	})

	It("should fill a cold load as exclusive", func() {
		results := runScript(s, `
Access l1-0 0 load 0x1000
CheckBlock l1-0 0 0 0x1000 E
CheckOwner mm 0 0 0 l1-0
CheckSharers mm 0 0 0 l1-0
CheckBlock l1-1 0 0 0x0 I
`)

		Expect(results).To(HaveLen(4))
		expectAllPassed(results)
	})

	It("should downgrade a preset owner when a sibling reads", func() {
		results := runScript(s, `
SetBlock l1-0 0 0 0x1000 M
SetBlock mm 0 0 0x1000 E
SetOwner mm 0 0 0 l1-0
SetSharers mm 0 0 0 l1-0
Access l1-1 1 load 0x1000
CheckBlock l1-0 0 0 0x1000 O
CheckBlock l1-1 0 0 0x1000 S
CheckSharers mm 0 0 0 l1-0 l1-1
`)

		expectAllPassed(results)
		Expect(mustModule(s, "l1-0").Stats.DownUpReads).To(Equal(uint64(1)))
	})

	It("should write a stored block back on flush", func() {
		results := runScript(s, `
Access l1-0 0 store 0x1000
Flush l1-0 500
CheckBlock l1-0 0 0 0x1000 I
CheckBlock mm 0 0 0x1000 M
CheckSharers mm 0 0 0 None
CheckOwner mm 0 0 0 None
`)

		expectAllPassed(results)
	})

	It("should serve a local memory", func() {
		results := runScript(s, `
Access lm 0 store 0x40
Access lm 100 load 0x40
CheckBlock lm 1 0 0x40 M
`)

		expectAllPassed(results)
		Expect(mustModule(s, "lm").Stats.Hits).To(Equal(uint64(1)))
	})

	It("should report failed checks", func() {
		results := runScript(s, `
Access l1-0 0 load 0x1000
CheckBlock l1-0 0 0 0x1000 M
CheckOwner mm 0 0 0 l1-1
`)

		Expect(results).To(HaveLen(2))
		Expect(results[0].Passed).To(BeFalse())
		Expect(results[0].Message).To(ContainSubstring("state M"))
		Expect(results[0].Message).To(ContainSubstring("state E"))
		Expect(results[1].Passed).To(BeFalse())
		Expect(results[1].Message).To(Equal("expected owner l1-1, got l1-0"))
	})

	DescribeTable("malformed commands",
		func(line, msg string) {
			cmds, err := ParseScript(strings.NewReader(line))
			Expect(err).NotTo(HaveOccurred())

			_, err = s.RunScript(cmds)
			Expect(err).To(MatchError(ContainSubstring(msg)))
		},
		Entry("unknown module", "SetBlock l3 0 0 0x1000 M", "unknown module"),
		Entry("set out of range", "SetBlock l1-0 4 0 0x1000 M", "out of range"),
		Entry("tag in another set", "SetBlock l1-0 1 0 0x1000 M", "belongs to set 0"),
		Entry("unaligned tag", "SetBlock l1-0 0 0 0x1004 M", "not aligned"),
		Entry("bad state", "SetBlock l1-0 0 0 0x1000 X", "X"),
		Entry("owner not above", "SetOwner mm 0 0 0 mm", "not a high module"),
		Entry("owner of a top module", "SetOwner l1-0 0 0 0 l1-1", "no high modules"),
		Entry("missing sharers", "SetSharers mm 0 0 0", "missing sharers"),
		Entry("bad access kind", "Access l1-0 0 read 0x1000", "invalid access kind"),
		Entry("extra argument", "Flush l1-0 0 0", "unexpected argument"),
		Entry("malformed check", "CheckOwner mm 0 0 0", "missing owner"),
	)
})

var _ = Describe("Report", func() {
	It("should summarize modules, networks, and steps", func() {
		s := buildSystem()

		steps := hooking.NewStepCountTracer(nil)
		s.AcceptModuleHook(steps)

		runScript(s, "Access l1-0 0 load 0x1000")

		r := s.Report(steps)
		Expect(r.Finished).To(Equal(1))
		Expect(r.Cycles).NotTo(BeZero())
		Expect(r.Modules).To(HaveLen(4))
		Expect(r.Modules[0].Name).To(Equal("l1-0"))
		Expect(r.Modules[0].Stats.Misses).To(Equal(uint64(1)))
		Expect(r.Networks[0].Stats.Messages).NotTo(BeZero())
		Expect(r.Networks[0].Links).To(ContainElement(
			LinkReport{Src: "mm", Dst: "l1-0", Bytes: 72}))
		Expect(r.Steps).NotTo(BeEmpty())

		var buf bytes.Buffer
		Expect(r.WriteYAML(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("name: l1-0"))
		Expect(buf.String()).To(ContainSubstring("misses: 1"))
		Expect(buf.String()).To(ContainSubstring("kind: MainMemory"))
	})
})
