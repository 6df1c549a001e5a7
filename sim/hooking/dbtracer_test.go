package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fixedTime struct {
	now float64
}

func (t *fixedTime) Now() float64 {
	return t.now
}

type memoryBackend struct {
	tasks   []Task
	flushed int
}

func (b *memoryBackend) Write(t Task) {
	b.tasks = append(b.tasks, t)
}

func (b *memoryBackend) Flush() {
	b.flushed++
}

var _ = Describe("DBTracer", func() {
	var (
		clock   *fixedTime
		backend *memoryBackend
		tracer  *DBTracer
	)

	start := func(id string) TaskStart {
		return TaskStart{
			ID:    id,
			Kind:  "access",
			What:  "load",
			Where: "l1-0",
			Addr:  0x40,
		}
	}

	BeforeEach(func() {
		clock = &fixedTime{}
		backend = &memoryBackend{}
		tracer = NewDBTracer(clock, backend)
	})

	It("should write a task with its steps when it ends", func() {
		tracer.Func(HookCtx{Pos: HookPosTaskStart, Item: start("1")})
		clock.now = 2
		tracer.Func(HookCtx{
			Pos:  HookPosTaskStep,
			Item: TaskStep{TaskID: "1", Kind: "state", What: "lock"},
		})
		clock.now = 5
		tracer.Func(HookCtx{Pos: HookPosTaskEnd, Item: TaskEnd{ID: "1"}})

		Expect(backend.tasks).To(HaveLen(1))
		Expect(backend.tasks[0].StartTime).To(Equal(0.0))
		Expect(backend.tasks[0].EndTime).To(Equal(5.0))
		Expect(backend.tasks[0].Addr).To(Equal(uint64(0x40)))
		Expect(backend.tasks[0].Steps).To(HaveLen(1))
		Expect(backend.tasks[0].Steps[0].Time).To(Equal(2.0))
		Expect(tracer.NumTracingTasks()).To(Equal(0))
	})

	It("should panic on a task without a location", func() {
		ts := start("1")
		ts.Where = ""

		Expect(func() { tracer.StartTask(ts) }).To(Panic())
	})

	It("should skip tasks rejected by the filter", func() {
		tracer.SetFilter(func(ts TaskStart) bool { return ts.What == "store" })

		tracer.StartTask(start("1"))
		tracer.EndTask(TaskEnd{ID: "1"})

		Expect(backend.tasks).To(BeEmpty())
	})

	It("should ignore tasks that start after the time range", func() {
		tracer.SetTimeRange(0, 10)
		clock.now = 11

		tracer.StartTask(start("1"))

		Expect(tracer.NumTracingTasks()).To(Equal(0))
	})

	It("should drop tasks that end before the time range", func() {
		tracer.SetTimeRange(10, 0)

		tracer.StartTask(start("1"))
		clock.now = 5
		tracer.EndTask(TaskEnd{ID: "1"})

		Expect(backend.tasks).To(BeEmpty())
	})

	It("should write open tasks on terminate", func() {
		tracer.StartTask(start("1"))
		tracer.StartTask(start("2"))
		clock.now = 3

		tracer.Terminate()

		Expect(backend.tasks).To(HaveLen(2))
		Expect(backend.tasks[0].EndTime).To(Equal(3.0))
		Expect(backend.flushed).To(Equal(1))
	})
})

var _ = Describe("StepCountTracer", func() {
	It("should count steps of accepted tasks", func() {
		tracer := NewStepCountTracer(func(ts TaskStart) bool {
			return ts.Kind == "access"
		})

		tracer.Func(HookCtx{
			Pos:  HookPosTaskStart,
			Item: TaskStart{ID: "1", Kind: "access"},
		})
		tracer.Func(HookCtx{
			Pos:  HookPosTaskStart,
			Item: TaskStart{ID: "2", Kind: "request"},
		})
		for _, id := range []string{"1", "1", "2"} {
			tracer.Func(HookCtx{
				Pos:  HookPosTaskStep,
				Item: TaskStep{TaskID: id, What: "hit"},
			})
		}
		tracer.Func(HookCtx{Pos: HookPosTaskEnd, Item: TaskEnd{ID: "1"}})
		tracer.Func(HookCtx{
			Pos:  HookPosTaskStep,
			Item: TaskStep{TaskID: "1", What: "hit"},
		})

		Expect(tracer.StepNames()).To(Equal([]string{"hit"}))
		Expect(tracer.StepCount("hit")).To(Equal(uint64(2)))
	})
})
