package network

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/timing"
)

type sendFrame struct {
	esim.FrameBase
	name     string
	size     int
	msg      *Message
	received uint64
	retries  int
}

var _ = Describe("Network", func() {
	var (
		engine      *esim.Engine
		net         *Network
		a, b        *Node
		sendEvt     *esim.EventType
		receiveEvt  *esim.EventType
		arrivals    []string
		bufferBytes int
	)

	build := func() {
		engine = esim.NewEngine(timing.NewSerialEngine(), 1*timing.GHz)
		net = MakeBuilder().
			WithEngine(engine).
			WithLatency(2).
			WithBandwidth(8).
			WithBufferSize(bufferBytes).
			Build("net")
		a = net.AddEndNode("a", nil)
		b = net.AddEndNode("b", nil)

		receiveEvt = engine.RegisterEventType("receive",
			func(_ *esim.EventType, f esim.Frame) {
				frame := f.(*sendFrame)
				net.Receive(b, frame.msg)
				frame.received = engine.Cycle()
				arrivals = append(arrivals, frame.name)
			})
		sendEvt = engine.RegisterEventType("send",
			func(evt *esim.EventType, f esim.Frame) {
				frame := f.(*sendFrame)
				frame.msg = net.TrySend(a, b, frame.size, receiveEvt, evt, frame)
				if frame.msg == nil {
					frame.retries++
				}
			})
	}

	BeforeEach(func() {
		arrivals = nil
		bufferBytes = 0
	})

	It("should charge latency plus transfer time", func() {
		build()
		frame := &sendFrame{name: "x", size: 16}
		engine.Schedule(sendEvt, frame, 0)

		Expect(engine.Run()).To(Succeed())
		Expect(frame.received).To(Equal(uint64(4)))
		Expect(a.BufferOccupancy()).To(Equal(0))
		Expect(net.Stats().Bytes).To(Equal(uint64(16)))
	})

	It("should serialize transfers on the same link", func() {
		build()
		f1 := &sendFrame{name: "1", size: 16}
		f2 := &sendFrame{name: "2", size: 16}
		engine.Schedule(sendEvt, f1, 0)
		engine.Schedule(sendEvt, f2, 0)

		Expect(engine.Run()).To(Succeed())
		Expect(f1.received).To(Equal(uint64(4)))
		Expect(f2.received).To(Equal(uint64(6)))
	})

	It("should hold senders while the buffer is full", func() {
		bufferBytes = 16
		build()
		f1 := &sendFrame{name: "1", size: 16}
		f2 := &sendFrame{name: "2", size: 8}
		f3 := &sendFrame{name: "3", size: 8}
		engine.Schedule(sendEvt, f1, 0)
		engine.Schedule(sendEvt, f2, 0)
		engine.Schedule(sendEvt, f3, 0)

		Expect(engine.Run()).To(Succeed())
		Expect(arrivals).To(Equal([]string{"1", "2", "3"}))
		Expect(f2.retries).To(Equal(1))
		Expect(f3.retries).To(Equal(1))
		Expect(net.Stats().Stalls).To(Equal(uint64(2)))
	})

	It("should let an oversized message through an empty buffer", func() {
		bufferBytes = 8
		build()
		frame := &sendFrame{name: "big", size: 72}
		engine.Schedule(sendEvt, frame, 0)

		Expect(engine.Run()).To(Succeed())
		Expect(frame.retries).To(Equal(0))
		Expect(frame.received).To(Equal(uint64(11)))
	})

	It("should panic when a message is received at the wrong node", func() {
		build()
		msg := &Message{Src: a, Dst: b, Size: 8}
		Expect(func() { net.Receive(a, msg) }).To(Panic())
	})

	It("should count traffic per link", func() {
		build()
		counter := NewTrafficCounter()
		net.AcceptHook(counter)

		engine.Schedule(sendEvt, &sendFrame{name: "x", size: 24}, 0)
		Expect(engine.Run()).To(Succeed())

		Expect(counter.TotalData).To(Equal(uint64(24)))
		Expect(counter.PerLink[[2]string{"a", "b"}]).To(Equal(uint64(24)))
	})
})
