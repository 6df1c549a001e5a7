package network

import (
	"github.com/sarchlab/memsim/sim/esim"
)

// Builder builds networks.
type Builder struct {
	engine     *esim.Engine
	latency    int
	bandwidth  int
	bufferSize int
}

// MakeBuilder creates a Builder with a 1-cycle latency, 64 bytes per cycle,
// and unlimited buffers.
func MakeBuilder() Builder {
	return Builder{
		latency:   1,
		bandwidth: 64,
	}
}

// WithEngine sets the engine that delivers the messages.
func (b Builder) WithEngine(e *esim.Engine) Builder {
	b.engine = e
	return b
}

// WithLatency sets the cycles a message spends on the wire.
func (b Builder) WithLatency(cycles int) Builder {
	b.latency = cycles
	return b
}

// WithBandwidth sets the bytes a node can put on the wire per cycle. Zero
// means transfers take no time.
func (b Builder) WithBandwidth(bytesPerCycle int) Builder {
	b.bandwidth = bytesPerCycle
	return b
}

// WithBufferSize sets the output buffer of every node in bytes. Zero means
// unlimited.
func (b Builder) WithBufferSize(bytes int) Builder {
	b.bufferSize = bytes
	return b
}

// Build creates a Network.
func (b Builder) Build(name string) *Network {
	if b.engine == nil {
		panic("network " + name + " requires an engine")
	}

	if b.latency < 0 || b.bandwidth < 0 || b.bufferSize < 0 {
		panic("network " + name + " has a negative parameter")
	}

	return &Network{
		name:       name,
		engine:     b.engine,
		latency:    b.latency,
		bandwidth:  b.bandwidth,
		bufferSize: b.bufferSize,
		nodeByKey:  make(map[string]*Node),
	}
}
