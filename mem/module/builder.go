package module

import (
	"container/list"
	"fmt"
	"math/bits"
	"math/rand"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/sim/esim"
)

// Builder builds modules.
type Builder struct {
	engine           *esim.Engine
	kind             Kind
	numSets          int
	numWays          int
	blockSize        int
	policy           cache.Policy
	writePolicy      cache.WritePolicy
	numPorts         int
	mshrSize         int
	dataLatency      int
	directoryLatency int
	addrRange        AddressRange
	rand             *rand.Rand
	peerTransfers    bool
}

// MakeBuilder returns a Builder for a 16-set, 2-way cache with 64-byte
// blocks, 2 ports, and 1-cycle latencies.
func MakeBuilder() Builder {
	return Builder{
		kind:             KindCache,
		numSets:          16,
		numWays:          2,
		blockSize:        64,
		policy:           cache.LRU,
		numPorts:         2,
		dataLatency:      1,
		directoryLatency: 1,
		addrRange:        FullRange(),
	}
}

// WithEngine sets the engine.
func (b Builder) WithEngine(e *esim.Engine) Builder {
	b.engine = e
	return b
}

// WithKind sets the kind of the module.
func (b Builder) WithKind(k Kind) Builder {
	b.kind = k
	return b
}

// WithGeometry sets the sets, ways, and block size. For a main memory this
// is the geometry of its directory.
func (b Builder) WithGeometry(numSets, numWays, blockSize int) Builder {
	b.numSets = numSets
	b.numWays = numWays
	b.blockSize = blockSize

	return b
}

// WithPolicy sets the replacement policy.
func (b Builder) WithPolicy(p cache.Policy) Builder {
	b.policy = p
	return b
}

// WithWritePolicy sets the write policy.
func (b Builder) WithWritePolicy(p cache.WritePolicy) Builder {
	b.writePolicy = p
	return b
}

// WithNumPorts sets the number of ports.
func (b Builder) WithNumPorts(n int) Builder {
	b.numPorts = n
	return b
}

// WithMSHRSize caps the in-flight non-coalesced accesses. Zero means no
// cap.
func (b Builder) WithMSHRSize(n int) Builder {
	b.mshrSize = n
	return b
}

// WithDataLatency sets the cycles to access a block's data.
func (b Builder) WithDataLatency(cycles int) Builder {
	b.dataLatency = cycles
	return b
}

// WithDirectoryLatency sets the cycles to look up the directory.
func (b Builder) WithDirectoryLatency(cycles int) Builder {
	b.directoryLatency = cycles
	return b
}

// WithRange sets the address range the module serves.
func (b Builder) WithRange(r AddressRange) Builder {
	b.addrRange = r
	return b
}

// WithRand sets the random source for replacement and retry back-off.
func (b Builder) WithRand(r *rand.Rand) Builder {
	b.rand = r
	return b
}

// WithPeerTransfers lets the module send recalled blocks directly to the
// requesting sibling.
func (b Builder) WithPeerTransfers(enabled bool) Builder {
	b.peerTransfers = enabled
	return b
}

// Build creates the module. The directory is created later by
// InitDirectory, once the module graph is linked.
func (b Builder) Build(name string) (*Module, error) {
	if b.engine == nil {
		panic("module " + name + " requires an engine")
	}

	if b.numPorts <= 0 {
		return nil, fmt.Errorf("module %s: needs at least one port", name)
	}

	if b.dataLatency < 0 || b.directoryLatency < 0 || b.mshrSize < 0 {
		return nil, fmt.Errorf("module %s: negative latency or MSHR size",
			name)
	}

	if err := b.addrRange.Validate(); err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}

	rng := b.rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	c, err := cache.New(name, cache.Config{
		NumSets:     b.numSets,
		NumWays:     b.numWays,
		BlockSize:   b.blockSize,
		Policy:      b.policy,
		WritePolicy: b.writePolicy,
	}, rng)
	if err != nil {
		return nil, err
	}

	m := &Module{
		Name:             name,
		Kind:             b.kind,
		BlockSize:        b.blockSize,
		log2BlockSize:    bits.TrailingZeros(uint(b.blockSize)),
		SubBlockSize:     b.blockSize,
		NumSubBlocks:     1,
		DataLatency:      b.dataLatency,
		DirectoryLatency: b.directoryLatency,
		MSHRSize:         b.mshrSize,
		Range:            b.addrRange,
		Cache:            c,
		engine:           b.engine,
		rand:             rng,
		ports:            make([]Port, b.numPorts),
		accessList:       list.New(),
		writeList:        list.New(),
		accessByBlock:    make(map[uint64][]*Frame),
		PeerTransfers:    b.peerTransfers,
	}

	for i := range m.ports {
		m.ports[i].Index = i
	}

	return m, nil
}
