// Package module models a memory module: a cache or a memory with its
// directory, its ports, and its list of in-flight accesses. The protocol
// package drives modules; this package provides the bookkeeping that the
// protocol needs to arbitrate ports, coalesce accesses, and route requests.
package module

import (
	"container/list"
	"fmt"
	"math/rand"

	"github.com/sarchlab/memsim/mem/cache"
	"github.com/sarchlab/memsim/mem/directory"
	"github.com/sarchlab/memsim/noc/network"
	"github.com/sarchlab/memsim/sim/esim"
	"github.com/sarchlab/memsim/sim/hooking"
)

// Kind is the kind of a module.
type Kind int

// Module kinds.
const (
	KindCache Kind = iota
	KindMainMemory
	KindLocalMemory
)

func (k Kind) String() string {
	switch k {
	case KindMainMemory:
		return "MainMemory"
	case KindLocalMemory:
		return "LocalMemory"
	}

	return "Cache"
}

// Module is a cache, a main memory, or a local memory.
type Module struct {
	hooking.HookableBase

	Name string
	Kind Kind

	BlockSize     int
	log2BlockSize int
	SubBlockSize  int
	NumSubBlocks  int

	DataLatency      int
	DirectoryLatency int
	MSHRSize         int

	Range AddressRange

	Cache *cache.Cache
	Dir   *directory.Directory

	LowModules  []*Module
	HighModules []*Module

	LowNet   *network.Network
	LowNode  *network.Node
	HighNet  *network.Network
	HighNode *network.Node

	engine *esim.Engine
	rand   *rand.Rand

	ports          []Port
	numLockedPorts int
	portQueue      []portWaiter

	accessList    *list.List
	writeList     *list.List
	accessByBlock map[uint64][]*Frame
	numCoalesced  int
	PeerTransfers bool

	Stats Stats
}

// Engine returns the engine that runs the module.
func (m *Module) Engine() *esim.Engine {
	return m.engine
}

// Log2BlockSize returns log2 of the block size.
func (m *Module) Log2BlockSize() int {
	return m.log2BlockSize
}

// BlockAddr returns the address of the block containing addr.
func (m *Module) BlockAddr(addr uint64) uint64 {
	return addr >> m.log2BlockSize << m.log2BlockSize
}

// AddLowModule links low below m.
func (m *Module) AddLowModule(low *Module) {
	m.LowModules = append(m.LowModules, low)
	low.HighModules = append(low.HighModules, m)
}

// InitDirectory creates the directory once the modules above m are known.
// Sub-blocks are sized after the smallest block among the high modules.
func (m *Module) InitDirectory() error {
	m.SubBlockSize = m.BlockSize
	for _, high := range m.HighModules {
		if high.BlockSize < m.SubBlockSize {
			m.SubBlockSize = high.BlockSize
		}
	}

	if m.BlockSize%m.SubBlockSize != 0 {
		return fmt.Errorf("module %s: block size %d is not a multiple of %d",
			m.Name, m.BlockSize, m.SubBlockSize)
	}

	m.NumSubBlocks = m.BlockSize / m.SubBlockSize

	numNodes := 0
	if m.HighNet != nil {
		numNodes = len(m.HighNet.Nodes())
	}

	dir, err := directory.New(m.Name+".dir", directory.Config{
		NumSets:      m.Cache.NumSets(),
		NumWays:      m.Cache.NumWays(),
		NumSubBlocks: m.NumSubBlocks,
		NumNodes:     numNodes,
	}, m.engine)
	if err != nil {
		return err
	}

	m.Dir = dir

	return nil
}

// ServesAddress reports whether addr belongs to the module's range.
func (m *Module) ServesAddress(addr uint64) bool {
	return m.Range.Contains(addr)
}

// LowModuleServingAddress returns the single low module serving addr.
func (m *Module) LowModuleServingAddress(addr uint64) (*Module, error) {
	if m.Kind == KindMainMemory {
		return nil, fmt.Errorf("module %s: main memory has no low module",
			m.Name)
	}

	var found *Module

	for _, low := range m.LowModules {
		if !low.ServesAddress(addr) {
			continue
		}

		if found != nil {
			return nil, fmt.Errorf(
				"module %s: address %#x served by both %s and %s",
				m.Name, addr, found.Name, low.Name)
		}

		found = low
	}

	if found == nil {
		return nil, fmt.Errorf("module %s: no low module serves address %#x",
			m.Name, addr)
	}

	return found, nil
}

// MustLowModuleServingAddress is LowModuleServingAddress for the protocol,
// where a routing failure is a configuration error that stops the run.
func (m *Module) MustLowModuleServingAddress(addr uint64) *Module {
	low, err := m.LowModuleServingAddress(addr)
	if err != nil {
		panic(err)
	}

	return low
}

// NodeIndex returns the index of m as a sharer in the directory of the
// modules below it.
func (m *Module) NodeIndex() int {
	if m.LowNode == nil {
		panic(fmt.Sprintf("module %s has no low network node", m.Name))
	}

	return m.LowNode.Index
}

// HighModuleAt returns the module attached to the given node of the high
// network, or nil if the node is not a module.
func (m *Module) HighModuleAt(node int) *Module {
	if m.HighNet == nil {
		return nil
	}

	nodes := m.HighNet.Nodes()
	if node < 0 || node >= len(nodes) {
		return nil
	}

	high, _ := nodes[node].UserData.(*Module)

	return high
}

// FindBlock looks addr up in the module's cache. A block that is being
// filled with addr's tag counts as a hit while its directory entry is
// locked, so that later requests queue behind the fill.
func (m *Module) FindBlock(addr uint64) (set, way int, tag uint64, state cache.BlockState, hit bool) {
	c := m.Cache
	tag = addr &^ uint64(c.BlockSize()-1)

	blockNum := tag >> uint(c.Log2BlockSize())
	if m.Range.Kind == RangeInterleaved {
		blockNum /= m.Range.Mod
	}

	set = int(blockNum % uint64(c.NumSets()))

	for w := 0; w < c.NumWays(); w++ {
		b := c.Block(set, w)

		if b.Tag == tag && b.State != cache.Invalid {
			return set, w, tag, b.State, true
		}

		if b.TransientTag == tag && m.Dir.IsLocked(set, w) {
			return set, w, tag, b.State, true
		}
	}

	return set, -1, tag, cache.Invalid, false
}

// RetryLatency returns a random back-off for an access that lost a lock
// race.
func (m *Module) RetryLatency() int {
	return m.rand.Intn(m.DataLatency + 2)
}

// Tag returns the block-aligned tag of addr.
func (m *Module) Tag(addr uint64) uint64 {
	return addr &^ uint64(m.BlockSize-1)
}

func (m *Module) String() string {
	return m.Name
}
