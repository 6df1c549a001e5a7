// Package cache models the tag array of a set-associative cache: block
// states, set and way placement, and the recency order used to pick
// replacement victims. It holds no data and enforces no coherence.
package cache

import (
	"fmt"
	"math/bits"
	"math/rand"
)

const none = -1

// Block is one cache line.
type Block struct {
	Tag          uint64
	TransientTag uint64
	State        BlockState
	WayID        int

	prev, next int
}

type set struct {
	blocks     []Block
	head, tail int
}

// Config is the geometry and policy of a Cache.
type Config struct {
	NumSets     int
	NumWays     int
	BlockSize   int
	Policy      Policy
	WritePolicy WritePolicy
}

// Cache is a set-associative tag array.
type Cache struct {
	name          string
	numSets       int
	numWays       int
	blockSize     int
	log2BlockSize int
	blockMask     uint64
	policy        Policy
	writePolicy   WritePolicy
	sets          []set
	rand          *rand.Rand
}

// New creates a cache with every block Invalid. Sets, ways, and block size
// must be powers of two. rng is only used by the Random policy; nil gives
// a fixed seed.
func New(name string, cfg Config, rng *rand.Rand) (*Cache, error) {
	if !isPowerOfTwo(cfg.NumSets) {
		return nil, fmt.Errorf(
			"cache %s: number of sets (%d) must be a power of two",
			name, cfg.NumSets)
	}

	if !isPowerOfTwo(cfg.NumWays) {
		return nil, fmt.Errorf(
			"cache %s: associativity (%d) must be a power of two",
			name, cfg.NumWays)
	}

	if !isPowerOfTwo(cfg.BlockSize) {
		return nil, fmt.Errorf(
			"cache %s: block size (%d) must be a power of two",
			name, cfg.BlockSize)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	c := &Cache{
		name:          name,
		numSets:       cfg.NumSets,
		numWays:       cfg.NumWays,
		blockSize:     cfg.BlockSize,
		log2BlockSize: bits.TrailingZeros(uint(cfg.BlockSize)),
		blockMask:     uint64(cfg.BlockSize - 1),
		policy:        cfg.Policy,
		writePolicy:   cfg.WritePolicy,
		rand:          rng,
	}

	c.reset()

	return c, nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func (c *Cache) reset() {
	c.sets = make([]set, c.numSets)

	for i := range c.sets {
		s := &c.sets[i]
		s.blocks = make([]Block, c.numWays)

		for w := range s.blocks {
			s.blocks[w] = Block{
				WayID: w,
				prev:  w - 1,
				next:  w + 1,
			}
		}

		s.blocks[c.numWays-1].next = none
		s.head = 0
		s.tail = c.numWays - 1
	}
}

// Name returns the name of the cache.
func (c *Cache) Name() string { return c.name }

// NumSets returns the number of sets.
func (c *Cache) NumSets() int { return c.numSets }

// NumWays returns the associativity.
func (c *Cache) NumWays() int { return c.numWays }

// BlockSize returns the block size in bytes.
func (c *Cache) BlockSize() int { return c.blockSize }

// Log2BlockSize returns log2 of the block size.
func (c *Cache) Log2BlockSize() int { return c.log2BlockSize }

// Policy returns the replacement policy.
func (c *Cache) Policy() Policy { return c.policy }

// WritePolicy returns the configured write policy.
func (c *Cache) WritePolicy() WritePolicy { return c.writePolicy }

// DecodeAddress splits an address into its set, its block-aligned tag, and
// the offset inside the block.
func (c *Cache) DecodeAddress(addr uint64) (setID int, tag, offset uint64) {
	setID = int((addr >> c.log2BlockSize) % uint64(c.numSets))
	tag = addr &^ c.blockMask
	offset = addr & c.blockMask

	return setID, tag, offset
}

// FindBlock looks up addr in its set. It returns the way and state of the
// valid block holding the address, or ok=false on a miss.
func (c *Cache) FindBlock(addr uint64) (setID, wayID int, state BlockState, ok bool) {
	setID, tag, _ := c.DecodeAddress(addr)

	s := &c.sets[setID]
	for w := range s.blocks {
		b := &s.blocks[w]
		if b.Tag == tag && b.State != Invalid {
			return setID, w, b.State, true
		}
	}

	return setID, none, Invalid, false
}

// SetBlock overwrites the tag and state of a block. Under FIFO, a block
// that receives a new tag moves to the front of its set.
func (c *Cache) SetBlock(setID, wayID int, tag uint64, state BlockState) {
	b := c.block(setID, wayID)

	if c.policy == FIFO && b.Tag != tag {
		c.moveToHead(setID, wayID)
	}

	b.Tag = tag
	b.State = state
}

// GetBlock returns the tag and state of a block.
func (c *Cache) GetBlock(setID, wayID int) (tag uint64, state BlockState) {
	b := c.block(setID, wayID)
	return b.Tag, b.State
}

// Block returns a copy of a block.
func (c *Cache) Block(setID, wayID int) Block {
	return *c.block(setID, wayID)
}

// AccessBlock records a use of a block. LRU always moves it to the front of
// the set; FIFO only does so when the block was Invalid.
func (c *Cache) AccessBlock(setID, wayID int) {
	b := c.block(setID, wayID)

	if c.policy == LRU || (c.policy == FIFO && b.State == Invalid) {
		c.moveToHead(setID, wayID)
	}
}

// ReplaceBlock picks the victim way of a set. LRU and FIFO take the back
// of the recency list and move it to the front, so that a second call
// before the victim is refilled picks another way.
func (c *Cache) ReplaceBlock(setID int) int {
	c.mustHaveSet(setID)

	if c.policy == Random {
		return c.rand.Intn(c.numWays)
	}

	way := c.sets[setID].tail
	c.moveToHead(setID, way)

	return way
}

// SetTransientTag records the tag a block is being filled with.
func (c *Cache) SetTransientTag(setID, wayID int, tag uint64) {
	c.block(setID, wayID).TransientTag = tag
}

// TransientTag returns the tag a block is being filled with.
func (c *Cache) TransientTag(setID, wayID int) uint64 {
	return c.block(setID, wayID).TransientTag
}

// RecencyOrder returns the ways of a set from front to back.
func (c *Cache) RecencyOrder(setID int) []int {
	c.mustHaveSet(setID)

	s := &c.sets[setID]
	order := make([]int, 0, c.numWays)

	for w := s.head; w != none; w = s.blocks[w].next {
		order = append(order, w)
	}

	return order
}

func (c *Cache) moveToHead(setID, wayID int) {
	s := &c.sets[setID]
	if s.head == wayID {
		return
	}

	b := &s.blocks[wayID]

	// unlink
	s.blocks[b.prev].next = b.next
	if b.next != none {
		s.blocks[b.next].prev = b.prev
	} else {
		s.tail = b.prev
	}

	b.prev = none
	b.next = s.head
	s.blocks[s.head].prev = wayID
	s.head = wayID
}

func (c *Cache) block(setID, wayID int) *Block {
	c.mustHaveSet(setID)

	if wayID < 0 || wayID >= c.numWays {
		panic(fmt.Sprintf("cache %s: way %d out of range", c.name, wayID))
	}

	return &c.sets[setID].blocks[wayID]
}

func (c *Cache) mustHaveSet(setID int) {
	if setID < 0 || setID >= c.numSets {
		panic(fmt.Sprintf("cache %s: set %d out of range", c.name, setID))
	}
}
