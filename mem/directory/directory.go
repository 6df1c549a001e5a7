// Package directory tracks which upper-level modules share or own each
// sub-block of a module, and serializes the requests that touch a block
// through per-block locks.
package directory

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/memsim/sim/esim"
)

// NoOwner marks an entry that no upper-level module owns.
const NoOwner = -1

// Entry is the coherence record of one sub-block.
type Entry struct {
	Owner      int
	NumSharers int
	sharers    []uint64
}

type waiter struct {
	evt   *esim.EventType
	frame esim.Frame
}

// Lock guards all the sub-blocks of one (set, way).
type Lock struct {
	holder esim.Frame
	queue  []waiter
}

// Config is the geometry of a Directory.
type Config struct {
	NumSets      int
	NumWays      int
	NumSubBlocks int
	NumNodes     int
}

// Directory is the coherence directory of one module.
type Directory struct {
	name   string
	cfg    Config
	words  int
	engine *esim.Engine

	entries []Entry
	locks   []Lock

	numConflicts uint64
}

// New creates a Directory with every entry unowned and unshared. Waiting
// frames are woken through engine.
func New(name string, cfg Config, engine *esim.Engine) (*Directory, error) {
	if cfg.NumSets <= 0 || cfg.NumWays <= 0 || cfg.NumSubBlocks <= 0 {
		return nil, fmt.Errorf(
			"directory %s: invalid geometry %d sets x %d ways x %d sub-blocks",
			name, cfg.NumSets, cfg.NumWays, cfg.NumSubBlocks)
	}

	if cfg.NumNodes < 0 {
		return nil, fmt.Errorf("directory %s: negative number of nodes", name)
	}

	d := &Directory{
		name:   name,
		cfg:    cfg,
		words:  (cfg.NumNodes + 63) / 64,
		engine: engine,
	}

	numBlocks := cfg.NumSets * cfg.NumWays
	d.entries = make([]Entry, numBlocks*cfg.NumSubBlocks)
	d.locks = make([]Lock, numBlocks)

	bitmaps := make([]uint64, len(d.entries)*d.words)
	for i := range d.entries {
		d.entries[i] = Entry{
			Owner:   NoOwner,
			sharers: bitmaps[i*d.words : (i+1)*d.words : (i+1)*d.words],
		}
	}

	return d, nil
}

// Name returns the name of the directory.
func (d *Directory) Name() string { return d.name }

// Config returns the geometry.
func (d *Directory) Config() Config { return d.cfg }

// NumConflicts returns how many LockEntry and TryLockEntry calls found the
// lock held.
func (d *Directory) NumConflicts() uint64 { return d.numConflicts }

func (d *Directory) entry(set, way, sub int) *Entry {
	if set < 0 || set >= d.cfg.NumSets ||
		way < 0 || way >= d.cfg.NumWays ||
		sub < 0 || sub >= d.cfg.NumSubBlocks {
		panic(fmt.Sprintf("directory %s: entry (%d, %d, %d) out of range",
			d.name, set, way, sub))
	}

	return &d.entries[(set*d.cfg.NumWays+way)*d.cfg.NumSubBlocks+sub]
}

func (d *Directory) mustBeNode(node int) {
	if node < 0 || node >= d.cfg.NumNodes {
		panic(fmt.Sprintf("directory %s: node %d out of range", d.name, node))
	}
}

// Entry returns a copy of an entry.
func (d *Directory) Entry(set, way, sub int) Entry {
	e := d.entry(set, way, sub)

	return Entry{
		Owner:      e.Owner,
		NumSharers: e.NumSharers,
		sharers:    append([]uint64(nil), e.sharers...),
	}
}

// IsSharer reports whether node is a sharer of the entry.
func (e Entry) IsSharer(node int) bool {
	w, b := node/64, uint(node%64)
	if node < 0 || w >= len(e.sharers) {
		return false
	}

	return e.sharers[w]&(1<<b) != 0
}

// Sharers lists the sharer nodes in increasing order.
func (e Entry) Sharers() []int {
	nodes := make([]int, 0, e.NumSharers)

	for w, word := range e.sharers {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			nodes = append(nodes, w*64+b)
			word &^= 1 << uint(b)
		}
	}

	return nodes
}

// PopCount counts the bits set in the sharer bitmap.
func (e Entry) PopCount() int {
	n := 0
	for _, word := range e.sharers {
		n += bits.OnesCount64(word)
	}

	return n
}

// SetSharer adds node to the sharers of an entry. Adding an existing sharer
// does nothing.
func (d *Directory) SetSharer(set, way, sub, node int) {
	d.mustBeNode(node)

	e := d.entry(set, way, sub)
	w, b := node/64, uint(node%64)

	if e.sharers[w]&(1<<b) != 0 {
		return
	}

	e.sharers[w] |= 1 << b
	e.NumSharers++
}

// ClearSharer removes node from the sharers of an entry. Removing a node
// that is not a sharer does nothing.
func (d *Directory) ClearSharer(set, way, sub, node int) {
	d.mustBeNode(node)

	e := d.entry(set, way, sub)
	w, b := node/64, uint(node%64)

	if e.sharers[w]&(1<<b) == 0 {
		return
	}

	e.sharers[w] &^= 1 << b
	e.NumSharers--
}

// ClearAllSharers empties the sharer set of an entry.
func (d *Directory) ClearAllSharers(set, way, sub int) {
	e := d.entry(set, way, sub)

	for i := range e.sharers {
		e.sharers[i] = 0
	}

	e.NumSharers = 0
}

// SetOwner sets the owner of an entry. owner is a node or NoOwner.
func (d *Directory) SetOwner(set, way, sub, owner int) {
	if owner != NoOwner {
		d.mustBeNode(owner)
	}

	d.entry(set, way, sub).Owner = owner
}

// Owner returns the owner of an entry, or NoOwner.
func (d *Directory) Owner(set, way, sub int) int {
	return d.entry(set, way, sub).Owner
}

// NumSharers returns the number of sharers of an entry.
func (d *Directory) NumSharers(set, way, sub int) int {
	return d.entry(set, way, sub).NumSharers
}

// IsSharer reports whether node shares an entry.
func (d *Directory) IsSharer(set, way, sub, node int) bool {
	return d.entry(set, way, sub).IsSharer(node)
}

// IsBlockSharedOrOwned reports whether any sub-block of (set, way) has a
// sharer or an owner.
func (d *Directory) IsBlockSharedOrOwned(set, way int) bool {
	for sub := 0; sub < d.cfg.NumSubBlocks; sub++ {
		e := d.entry(set, way, sub)
		if e.NumSharers > 0 || e.Owner != NoOwner {
			return true
		}
	}

	return false
}
