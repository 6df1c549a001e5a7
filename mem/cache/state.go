package cache

import (
	"fmt"
	"strings"
)

// BlockState is the NMOESI state of a cache block.
type BlockState int

// Block states.
const (
	Invalid BlockState = iota
	NonCoherent
	Modified
	Owned
	Exclusive
	Shared
)

var blockStateNames = []string{
	"I", "N", "M", "O", "E", "S",
}

var blockStateLongNames = []string{
	"invalid", "noncoherent", "modified", "owned", "exclusive", "shared",
}

func (s BlockState) String() string {
	if s < 0 || int(s) >= len(blockStateNames) {
		return fmt.Sprintf("BlockState(%d)", int(s))
	}

	return blockStateNames[s]
}

// IsValid returns true for every state other than Invalid.
func (s BlockState) IsValid() bool {
	return s != Invalid
}

// IsDirty returns true for the states that must be written back on
// eviction.
func (s BlockState) IsDirty() bool {
	return s == Modified || s == Owned || s == NonCoherent
}

// ParseBlockState accepts one-letter names ("M") and full names
// ("modified"), case-insensitive.
func ParseBlockState(s string) (BlockState, error) {
	str := strings.ToLower(strings.TrimSpace(s))

	for i := range blockStateNames {
		if str == strings.ToLower(blockStateNames[i]) ||
			str == blockStateLongNames[i] {
			return BlockState(i), nil
		}
	}

	return Invalid, fmt.Errorf("unknown block state %q", s)
}

// MarshalYAML writes the state as its one-letter name.
func (s BlockState) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Policy selects the replacement victim of a set.
type Policy int

// Replacement policies.
const (
	LRU Policy = iota
	FIFO
	Random
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "LRU"
	case FIFO:
		return "FIFO"
	case Random:
		return "Random"
	}

	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses "LRU", "FIFO", or "Random", case-insensitive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lru":
		return LRU, nil
	case "fifo":
		return FIFO, nil
	case "random":
		return Random, nil
	}

	return LRU, fmt.Errorf("unknown replacement policy %q", s)
}

// WritePolicy is recorded for reporting. The coherence protocol always
// behaves as write-back.
type WritePolicy int

// Write policies.
const (
	WriteBack WritePolicy = iota
	WriteThrough
)

func (p WritePolicy) String() string {
	if p == WriteThrough {
		return "WriteThrough"
	}

	return "WriteBack"
}

// ParseWritePolicy parses "WriteBack" or "WriteThrough", case-insensitive.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "writeback", "write-back":
		return WriteBack, nil
	case "writethrough", "write-through":
		return WriteThrough, nil
	}

	return WriteBack, fmt.Errorf("unknown write policy %q", s)
}
