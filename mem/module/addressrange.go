package module

import "fmt"

// RangeKind tells how an AddressRange is matched.
type RangeKind int

// Range kinds.
const (
	RangeBounds RangeKind = iota
	RangeInterleaved
)

// AddressRange is the set of addresses a module serves. A bounds range
// covers [Low, High]. An interleaved range covers the addresses with
// (addr / Div) % Mod == Eq.
type AddressRange struct {
	Kind RangeKind

	Low, High uint64

	Div, Mod, Eq uint64
}

// BoundsRange creates a range covering [low, high].
func BoundsRange(low, high uint64) AddressRange {
	return AddressRange{Kind: RangeBounds, Low: low, High: high}
}

// FullRange creates a range covering every address.
func FullRange() AddressRange {
	return BoundsRange(0, ^uint64(0))
}

// InterleavedRange creates a range of the addresses with
// (addr / div) % mod == eq.
func InterleavedRange(div, mod, eq uint64) AddressRange {
	return AddressRange{Kind: RangeInterleaved, Div: div, Mod: mod, Eq: eq}
}

// Validate checks that the range is well formed.
func (r AddressRange) Validate() error {
	switch r.Kind {
	case RangeBounds:
		if r.Low > r.High {
			return fmt.Errorf("range low %#x is above high %#x", r.Low, r.High)
		}
	case RangeInterleaved:
		if r.Div == 0 || r.Mod == 0 {
			return fmt.Errorf("interleaved range needs non-zero div and mod")
		}

		if r.Eq >= r.Mod {
			return fmt.Errorf("interleaved range eq %d must be below mod %d",
				r.Eq, r.Mod)
		}
	default:
		return fmt.Errorf("unknown range kind %d", r.Kind)
	}

	return nil
}

// Contains reports whether addr is in the range.
func (r AddressRange) Contains(addr uint64) bool {
	if r.Kind == RangeInterleaved {
		return (addr/r.Div)%r.Mod == r.Eq
	}

	return addr >= r.Low && addr <= r.High
}

func (r AddressRange) String() string {
	if r.Kind == RangeInterleaved {
		return fmt.Sprintf("ADDR DIV %d MOD %d EQ %d", r.Div, r.Mod, r.Eq)
	}

	return fmt.Sprintf("BOUNDS %#x %#x", r.Low, r.High)
}
