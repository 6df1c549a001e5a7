package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sarchlab/memsim/mem/module"
)

// ParseRange parses an address range written as "BOUNDS <low> <high>" or
// "ADDR DIV <div> MOD <mod> EQ <eq>". Keywords are case-insensitive and
// numbers may be decimal, hexadecimal (0x), or octal (0).
func ParseRange(s string) (module.AddressRange, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return module.FullRange(), nil
	}

	var (
		r   module.AddressRange
		err error
	)

	switch strings.ToUpper(fields[0]) {
	case "BOUNDS":
		r, err = parseBounds(fields[1:])
	case "ADDR":
		r, err = parseInterleaved(fields[1:])
	default:
		err = fmt.Errorf("expected BOUNDS or ADDR, got %q", fields[0])
	}

	if err != nil {
		return module.AddressRange{}, fmt.Errorf("invalid range %q: %w", s, err)
	}

	if err := r.Validate(); err != nil {
		return module.AddressRange{}, fmt.Errorf("invalid range %q: %w", s, err)
	}

	return r, nil
}

func parseBounds(fields []string) (module.AddressRange, error) {
	if len(fields) != 2 {
		return module.AddressRange{}, fmt.Errorf("BOUNDS takes 2 numbers")
	}

	low, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return module.AddressRange{}, err
	}

	high, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return module.AddressRange{}, err
	}

	return module.BoundsRange(low, high), nil
}

func parseInterleaved(fields []string) (module.AddressRange, error) {
	keys := []string{"DIV", "MOD", "EQ"}
	if len(fields) != 2*len(keys) {
		return module.AddressRange{}, fmt.Errorf("expected DIV <n> MOD <n> EQ <n>")
	}

	var values [3]uint64

	for i, key := range keys {
		if !strings.EqualFold(fields[2*i], key) {
			return module.AddressRange{},
				fmt.Errorf("expected %s, got %q", key, fields[2*i])
		}

		v, err := strconv.ParseUint(fields[2*i+1], 0, 64)
		if err != nil {
			return module.AddressRange{}, err
		}

		values[i] = v
	}

	return module.InterleavedRange(values[0], values[1], values[2]), nil
}
