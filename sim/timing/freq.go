package timing

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
)

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// ParseFreq parses strings like "1GHz", "800 MHz", or "1e9".
func ParseFreq(s string) (Freq, error) {
	str := strings.TrimSpace(s)

	units := []struct {
		suffix string
		unit   Freq
	}{
		{"GHz", GHz},
		{"MHz", MHz},
		{"KHz", KHz},
		{"kHz", KHz},
		{"Hz", Hz},
	}

	unit := Hz
	for _, u := range units {
		if strings.HasSuffix(str, u.suffix) {
			unit = u.unit
			str = strings.TrimSpace(strings.TrimSuffix(str, u.suffix))

			break
		}
	}

	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}

	if v <= 0 {
		return 0, fmt.Errorf("invalid frequency %q: must be positive", s)
	}

	return Freq(v) * unit, nil
}

// Period returns the time between two consecutive ticks
func (f Freq) Period() VTimeInSec {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return VTimeInSec(1.0 / f)
}

// Cycle converts a time to the number of cycles passed since time 0.
func (f Freq) Cycle(time VTimeInSec) uint64 {
	return uint64(math.Round(float64(time) * float64(f)))
}

// CycleTime returns the time of cycle n.
func (f Freq) CycleTime(n uint64) VTimeInSec {
	if f == 0 {
		log.Panic("frequency cannot be 0")
	}

	return VTimeInSec(float64(n) / float64(f))
}

// ThisTick returns the current tick time
//
//	           Input
//	           (          ]
//	|----------|----------|----------|----->
//	                      |
//	                      Output
func (f Freq) ThisTick(now VTimeInSec) VTimeInSec {
	if math.IsNaN(now) {
		log.Panic("invalid time")
	}

	count := math.Ceil(math.Round(now*10*float64(f)) / 10)

	return VTimeInSec(count / float64(f))
}

// NextTick returns the next tick time.
//
//	           Input
//	           [          )
//	|----------|----------|----------|----->
//	                      |
//	                      Output
func (f Freq) NextTick(now VTimeInSec) VTimeInSec {
	if math.IsNaN(now) {
		log.Panic("invalid time")
	}

	count := math.Floor(math.Round(now*10*float64(f)) / 10)

	return VTimeInSec((count + 1) / float64(f))
}

// NCyclesLater returns the time after N cycles. The result is always on a
// cycle boundary.
func (f Freq) NCyclesLater(n int, now VTimeInSec) VTimeInSec {
	if math.IsNaN(now) {
		log.Panic("invalid time")
	}

	return f.ThisTick(now + VTimeInSec(float64(n)/float64(f)))
}
