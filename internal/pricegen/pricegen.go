// Package pricegen produces volatile synthetic price series without any
// external data source.
//
// Two generators share the same branch structure:
//   - BootstrapHistory replays a deterministic LCG stream keyed by a seed, so
//     the same (anchor, seed, length) always yields the same history.
//   - NextTick draws from an injected Rand, normally the process-wide source.
//
// Internal math is float64; every emitted price is rounded to whole cents and
// kept inside the anchor-relative bounds. Callers must pass anchor > 0.
package pricegen

import (
	"math"
	"math/rand/v2"
)

const (
	// BootstrapFloor and BootstrapCeiling bound history prices as multiples of the anchor.
	BootstrapFloor   = 0.15
	BootstrapCeiling = 5.0

	// TickFloor and TickCeiling bound live prices as multiples of the anchor.
	TickFloor   = 0.1
	TickCeiling = 8.0

	// DefaultHistoryLength is the number of bootstrap points per instrument.
	DefaultHistoryLength = 100
)

// Rand is the uniform [0,1) source used by the generators.
// *rand.Rand and *LCG both satisfy it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Global is the process-wide, concurrency-safe random source.
var Global Rand = globalRand{}

// BootstrapHistory generates length prices for an instrument anchored at
// anchor. The walk starts within ±15% of the anchor and carries unrounded
// state between steps; only the appended points are rounded.
func BootstrapHistory(anchor float64, seed int64, length int) []float64 {
	rng := NewLCG(seed)
	lo, hi := anchor*BootstrapFloor, anchor*BootstrapCeiling

	history := make([]float64, 0, length)
	price := anchor * (0.85 + rng.Float64()*0.3)

	for i := 0; i < length; i++ {
		r := rng.Float64()
		switch {
		case r > 0.92:
			// spike up, +8%..+33%
			price *= 1 + (rng.Float64()*0.25 + 0.08)
		case r > 0.84:
			// crash, -6%..-26%
			price *= 1 - (rng.Float64()*0.2 + 0.06)
		case r > 0.75:
			price *= 1 + direction(rng)*(rng.Float64()*0.06+0.02)
		default:
			price *= 1 + (rng.Float64()-0.48)*0.03
		}

		price = clamp(price, lo, hi)
		history = append(history, roundWithin(price, lo, hi))
	}
	return history
}

// NextTick returns the price following current for an instrument anchored
// at anchor.
func NextTick(current, anchor float64, rng Rand) float64 {
	price := current
	r := rng.Float64()

	switch {
	case r > 0.965:
		// mega spike, +5%..+23%
		price *= 1 + (rng.Float64()*0.18 + 0.05)
	case r > 0.93:
		// mega crash, -4%..-19%
		price *= 1 - (rng.Float64()*0.15 + 0.04)
	case r > 0.88:
		price *= 1 + direction(rng)*(rng.Float64()*0.05+0.015)
	case r > 0.78:
		price *= 1 + direction(rng)*(rng.Float64()*0.025+0.005)
	default:
		price *= 1 + (rng.Float64()-0.49)*0.015
	}

	lo, hi := anchor*TickFloor, anchor*TickCeiling
	return roundWithin(clamp(price, lo, hi), lo, hi)
}

// Round2 rounds to whole cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func direction(rng Rand) float64 {
	if rng.Float64() > 0.5 {
		return 1
	}
	return -1
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// roundWithin rounds to cents; a result that rounding pushed outside
// [lo, hi] snaps to the nearest whole cent inside.
func roundWithin(v, lo, hi float64) float64 {
	r := Round2(v)
	if r < lo {
		r = math.Ceil(lo*100-1e-9) / 100
	}
	if r > hi {
		r = math.Floor(hi*100+1e-9) / 100
	}
	return r
}
