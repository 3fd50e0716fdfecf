package pricegen

const (
	lcgMultiplier = 1103515245
	lcgIncrement  = 12345
	lcgModulus    = 1 << 31
	lcgMask       = lcgModulus - 1
)

// LCG is a linear congruential generator:
//
//	state = (state*1103515245 + 12345) mod 2^31
//
// Float64 returns state/2^31, a value in [0,1). It exists for reproducible
// histories, not for statistical or cryptographic quality.
type LCG struct {
	state uint64
}

// NewLCG seeds a generator. Only the low 31 bits of seed are used.
func NewLCG(seed int64) *LCG {
	return &LCG{state: uint64(seed) & lcgMask}
}

// Float64 advances the generator and returns the next sample.
func (g *LCG) Float64() float64 {
	g.state = (g.state*lcgMultiplier + lcgIncrement) & lcgMask
	return float64(g.state) / lcgModulus
}
