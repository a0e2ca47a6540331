package derivation

import (
	"math"

	"ratiowatch/internal/config"
)

// accumulator holds the running sum and count of finite ratios of rows already emitted.
type accumulator struct {
	sum   float64
	count int
}

func (a *accumulator) add(r float64) {
	if !isFinite(r) {
		return
	}
	a.sum += r
	a.count++
}

func (a *accumulator) mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

// bounds returns the band for the next row given the history so far.
// The rolling policy has no band until at least one finite ratio was seen.
func bounds(cfg config.BoundsConfig, acc *accumulator) (upper, lower float64) {
	if cfg.Policy == config.PolicyFixed {
		return cfg.Upper, cfg.Lower
	}
	mean := acc.mean()
	return mean * cfg.UpperFactor, mean * cfg.LowerFactor
}
