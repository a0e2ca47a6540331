package derivation

import (
	"math"

	"ratiowatch/internal/config"
	"ratiowatch/internal/model"
)

// resolvePrice applies rule to the snapshot. A missing symbol yields NaN.
func resolvePrice(rule config.PriceRule, s model.Snapshot) float64 {
	switch rule.Mode {
	case config.ModeDirect:
		p, ok := s.Price(rule.Symbols[0])
		if !ok {
			return math.NaN()
		}
		return p
	case config.ModeAverage:
		var sum float64
		for _, symbol := range rule.Symbols {
			p, ok := s.Price(symbol)
			if !ok {
				return math.NaN()
			}
			sum += p
		}
		return sum / float64(len(rule.Symbols))
	default:
		return math.NaN()
	}
}

// ratio divides b by a, collapsing every degenerate case to NaN.
func ratio(a, b float64) float64 {
	if a == 0 || !isFinite(a) || !isFinite(b) {
		return math.NaN()
	}
	r := b / a
	if !isFinite(r) {
		return math.NaN()
	}
	return r
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
