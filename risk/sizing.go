package risk

import "math"

// ATRNormalisedSize sizes a position so that a stop atrRiskMult ATRs away
// risks riskPerTrade, clamped to [minSize, maxSize]. A non-positive stop
// distance yields minSize.
func ATRNormalisedSize(riskPerTrade, atr, atrRiskMult, minSize, maxSize float64) float64 {
	denom := atr * atrRiskMult
	if denom <= 0 {
		return minSize
	}
	return math.Max(minSize, math.Min(maxSize, riskPerTrade/denom))
}
