// Package pricing computes request cost from profile rates. Missing rates
// mean cost 0, never a negative or absent value.
package pricing

import (
	"math"

	"github.com/pborenstein/apantli/internal/config"
)

const tokensPerMillion = 1_000_000.0

// Cost returns the dollar cost of a request given its token counts and the
// profile's per-million rates. The result is always finite and >= 0.
func Cost(profile *config.ModelProfile, promptTokens, completionTokens int64) float64 {
	if profile == nil {
		return 0
	}
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	cost := float64(promptTokens)/tokensPerMillion*profile.InputCostPerMTok +
		float64(completionTokens)/tokensPerMillion*profile.OutputCostPerMTok
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return 0
	}
	return cost
}
