package pricing

import (
	"math"
	"sort"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// uniqueSorted sorts values and drops near-duplicates.
func uniqueSorted(values []float64) []float64 {
	sort.Float64s(values)
	out := values[:0]
	for _, x := range values {
		if len(out) == 0 || x-out[len(out)-1] > 1e-12 {
			out = append(out, x)
		}
	}
	return out
}

func sortResponses(r []sim.MarketClassResponse) {
	sort.Slice(r, func(i, j int) bool { return r[i].MarketClassID < r[j].MarketClassID })
}
