package sim

import "math"

// ShareTolerance is the slack allowed when checking that shares sum to one.
const ShareTolerance = 1e-6

// ShareBounds bounds one child's share of its parent.
type ShareBounds struct {
	Min float64
	Max float64
}

// Unbounded allows any share.
var Unbounded = ShareBounds{Min: 0, Max: 1}

// FeasibleBounds adjusts bounds so a partition summing to one exists.
// Minimums summing past one are scaled down to one; maximums summing
// below one are raised proportionally to their headroom.
func FeasibleBounds(bounds []ShareBounds) []ShareBounds {
	out := make([]ShareBounds, len(bounds))
	sumMin, sumMax := 0.0, 0.0
	for i, b := range bounds {
		b.Min = math.Max(0, math.Min(1, b.Min))
		b.Max = math.Max(b.Min, math.Min(1, b.Max))
		out[i] = b
		sumMin += b.Min
		sumMax += b.Max
	}
	if sumMin > 1 {
		for i := range out {
			out[i].Min /= sumMin
			out[i].Max = math.Max(out[i].Max, out[i].Min)
		}
		return out
	}
	if sumMax < 1 {
		deficit := 1 - sumMax
		headroom := 0.0
		for _, b := range out {
			headroom += 1 - b.Max
		}
		for i := range out {
			if headroom > 0 {
				out[i].Max += deficit * (1 - out[i].Max) / headroom
			} else {
				out[i].Max = 1
			}
		}
	}
	return out
}

// ConstrainShares clips shares to bounds and redistributes the excess or
// shortfall over the unclipped children in proportion to their shares.
// The result sums to one when the bounds are feasible. clipped marks the
// children held at a bound; children that only absorbed redistribution are
// not marked.
func ConstrainShares(shares []float64, bounds []ShareBounds) (out []float64, clipped []bool) {
	n := len(shares)
	out = make([]float64, n)
	fixed := make([]bool, n)
	for pass := 0; pass <= n; pass++ {
		fixedSum, freeSum, freeCount := 0.0, 0.0, 0
		for i := range shares {
			if fixed[i] {
				fixedSum += out[i]
			} else {
				freeSum += math.Max(0, shares[i])
				freeCount++
			}
		}
		if freeCount == 0 {
			break
		}
		remaining := 1 - fixedSum
		for i := range shares {
			if fixed[i] {
				continue
			}
			if freeSum > 0 {
				out[i] = remaining * math.Max(0, shares[i]) / freeSum
			} else {
				out[i] = remaining / float64(freeCount)
			}
		}
		changed := false
		for i := range shares {
			if fixed[i] {
				continue
			}
			switch {
			case out[i] < bounds[i].Min-ShareTolerance*ShareTolerance:
				out[i] = bounds[i].Min
				fixed[i], changed = true, true
			case out[i] > bounds[i].Max+ShareTolerance*ShareTolerance:
				out[i] = bounds[i].Max
				fixed[i], changed = true, true
			}
		}
		if !changed {
			break
		}
	}
	return out, fixed
}

// SumsToOne reports whether shares sum to one within ShareTolerance.
func SumsToOne(shares []float64) bool {
	sum := 0.0
	for _, s := range shares {
		sum += s
	}
	return math.Abs(sum-1) <= ShareTolerance
}
