package producer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// optionEpsilon merges option values closer than this.
const optionEpsilon = 1e-9

// Options are the producer search settings.
type Options struct {
	NumTechOptionsICE int
	NumTechOptionsBEV int
	NumShareOptions   int
	ConvergenceFactor float64
	MaxIterations     int
	Tolerance         float64
	MaxCandidates     int
}

// OptionsFrom extracts the producer settings from session options.
func OptionsFrom(o sim.SessionOptions) Options {
	return Options{
		NumTechOptionsICE: o.ProducerNumTechOptionsPerICEVehicle,
		NumTechOptionsBEV: o.ProducerNumTechOptionsPerBEVVehicle,
		NumShareOptions:   o.ProducerNumMarketShareOptions,
		ConvergenceFactor: o.ProducerConvergenceFactor,
		MaxIterations:     o.ProducerMaxIterations,
		Tolerance:         o.ProducerIterationTolerance,
		MaxCandidates:     o.ProducerMaxCandidates,
	}
}

// span returns n evenly spaced values over [lo, hi]; a single value when the
// interval is empty or n < 2.
func span(n int, lo, hi float64) []float64 {
	if n < 2 || hi-lo <= optionEpsilon {
		return []float64{lo}
	}
	out := make([]float64, n)
	floats.Span(out, lo, hi)
	return out
}

// uniqueSorted sorts values and drops near-duplicates.
func uniqueSorted(values []float64) []float64 {
	v := append([]float64(nil), values...)
	sort.Float64s(v)
	out := v[:0]
	for _, x := range v {
		if len(out) == 0 || x-out[len(out)-1] > optionEpsilon {
			out = append(out, x)
		}
	}
	return out
}

// techOptions returns candidate g/mi values for one composite. The first pass
// spans the whole curve; later passes span the frontier refined around center
// by the composite's refinement count, plus the bracket between the
// straddling candidates when both exist.
func techOptions(cv *sim.CompositeVehicle, n int, cf float64, center float64, haveCenter bool, bracket []float64) []float64 {
	lo, hi := cv.MinGPMI(), cv.MaxGPMI()
	if hi-lo <= optionEpsilon {
		return []float64{lo}
	}
	if n < 2 {
		n = 2
	}
	if !haveCenter || cv.TechOptionIteration == 0 {
		opts := span(n, lo, hi)
		if haveCenter {
			opts = append(opts, clamp(center, lo, hi))
		}
		return uniqueSorted(opts)
	}
	c := clamp(center, lo, hi)
	window := cv.Frontier().Refine(c, 0.5*math.Pow(cf, float64(cv.TechOptionIteration)))
	opts := span(n, window.MinGPMI(), window.MaxGPMI())
	opts = append(opts, c)
	if len(bracket) == 2 {
		a, b := clamp(bracket[0], lo, hi), clamp(bracket[1], lo, hi)
		opts = append(opts, span(n, math.Min(a, b), math.Max(a, b))...)
	}
	return uniqueSorted(opts)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

// parentShareSpace describes the choice of relative shares within one
// responsive parent.
type parentShareSpace struct {
	parentID    string
	parentShare float64 // absolute share of total sales
	leafIdx     []int   // indices into the search's sorted leaf list
	lo, hi      []float64
}

// relativeBounds converts absolute bounds and NO_ALT floors to shares of the
// parent. Leaves without composites are pinned to zero. Bounds are then
// widened until a partition exists.
func relativeBounds(parentShare float64, abs []sim.ShareBounds, floors []float64, supported []bool) (lo, hi []float64) {
	k := len(abs)
	lo = make([]float64, k)
	hi = make([]float64, k)
	for i := range abs {
		if !supported[i] {
			continue
		}
		if parentShare <= 0 {
			hi[i] = 1
			continue
		}
		lo[i] = clamp(math.Max(abs[i].Min, floors[i])/parentShare, 0, 1)
		hi[i] = clamp(abs[i].Max/parentShare, 0, 1)
		if hi[i] < lo[i] {
			hi[i] = lo[i]
		}
	}
	sumLo, sumHi := 0.0, 0.0
	for i := range lo {
		sumLo += lo[i]
		sumHi += hi[i]
	}
	if sumLo > 1 {
		for i := range lo {
			lo[i] /= sumLo
		}
	}
	if sumHi < 1 {
		for i := range hi {
			if supported[i] {
				hi[i] = 1
			}
		}
	}
	return lo, hi
}

// shareVectors enumerates relative share vectors for one parent. The first
// k−1 children step over a grid within their window and the last child takes
// the remainder; vectors violating the last child's bounds are dropped.
// Previous-best and straddle vectors are always included, first.
func shareVectors(space parentShareSpace, n int, window float64, centers [][]float64) [][]float64 {
	k := len(space.lo)
	if k == 1 {
		return [][]float64{{1}}
	}
	var out [][]float64
	seen := make(map[string]bool)
	add := func(v []float64) {
		key := vectorKey(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	for _, c := range centers {
		if len(c) == k && withinBounds(c, space.lo, space.hi) {
			add(append([]float64(nil), c...))
		}
	}
	// always-feasible fallback
	bounds := make([]sim.ShareBounds, k)
	equal := make([]float64, k)
	for i := range bounds {
		bounds[i] = sim.ShareBounds{Min: space.lo[i], Max: space.hi[i]}
		if space.hi[i] > 0 {
			equal[i] = 1
		}
	}
	fallback, _ := sim.ConstrainShares(equal, bounds)
	add(fallback)

	grids := make([][]float64, k-1)
	for i := 0; i < k-1; i++ {
		lo, hi := space.lo[i], space.hi[i]
		if len(centers) > 0 && window < 1 && len(centers[0]) == k {
			c := centers[0][i]
			lo, hi = math.Max(lo, c-window/2), math.Min(hi, c+window/2)
		}
		grids[i] = span(n, lo, hi)
	}
	idx := make([]int, k-1)
	for {
		v := make([]float64, k)
		rest := 1.0
		for i := 0; i < k-1; i++ {
			v[i] = grids[i][idx[i]]
			rest -= v[i]
		}
		last := k - 1
		if rest >= space.lo[last]-optionEpsilon && rest <= space.hi[last]+optionEpsilon {
			v[last] = clamp(rest, 0, 1)
			add(v)
		}
		// odometer increment
		j := 0
		for ; j < k-1; j++ {
			idx[j]++
			if idx[j] < len(grids[j]) {
				break
			}
			idx[j] = 0
		}
		if j == k-1 {
			break
		}
	}
	return out
}

func withinBounds(v, lo, hi []float64) bool {
	sum := 0.0
	for i := range v {
		if v[i] < lo[i]-optionEpsilon || v[i] > hi[i]+optionEpsilon {
			return false
		}
		sum += v[i]
	}
	return math.Abs(sum-1) <= sim.ShareTolerance
}

func vectorKey(v []float64) string {
	b := make([]byte, 0, len(v)*8)
	for _, x := range v {
		q := int64(math.Round(x * 1e9))
		for s := 0; s < 64; s += 8 {
			b = append(b, byte(q>>s))
		}
	}
	return string(b)
}

// thin keeps keep evenly spaced options, always including the first one.
func thin[T any](opts []T, keep int) []T {
	if keep >= len(opts) || keep < 1 {
		return opts
	}
	if keep == 1 {
		return opts[:1]
	}
	out := make([]T, 0, keep)
	step := float64(len(opts)-1) / float64(keep-1)
	last := -1
	for i := 0; i < keep; i++ {
		j := int(math.Round(float64(i) * step))
		if j != last {
			out = append(out, opts[j])
			last = j
		}
	}
	return out
}

// capCandidates thins the largest option sets until the cartesian product of
// all set sizes is at most max.
func capCandidates(sizes []int, max int) []int {
	out := append([]int(nil), sizes...)
	for product(out) > max {
		largest := -1
		for i, s := range out {
			if s > 1 && (largest < 0 || s > out[largest]) {
				largest = i
			}
		}
		if largest < 0 {
			break
		}
		out[largest]--
	}
	return out
}

func product(sizes []int) int {
	p := 1
	for _, s := range sizes {
		if s == 0 {
			return 0
		}
		if p > math.MaxInt32/s {
			return math.MaxInt32
		}
		p *= s
	}
	return p
}
