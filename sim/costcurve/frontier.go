// Package costcurve holds technology cost clouds and the cost/efficiency
// frontiers derived from them.
//
// A cloud is the finite set of attainable technology packages for one
// cost-curve class and model year. The frontier is its lower-left envelope in
// (CO2e g/mi, $) space: cost strictly decreases as g/mi increases, so no
// dominated package is retained. This package has no dependencies on sim/.
package costcurve

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

var (
	// ErrEmptyCloud is returned when a frontier is requested from no points.
	ErrEmptyCloud = errors.New("empty cost cloud")
	// ErrMissingCostCurve is returned when a cost-curve class has no cloud
	// for the requested model year.
	ErrMissingCostCurve = errors.New("missing cost curve")
)

// gpmiEpsilon is the g/mi distance under which two operating points are the same.
const gpmiEpsilon = 1e-9

// Point is one technology package: its CO2e rate, electric consumption and cost.
type Point struct {
	CO2eGPMI float64 // CO2e grams per mile
	KWhPMI   float64 // kWh per mile, 0 for pure ICE
	Cost     float64 // manufacturing cost, dollars
}

// Frontier is an ordered sequence of points in increasing g/mi with
// piecewise-linear interpolation between them.
// Frontiers are immutable once built.
type Frontier struct {
	points []Point
	cost   *interp.PiecewiseLinear
	kwh    *interp.PiecewiseLinear
}

// NewFrontier builds the lower-left convex hull of cloud.
// Points sharing a g/mi keep only the cheapest. The hull is truncated at its
// minimum-cost point so cost strictly decreases with increasing g/mi.
func NewFrontier(cloud []Point) (*Frontier, error) {
	if len(cloud) == 0 {
		return nil, ErrEmptyCloud
	}
	pts := make([]Point, len(cloud))
	copy(pts, cloud)
	for _, p := range pts {
		if math.IsNaN(p.CO2eGPMI) || math.IsNaN(p.Cost) || math.IsNaN(p.KWhPMI) {
			return nil, fmt.Errorf("cost cloud point has NaN value: %+v", p)
		}
	}
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].CO2eGPMI != pts[j].CO2eGPMI {
			return pts[i].CO2eGPMI < pts[j].CO2eGPMI
		}
		if pts[i].Cost != pts[j].Cost {
			return pts[i].Cost < pts[j].Cost
		}
		return pts[i].KWhPMI < pts[j].KWhPMI
	})

	uniq := pts[:1]
	for _, p := range pts[1:] {
		if p.CO2eGPMI-uniq[len(uniq)-1].CO2eGPMI > gpmiEpsilon {
			uniq = append(uniq, p)
		}
	}

	// Andrew's monotone chain, lower half only.
	hull := make([]Point, 0, len(uniq))
	for _, p := range uniq {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	minIdx := 0
	for i := range hull {
		if hull[i].Cost < hull[minIdx].Cost {
			minIdx = i
		}
	}
	return newFrontier(hull[:minIdx+1])
}

// FromSamples builds a frontier from points that are already an ordered
// curve, such as the sales-weighted samples of a composite vehicle. Points
// are sorted by g/mi and coincident g/mi values collapse to the first one;
// no hull is taken.
func FromSamples(samples []Point) (*Frontier, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyCloud
	}
	pts := make([]Point, len(samples))
	copy(pts, samples)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].CO2eGPMI < pts[j].CO2eGPMI })
	uniq := pts[:1]
	for _, p := range pts[1:] {
		if p.CO2eGPMI-uniq[len(uniq)-1].CO2eGPMI > gpmiEpsilon {
			uniq = append(uniq, p)
		}
	}
	return newFrontier(uniq)
}

// SinglePoint returns a degenerate frontier holding exactly p.
func SinglePoint(p Point) *Frontier {
	f, _ := newFrontier([]Point{p})
	return f
}

func newFrontier(points []Point) (*Frontier, error) {
	f := &Frontier{points: append([]Point(nil), points...)}
	if len(points) < 2 {
		return f, nil
	}
	xs := make([]float64, len(points))
	costs := make([]float64, len(points))
	kwhs := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.CO2eGPMI
		costs[i] = p.Cost
		kwhs[i] = p.KWhPMI
	}
	f.cost = &interp.PiecewiseLinear{}
	if err := f.cost.Fit(xs, costs); err != nil {
		return nil, fmt.Errorf("fitting frontier cost: %w", err)
	}
	f.kwh = &interp.PiecewiseLinear{}
	if err := f.kwh.Fit(xs, kwhs); err != nil {
		return nil, fmt.Errorf("fitting frontier kWh: %w", err)
	}
	return f, nil
}

// cross is the z component of (a-o) x (b-o) in (g/mi, cost) space.
func cross(o, a, b Point) float64 {
	return (a.CO2eGPMI-o.CO2eGPMI)*(b.Cost-o.Cost) - (a.Cost-o.Cost)*(b.CO2eGPMI-o.CO2eGPMI)
}

// Points returns a copy of the frontier points in increasing g/mi.
func (f *Frontier) Points() []Point {
	return append([]Point(nil), f.points...)
}

// Len returns the number of frontier points.
func (f *Frontier) Len() int { return len(f.points) }

// MinGPMI returns the lowest attainable g/mi (the most expensive package).
func (f *Frontier) MinGPMI() float64 { return f.points[0].CO2eGPMI }

// MaxGPMI returns the highest g/mi on the frontier (the cheapest package).
func (f *Frontier) MaxGPMI() float64 { return f.points[len(f.points)-1].CO2eGPMI }

// Clamp limits g to the frontier range and reports whether it was outside.
func (f *Frontier) Clamp(g float64) (float64, bool) {
	lo, hi := f.MinGPMI(), f.MaxGPMI()
	switch {
	case g < lo-gpmiEpsilon:
		return lo, true
	case g > hi+gpmiEpsilon:
		return hi, true
	case g < lo:
		return lo, false
	case g > hi:
		return hi, false
	}
	return g, false
}

// CostAt interpolates cost at g. Out-of-range queries clamp to the nearest
// endpoint and report saturated=true.
func (f *Frontier) CostAt(g float64) (cost float64, saturated bool) {
	g, saturated = f.Clamp(g)
	if f.cost == nil {
		return f.points[0].Cost, saturated
	}
	return f.cost.Predict(g), saturated
}

// KWhAt interpolates kWh/mi at g with the same clamping as CostAt.
func (f *Frontier) KWhAt(g float64) (kwh float64, saturated bool) {
	g, saturated = f.Clamp(g)
	if f.kwh == nil {
		return f.points[0].KWhPMI, saturated
	}
	return f.kwh.Predict(g), saturated
}

// PointAt returns the interpolated frontier point at g.
func (f *Frontier) PointAt(g float64) (Point, bool) {
	cg, saturated := f.Clamp(g)
	cost, _ := f.CostAt(cg)
	kwh, _ := f.KWhAt(cg)
	return Point{CO2eGPMI: cg, KWhPMI: kwh, Cost: cost}, saturated
}

// GeneralizedCostAt returns the cost at g plus the fuel, policy and
// footprint terms described by p.
func (f *Frontier) GeneralizedCostAt(g float64, p GeneralizedCostParams) (float64, bool) {
	pt, saturated := f.PointAt(g)
	return p.GeneralizedCost(pt.Cost, pt.CO2eGPMI, pt.KWhPMI), saturated
}

// Refine returns the sub-frontier within ±spanFraction of the full g/mi range
// around current. Interior points are kept and the window ends are
// interpolated, so the result is a restartable frontier over a smaller range.
func (f *Frontier) Refine(current, spanFraction float64) *Frontier {
	if f.Len() == 1 {
		return f
	}
	width := (f.MaxGPMI() - f.MinGPMI()) * math.Abs(spanFraction)
	c, _ := f.Clamp(current)
	return f.window(c-width, c+width)
}

// Truncate returns the part of the frontier at or below maxGPMI. If maxGPMI
// lies below the frontier the result is the single minimum-g/mi point.
func (f *Frontier) Truncate(maxGPMI float64) *Frontier {
	if maxGPMI >= f.MaxGPMI() {
		return f
	}
	return f.window(f.MinGPMI(), maxGPMI)
}

func (f *Frontier) window(lo, hi float64) *Frontier {
	lo, _ = f.Clamp(lo)
	hi, _ = f.Clamp(hi)
	if hi-lo <= gpmiEpsilon {
		p, _ := f.PointAt(lo)
		return SinglePoint(p)
	}
	start, _ := f.PointAt(lo)
	end, _ := f.PointAt(hi)
	pts := []Point{start}
	for _, p := range f.points {
		if p.CO2eGPMI > lo+gpmiEpsilon && p.CO2eGPMI < hi-gpmiEpsilon {
			pts = append(pts, p)
		}
	}
	pts = append(pts, end)
	sub, err := newFrontier(pts)
	if err != nil {
		// Points come from a valid frontier in increasing order; Fit cannot fail.
		panic(fmt.Sprintf("refining frontier: %v", err))
	}
	return sub
}
