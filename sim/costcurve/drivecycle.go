package costcurve

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DriveCycleWeights is a share tree over drive cycles. Interior nodes are
// weighted sums of their children; leaves are drive cycles such as "ftp" or
// "hwfet". Evaluating the root over one quantity per leaf yields the cert value.
type DriveCycleWeights struct {
	Root     string
	children map[string][]weightedEdge
}

type weightedEdge struct {
	child  string
	weight float64
}

// NewDriveCycleWeights builds a tree from "{parent}->{child}" edge columns.
// Exactly one node may have no parent; it becomes the root.
func NewDriveCycleWeights(edges map[string]float64) (*DriveCycleWeights, error) {
	w := &DriveCycleWeights{children: make(map[string][]weightedEdge)}
	hasParent := make(map[string]bool)
	nodes := make(map[string]bool)
	keys := make([]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parent, child, ok := strings.Cut(k, "->")
		if !ok || parent == "" || child == "" {
			return nil, fmt.Errorf("drive cycle weight %q is not a {parent}->{child} edge", k)
		}
		if hasParent[child] {
			return nil, fmt.Errorf("drive cycle node %q has more than one parent", child)
		}
		hasParent[child] = true
		nodes[parent] = true
		nodes[child] = true
		w.children[parent] = append(w.children[parent], weightedEdge{child: child, weight: edges[k]})
	}
	var roots []string
	for n := range nodes {
		if !hasParent[n] {
			roots = append(roots, n)
		}
	}
	sort.Strings(roots)
	if len(roots) != 1 {
		return nil, fmt.Errorf("drive cycle weights must have exactly one root, found %v", roots)
	}
	w.Root = roots[0]
	for parent, edges := range w.children {
		total := 0.0
		for _, e := range edges {
			total += e.weight
		}
		if math.Abs(total-1) > 1e-6 {
			return nil, fmt.Errorf("drive cycle node %q child weights sum to %g, want 1", parent, total)
		}
	}
	return w, nil
}

// Leaves returns the drive-cycle leaf names in sorted order.
func (w *DriveCycleWeights) Leaves() []string {
	var out []string
	var walk func(string)
	walk = func(n string) {
		kids, ok := w.children[n]
		if !ok {
			out = append(out, n)
			return
		}
		for _, e := range kids {
			walk(e.child)
		}
	}
	walk(w.Root)
	sort.Strings(out)
	return out
}

// Evaluate computes the weighted root value. Every leaf must be present in values.
func (w *DriveCycleWeights) Evaluate(values map[string]float64) (float64, error) {
	return w.eval(w.Root, values)
}

func (w *DriveCycleWeights) eval(node string, values map[string]float64) (float64, error) {
	kids, ok := w.children[node]
	if !ok {
		v, found := values[node]
		if !found {
			return 0, fmt.Errorf("missing drive cycle result %q", node)
		}
		return v, nil
	}
	sum := 0.0
	for _, e := range kids {
		v, err := w.eval(e.child, values)
		if err != nil {
			return 0, err
		}
		sum += e.weight * v
	}
	return sum, nil
}

// SAE J2841 fleet utility factor coefficients, normalized distance 399 miles.
var j2841Coefficients = []float64{10.52, -7.282, -26.37, 79.08, -77.36, 26.07}

const j2841NormDistance = 399.0

// UtilityFactor returns the SAE J2841 fleet utility factor for a
// charge-depleting range in miles. The result is in [0, 1].
func UtilityFactor(rangeMiles float64) float64 {
	if rangeMiles <= 0 {
		return 0
	}
	d := math.Min(rangeMiles, j2841NormDistance) / j2841NormDistance
	exponent := 0.0
	pow := 1.0
	for _, c := range j2841Coefficients {
		pow *= d
		exponent += c * pow
	}
	uf := 1 - math.Exp(-exponent)
	return math.Max(0, math.Min(1, uf))
}

// ChargeDepletingRange returns the CD range in miles for a battery of
// batteryKWh consumed at cdKWhPMI.
func ChargeDepletingRange(batteryKWh, cdKWhPMI float64) float64 {
	if batteryKWh <= 0 || cdKWhPMI <= 0 {
		return 0
	}
	return batteryKWh / cdKWhPMI
}

// MeanCDKWhPMI is the mean charge-depleting kWh/mi across a PHEV cloud.
func (c Cloud) MeanCDKWhPMI() float64 {
	if len(c.PHEV) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range c.PHEV {
		sum += p.CDKWhPMI
	}
	return sum / float64(len(c.PHEV))
}
