package costcurve

import (
	"fmt"
	"sort"
	"strings"
)

// Cloud is the set of technology packages for one cost-curve class, valid
// from ModelYear until the next cloud of the same class.
type Cloud struct {
	Class     string
	ModelYear int
	Points    []Point
	PHEV      []PHEVPoint // charge-depleting/charge-sustaining packages, PHEV classes only
}

// PHEVPoint is a plug-in hybrid package before utility-factor weighting.
type PHEVPoint struct {
	CDCO2eGPMI float64 // charge-depleting tailpipe g/mi
	CDKWhPMI   float64 // charge-depleting kWh/mi
	CSCO2eGPMI float64 // charge-sustaining tailpipe g/mi
	Cost       float64
}

// Weighted collapses the package into a single point using utility factor uf,
// the fraction of miles driven in charge-depleting mode.
func (p PHEVPoint) Weighted(uf float64) Point {
	return Point{
		CO2eGPMI: uf*p.CDCO2eGPMI + (1-uf)*p.CSCO2eGPMI,
		KWhPMI:   uf * p.CDKWhPMI,
		Cost:     p.Cost,
	}
}

// Library holds every cost cloud of a session, keyed by cost-curve class.
// It is read-only after construction.
type Library struct {
	byClass map[string][]Cloud
}

// NewLibrary indexes clouds by class, sorted by model year.
// Two clouds with the same class and model year are rejected.
func NewLibrary(clouds []Cloud) (*Library, error) {
	lib := &Library{byClass: make(map[string][]Cloud)}
	for _, c := range clouds {
		if len(c.Points) == 0 && len(c.PHEV) == 0 {
			return nil, fmt.Errorf("cost curve class %q model year %d: %w", c.Class, c.ModelYear, ErrEmptyCloud)
		}
		lib.byClass[c.Class] = append(lib.byClass[c.Class], c)
	}
	for class, cs := range lib.byClass {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].ModelYear < cs[j].ModelYear })
		for i := 1; i < len(cs); i++ {
			if cs[i].ModelYear == cs[i-1].ModelYear {
				return nil, fmt.Errorf("cost curve class %q has duplicate model year %d", class, cs[i].ModelYear)
			}
		}
	}
	return lib, nil
}

// Cloud returns the cloud for class with the greatest model year not after year.
func (l *Library) Cloud(class string, year int) (Cloud, error) {
	cs, ok := l.byClass[class]
	if !ok {
		return Cloud{}, fmt.Errorf("cost curve class %q: %w", class, ErrMissingCostCurve)
	}
	i := sort.Search(len(cs), func(i int) bool { return cs[i].ModelYear > year })
	if i == 0 {
		return Cloud{}, fmt.Errorf("cost curve class %q has no cloud for model year %d: %w", class, year, ErrMissingCostCurve)
	}
	return cs[i-1], nil
}

// Frontier returns the frontier of the cloud selected by Cloud.
// PHEV clouds are weighted with utility factor uf before the hull is taken;
// uf is ignored for other clouds.
func (l *Library) Frontier(class string, year int, uf float64) (*Frontier, error) {
	c, err := l.Cloud(class, year)
	if err != nil {
		return nil, err
	}
	pts := c.Points
	if len(c.PHEV) > 0 {
		pts = make([]Point, 0, len(c.PHEV))
		for _, p := range c.PHEV {
			pts = append(pts, p.Weighted(uf))
		}
	}
	f, err := NewFrontier(pts)
	if err != nil {
		return nil, fmt.Errorf("cost curve class %q model year %d: %w", class, c.ModelYear, err)
	}
	return f, nil
}

// IsPHEV reports whether the selected cloud for class carries CD/CS packages.
func (l *Library) IsPHEV(class string, year int) bool {
	c, err := l.Cloud(class, year)
	return err == nil && len(c.PHEV) > 0
}

// Classes returns the known cost-curve classes in sorted order.
func (l *Library) Classes() []string {
	out := make([]string, 0, len(l.byClass))
	for c := range l.byClass {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// OffCycleCredit lowers a point's cert g/mi or kWh/mi by a credit value.
type OffCycleCredit struct {
	Name        string
	Group       string
	Destination string // column the credit applies to, e.g. co2e_grams_per_mile
	Value       float64
}

// ApplyOffCycle subtracts off-cycle credits from p. Within a credit group only
// the largest credit counts; groups are additive. Results never go negative.
func ApplyOffCycle(p Point, credits []OffCycleCredit) Point {
	gpmi, kwh := bestByGroup(credits)
	p.CO2eGPMI -= gpmi
	if p.CO2eGPMI < 0 {
		p.CO2eGPMI = 0
	}
	p.KWhPMI -= kwh
	if p.KWhPMI < 0 {
		p.KWhPMI = 0
	}
	return p
}

func bestByGroup(credits []OffCycleCredit) (gpmi, kwh float64) {
	type key struct{ group, dest string }
	best := make(map[key]float64)
	var order []key
	for _, c := range credits {
		k := key{c.Group, destinationKind(c.Destination)}
		if k.dest == "" {
			continue
		}
		v, seen := best[k]
		if !seen {
			order = append(order, k)
		}
		if !seen || c.Value > v {
			best[k] = c.Value
		}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].group != order[j].group {
			return order[i].group < order[j].group
		}
		return order[i].dest < order[j].dest
	})
	for _, k := range order {
		switch k.dest {
		case "gpmi":
			gpmi += best[k]
		case "kwh":
			kwh += best[k]
		}
	}
	return gpmi, kwh
}

func destinationKind(dest string) string {
	switch {
	case strings.HasSuffix(dest, "co2e_grams_per_mile"):
		return "gpmi"
	case strings.HasSuffix(dest, "kwh_per_mile"):
		return "kwh"
	}
	return ""
}
