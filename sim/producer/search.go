// Package producer searches technology and market share options for a
// manufacturer so its certified CO2e brackets its target at least cost.
package producer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// FuelPrices are the retail prices seen by a market class.
type FuelPrices struct {
	Liquid      float64
	Electricity float64
}

// GeneralizedCostFunc prices one unit of a composite at g/mi gpmi.
type GeneralizedCostFunc func(cv *sim.CompositeVehicle, cost, gpmi, kwh float64) float64

// SearchInput is everything the search needs for one manufacturer-year.
type SearchInput struct {
	ManufacturerID string
	Year           int
	OuterIteration int

	// Composites are the manufacturer's optimization units.
	Composites []*sim.CompositeVehicle
	Tree       *sim.MarketTree
	TotalSales float64
	// ParentShares is the absolute share of each responsive parent.
	ParentShares map[string]float64
	// Bounds are absolute per-market-class share bounds (production
	// constraints and required shares). Missing classes are unbounded.
	Bounds map[string]sim.ShareBounds
	// NoAltFloor is the absolute share committed by vehicles not up for redesign.
	NoAltFloor        map[string]float64
	StrategicOffsetMg float64
	// ConsumerShares, when set, fixes absolute shares; only technology varies.
	ConsumerShares map[string]float64
	// PreviousShares centers the share search and measures share shift.
	PreviousShares map[string]float64
	FuelPrices     map[string]FuelPrices
	// GeneralizedCost defaults to the manufacturing cost when nil.
	GeneralizedCost GeneralizedCostFunc

	Options Options
	Trace   *trace.SimulationTrace
}

// SearchResult is the outcome of one producer search.
type SearchResult struct {
	Best *sim.ProducerDecision
	// Compliant reports whether any compliant candidate was found.
	Compliant bool
	// CompliantPick and NonCompliantPick are the straddling candidates of the
	// final iteration; either may be nil.
	CompliantPick    *sim.ProducerDecision
	NonCompliantPick *sim.ProducerDecision
	Iterations       int
	Converged        bool
}

type candidate struct {
	tech     []float64 // g/mi per composite, in composite order
	abs      []float64 // absolute share per leaf, in leaf order
	decision *sim.ProducerDecision
}

type searcher struct {
	in         SearchInput
	composites []*sim.CompositeVehicle
	leaves     []string
	leafIndex  map[string]int
	byLeaf     [][]int // composite indices per leaf
	spaces     []parentShareSpace
	prevAbs    []float64
}

// Search runs the iterative technology and share search. It always returns a
// best-effort candidate; compliance that cannot be reached is reported via
// SearchResult.Compliant rather than an error.
func Search(in SearchInput) (*SearchResult, error) {
	if len(in.Composites) == 0 {
		return nil, errors.New("producer search needs at least one composite vehicle")
	}
	if in.Tree == nil {
		return nil, errors.New("producer search needs a market tree")
	}
	s := newSearcher(in)
	for _, cv := range s.composites {
		if cv.Frontier() == nil {
			return nil, fmt.Errorf("composite %s: %w", cv.ID, sim.ErrMissingCostCurve)
		}
		if _, ok := s.leafIndex[cv.MarketClassID]; !ok {
			return nil, fmt.Errorf("composite %s has unknown market class %q", cv.ID, cv.MarketClassID)
		}
	}
	return s.run(), nil
}

func newSearcher(in SearchInput) *searcher {
	s := &searcher{in: in, leafIndex: make(map[string]int)}
	s.composites = append([]*sim.CompositeVehicle(nil), in.Composites...)
	sort.Slice(s.composites, func(i, j int) bool { return s.composites[i].ID < s.composites[j].ID })
	s.leaves = in.Tree.LeafIDs()
	for i, id := range s.leaves {
		s.leafIndex[id] = i
	}
	s.byLeaf = make([][]int, len(s.leaves))
	for i, cv := range s.composites {
		li, ok := s.leafIndex[cv.MarketClassID]
		if ok {
			s.byLeaf[li] = append(s.byLeaf[li], i)
		}
	}
	for _, p := range in.Tree.ResponsiveParents() {
		space := parentShareSpace{parentID: p.ID, parentShare: in.ParentShares[p.ID]}
		var abs []sim.ShareBounds
		var floors []float64
		var supported []bool
		for _, id := range p.LeafIDs() {
			li := s.leafIndex[id]
			space.leafIdx = append(space.leafIdx, li)
			b, ok := in.Bounds[id]
			if !ok {
				b = sim.Unbounded
			}
			abs = append(abs, b)
			floors = append(floors, in.NoAltFloor[id])
			supported = append(supported, len(s.byLeaf[li]) > 0)
		}
		space.lo, space.hi = relativeBounds(space.parentShare, abs, floors, supported)
		s.spaces = append(s.spaces, space)
	}
	if in.PreviousShares != nil {
		s.prevAbs = s.absFromMap(in.PreviousShares)
	}
	return s
}

func (s *searcher) absFromMap(m map[string]float64) []float64 {
	out := make([]float64, len(s.leaves))
	for i, id := range s.leaves {
		out[i] = m[id]
	}
	return out
}

func (s *searcher) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"manufacturer": s.in.ManufacturerID,
		"year":         s.in.Year,
		"iteration":    s.in.OuterIteration,
	})
}

func (s *searcher) run() *SearchResult {
	opts := s.in.Options
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	if opts.MaxCandidates < 1 {
		opts.MaxCandidates = math.MaxInt32
	}
	// composites are reused across outer iterations; refinement restarts here
	for _, cv := range s.composites {
		cv.TechOptionIteration = 0
	}
	res := &SearchResult{}
	var best, cPick, nPick *candidate
	shareRange := 1.0
	for iter := 0; iter < opts.MaxIterations; iter++ {
		cands := s.enumerate(opts, iter, shareRange, best, cPick, nPick)
		for i := range cands {
			s.evaluate(&cands[i], iter)
		}
		cPick, nPick = selectStraddle(cands)
		iterBest := cPick
		if iterBest == nil {
			iterBest = nPick
		}
		s.recordIteration(cands, iter, cPick, nPick)

		unchanged := best != nil && sameCandidate(best, iterBest)
		if better(iterBest, best) {
			best = iterBest
		}
		res.Iterations = iter + 1
		s.log().WithFields(logrus.Fields{
			"search_iteration": iter,
			"candidates":       len(cands),
			"ratio":            best.decision.ComplianceRatio,
			"cost":             best.decision.TotalCost,
		}).Debug("producer search iteration")

		if math.Abs(1-best.decision.ComplianceRatio) <= opts.Tolerance {
			res.Converged = true
			break
		}
		if unchanged && (cPick == nil || nPick == nil) {
			break
		}
		for _, cv := range s.composites {
			cv.TechOptionIteration++
		}
		shareRange *= opts.ConvergenceFactor
		s.prevAbs = best.abs
	}

	for i, cv := range s.composites {
		cv.ChosenCO2eGPMI = best.tech[i]
	}
	res.Best = best.decision
	res.Compliant = best.decision.Compliant()
	if cPick != nil {
		res.CompliantPick = cPick.decision
	}
	if nPick != nil {
		res.NonCompliantPick = nPick.decision
	}
	return res
}

// enumerate builds the cartesian product of technology and share options.
func (s *searcher) enumerate(opts Options, iter int, shareRange float64, best, cPick, nPick *candidate) []candidate {
	var techSets [][]float64
	for i, cv := range s.composites {
		n := opts.NumTechOptionsICE
		if cv.FuelingClass == sim.FuelingBEV {
			n = opts.NumTechOptionsBEV
		}
		center, haveCenter := cv.ChosenCO2eGPMI, iter > 0 || s.in.OuterIteration > 0
		if best != nil {
			center = best.tech[i]
		}
		var bracket []float64
		if cPick != nil && nPick != nil {
			bracket = []float64{cPick.tech[i], nPick.tech[i]}
		}
		techSets = append(techSets, techOptions(cv, n, opts.ConvergenceFactor, center, haveCenter, bracket))
	}

	var shareSets [][][]float64 // per parent, list of relative vectors
	if s.in.ConsumerShares == nil {
		for _, space := range s.spaces {
			var centers [][]float64
			if best != nil {
				centers = append(centers, s.relative(space, best.abs))
			} else if s.prevAbs != nil {
				centers = append(centers, s.relative(space, s.prevAbs))
			}
			for _, p := range []*candidate{cPick, nPick} {
				if p != nil {
					centers = append(centers, s.relative(space, p.abs))
				}
			}
			window := 1.0
			if iter > 0 {
				window = shareRange
			}
			shareSets = append(shareSets, shareVectors(space, opts.NumShareOptions, window, centers))
		}
	}

	sizes := make([]int, 0, len(techSets)+len(shareSets))
	for _, t := range techSets {
		sizes = append(sizes, len(t))
	}
	for _, ss := range shareSets {
		sizes = append(sizes, len(ss))
	}
	capped := capCandidates(sizes, opts.MaxCandidates)
	for i := range techSets {
		techSets[i] = thin(techSets[i], capped[i])
	}
	for i := range shareSets {
		shareSets[i] = thin(shareSets[i], capped[len(techSets)+i])
	}

	var fixedAbs []float64
	if s.in.ConsumerShares != nil {
		fixedAbs = s.absFromMap(s.in.ConsumerShares)
	}

	total := 1
	for _, t := range techSets {
		total *= len(t)
	}
	for _, ss := range shareSets {
		total *= len(ss)
	}
	out := make([]candidate, 0, total)
	idx := make([]int, len(techSets)+len(shareSets))
	for {
		c := candidate{tech: make([]float64, len(techSets))}
		for i := range techSets {
			c.tech[i] = techSets[i][idx[i]]
		}
		if fixedAbs != nil {
			c.abs = fixedAbs
		} else {
			c.abs = make([]float64, len(s.leaves))
			for p, space := range s.spaces {
				rel := shareSets[p][idx[len(techSets)+p]]
				for j, li := range space.leafIdx {
					c.abs[li] = rel[j] * space.parentShare
				}
			}
		}
		out = append(out, c)

		j := 0
		for ; j < len(idx); j++ {
			var size int
			if j < len(techSets) {
				size = len(techSets[j])
			} else {
				size = len(shareSets[j-len(techSets)])
			}
			idx[j]++
			if idx[j] < size {
				break
			}
			idx[j] = 0
		}
		if j == len(idx) {
			break
		}
	}
	return out
}

func (s *searcher) relative(space parentShareSpace, abs []float64) []float64 {
	out := make([]float64, len(space.leafIdx))
	if space.parentShare <= 0 {
		return out
	}
	for j, li := range space.leafIdx {
		out[j] = abs[li] / space.parentShare
	}
	return out
}

// evaluate fills c.decision. Reductions run in composite ID order.
func (s *searcher) evaluate(c *candidate, iter int) {
	d := &sim.ProducerDecision{
		ManufacturerID:    s.in.ManufacturerID,
		ModelYear:         s.in.Year,
		TotalSales:        s.in.TotalSales,
		StrategicOffsetMg: s.in.StrategicOffsetMg,
		SearchIteration:   iter,
	}
	type classAcc struct {
		sales, cost, gc, gpmi, kwh       float64
		fracSum, fCost, fGC, fGPMI, fKWh float64
	}
	acc := make([]classAcc, len(s.leaves))
	for i, cv := range s.composites {
		li := s.leafIndex[cv.MarketClassID]
		g := c.tech[i]
		sales := s.in.TotalSales * c.abs[li] * cv.MarketClassShareFrac
		cost, _ := cv.CostAt(g)
		kwh, _ := cv.KWhAt(g)
		gc := cost
		if s.in.GeneralizedCost != nil {
			gc = s.in.GeneralizedCost(cv, cost, g, kwh)
		}
		target := cv.TargetMgPerUnit() * sales
		cert := cv.CertMgPerUnitAt(g) * sales
		d.Composites = append(d.Composites, sim.CompositeDecision{
			CompositeID:     cv.ID,
			MarketClassID:   cv.MarketClassID,
			CO2eGPMI:        g,
			KWhPMI:          kwh,
			Sales:           sales,
			Cost:            cost,
			GeneralizedCost: gc,
			TargetCO2eMg:    target,
			CertCO2eMg:      cert,
		})
		d.TotalTargetCO2eMg += target
		d.TotalCertCO2eMg += cert
		d.TotalCost += cost * sales
		d.TotalGeneralizedCost += gc * sales

		a := &acc[li]
		a.sales += sales
		a.cost += cost * sales
		a.gc += gc * sales
		a.gpmi += g * sales
		a.kwh += kwh * sales
		f := cv.MarketClassShareFrac
		a.fracSum += f
		a.fCost += cost * f
		a.fGC += gc * f
		a.fGPMI += g * f
		a.fKWh += kwh * f
	}
	for li, id := range s.leaves {
		a := acc[li]
		m := sim.MarketClassDecision{
			MarketClassID: id,
			AbsShare:      c.abs[li],
			NoAltFloor:    s.in.NoAltFloor[id],
			Sales:         a.sales,
		}
		switch {
		case a.sales > 0:
			m.AverageCost = a.cost / a.sales
			m.AverageGeneralizedCost = a.gc / a.sales
			m.AverageCO2eGPMI = a.gpmi / a.sales
			m.AverageKWhPMI = a.kwh / a.sales
		case a.fracSum > 0:
			m.AverageCost = a.fCost / a.fracSum
			m.AverageGeneralizedCost = a.fGC / a.fracSum
			m.AverageCO2eGPMI = a.fGPMI / a.fracSum
			m.AverageKWhPMI = a.fKWh / a.fracSum
		}
		if fp, ok := s.in.FuelPrices[id]; ok {
			m.LiquidFuelPrice = fp.Liquid
			m.ElectricityPrice = fp.Electricity
		}
		d.MarketClasses = append(d.MarketClasses, m)
	}
	d.ComplianceRatio = (d.TotalCertCO2eMg - d.StrategicOffsetMg) / math.Max(1, d.TotalTargetCO2eMg)
	d.CreditBalanceDeltaMg = d.TotalTargetCO2eMg - d.TotalCertCO2eMg
	if s.prevAbs != nil {
		for li := range s.leaves {
			d.ShareShift += math.Abs(c.abs[li] - s.prevAbs[li])
		}
	}
	c.decision = d
}

// selectStraddle picks the least-cost compliant candidate and the
// non-compliant candidate on the lower cost/ratio envelope next to it.
// With only one kind present it picks the one closest to the boundary.
func selectStraddle(cands []candidate) (cPick, nPick *candidate) {
	var compliant, nonCompliant []*candidate
	for i := range cands {
		if cands[i].decision.Compliant() {
			compliant = append(compliant, &cands[i])
		} else {
			nonCompliant = append(nonCompliant, &cands[i])
		}
	}
	switch {
	case len(compliant) > 0 && len(nonCompliant) > 0:
		for _, c := range compliant {
			if cPick == nil || lessCost(c, cPick) {
				cPick = c
			}
		}
		bestSlope := math.Inf(-1)
		for _, n := range nonCompliant {
			dr := n.decision.ComplianceRatio - cPick.decision.ComplianceRatio
			slope := (cPick.decision.TotalCost - n.decision.TotalCost) / dr
			if nPick == nil || slope > bestSlope || (slope == bestSlope && lessTie(n, nPick)) {
				nPick, bestSlope = n, slope
			}
		}
	case len(compliant) > 0:
		for _, c := range compliant {
			if cPick == nil || c.decision.ComplianceRatio > cPick.decision.ComplianceRatio ||
				(c.decision.ComplianceRatio == cPick.decision.ComplianceRatio && lessCost(c, cPick)) {
				cPick = c
			}
		}
	default:
		for _, n := range nonCompliant {
			if nPick == nil || n.decision.ComplianceRatio < nPick.decision.ComplianceRatio ||
				(n.decision.ComplianceRatio == nPick.decision.ComplianceRatio && lessCost(n, nPick)) {
				nPick = n
			}
		}
	}
	return cPick, nPick
}

func lessCost(a, b *candidate) bool {
	if a.decision.TotalCost != b.decision.TotalCost {
		return a.decision.TotalCost < b.decision.TotalCost
	}
	return lessTie(a, b)
}

// lessTie orders equal-cost candidates: lower generalized cost, then less
// share shift, then the earlier iteration.
func lessTie(a, b *candidate) bool {
	da, db := a.decision, b.decision
	if da.TotalGeneralizedCost != db.TotalGeneralizedCost {
		return da.TotalGeneralizedCost < db.TotalGeneralizedCost
	}
	if da.ShareShift != db.ShareShift {
		return da.ShareShift < db.ShareShift
	}
	return da.SearchIteration < db.SearchIteration
}

// better reports whether a should replace the current best b.
func better(a, b *candidate) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	ac, bc := a.decision.Compliant(), b.decision.Compliant()
	switch {
	case ac && !bc:
		return true
	case !ac && bc:
		return false
	case ac && bc:
		return lessCost(a, b)
	}
	if a.decision.ComplianceRatio != b.decision.ComplianceRatio {
		return a.decision.ComplianceRatio < b.decision.ComplianceRatio
	}
	return lessCost(a, b)
}

func sameCandidate(a, b *candidate) bool {
	if a == nil || b == nil {
		return a == b
	}
	for i := range a.tech {
		if math.Abs(a.tech[i]-b.tech[i]) > optionEpsilon {
			return false
		}
	}
	for i := range a.abs {
		if math.Abs(a.abs[i]-b.abs[i]) > optionEpsilon {
			return false
		}
	}
	return true
}

func (s *searcher) recordIteration(cands []candidate, iter int, cPick, nPick *candidate) {
	st := s.in.Trace
	if st == nil || !st.Config.ProducerYears.Includes(s.in.Year) {
		return
	}
	for i := range cands {
		c := &cands[i]
		selected := ""
		switch c {
		case cPick:
			selected = "compliant"
		case nPick:
			selected = "non_compliant"
		}
		shares := make([]trace.ClassValue, len(s.leaves))
		for li, id := range s.leaves {
			shares[li] = trace.ClassValue{MarketClassID: id, Value: c.abs[li]}
		}
		d := c.decision
		st.RecordProducer(trace.ProducerIterationRecord{
			ManufacturerID:       s.in.ManufacturerID,
			CalendarYear:         s.in.Year,
			OuterIteration:       s.in.OuterIteration,
			SearchIteration:      iter,
			Candidate:            i,
			AbsShares:            shares,
			TotalTargetCO2eMg:    d.TotalTargetCO2eMg,
			TotalCertCO2eMg:      d.TotalCertCO2eMg,
			StrategicOffsetMg:    d.StrategicOffsetMg,
			ComplianceRatio:      d.ComplianceRatio,
			TotalCost:            d.TotalCost,
			TotalGeneralizedCost: d.TotalGeneralizedCost,
			Selected:             selected,
		})
	}
}
