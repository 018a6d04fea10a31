// Package consumer implements the GCAM-style logit share model that turns
// per-market-class prices and operating costs into consumer sales shares.
package consumer

import (
	"fmt"
	"math"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// minCostPerPassengerMile keeps the logit numerator finite for free vehicles.
const minCostPerPassengerMile = 1e-9

// Calibration holds the share model parameters of one market class.
type Calibration struct {
	ShareWeight             float64
	LogitExponentMu         float64 // negative
	PriceAmortizationPeriod float64 // years
	DiscountRate            float64
	AnnualVMT               float64
	OMCosts                 float64 // dollars per year
	AverageOccupancy        float64
}

// Calibrations indexes calibration by market class and start year.
type Calibrations struct {
	byClass map[string]*sim.StartYearTable[Calibration]
}

// NewCalibrations returns an empty calibration set.
func NewCalibrations() *Calibrations {
	return &Calibrations{byClass: make(map[string]*sim.StartYearTable[Calibration])}
}

// Set records c for marketClass from startYear onwards.
func (c *Calibrations) Set(marketClass string, startYear int, cal Calibration) {
	t, ok := c.byClass[marketClass]
	if !ok {
		t = &sim.StartYearTable[Calibration]{}
		c.byClass[marketClass] = t
	}
	t.Set(startYear, cal)
}

// Lookup returns the calibration in effect for marketClass in year.
func (c *Calibrations) Lookup(marketClass string, year int) (Calibration, error) {
	t, ok := c.byClass[marketClass]
	if !ok {
		return Calibration{}, fmt.Errorf("market class %q: %w", marketClass, sim.ErrMissingCalibration)
	}
	cal, ok := t.At(year)
	if !ok {
		return Calibration{}, fmt.Errorf("market class %q year %d: %w", marketClass, year, sim.ErrMissingCalibration)
	}
	return cal, nil
}

// AnnualizationFactor is the capital recovery factor r + r/((1+r)^T − 1).
// A zero rate spreads capital evenly; a non-positive period annualizes nothing.
func AnnualizationFactor(rate, periodYears float64) float64 {
	switch {
	case periodYears <= 0:
		return 1
	case rate == 0:
		return 1 / periodYears
	}
	return rate + rate/(math.Pow(1+rate, periodYears)-1)
}

// ChildInput describes one market class competing within a parent.
type ChildInput struct {
	MarketClassID string
	// Price is the modified cross-subsidized price. For a single-child parent
	// it is the producer's unmodified cost.
	Price            float64
	CO2eGPMI         float64
	KWhPMI           float64
	LiquidFuelPrice  float64 // dollars per unit of liquid fuel
	CarbonIntensity  float64 // CO2e grams per unit of liquid fuel; 0 disables the liquid term
	RefuelEfficiency float64
	ElectricityPrice float64 // dollars per kWh
	Bounds           sim.ShareBounds
}

// ChildResult is the share model output for one market class.
type ChildResult struct {
	MarketClassID        string
	RelShare             float64
	AbsShare             float64
	GeneralizedCost      float64
	CostPerPassengerMile float64
	Constrained          bool
}

// ParentResult is the share model output for one parent.
type ParentResult struct {
	ParentID    string
	Children    []ChildResult
	Constrained bool
}

// ShareModel evaluates the logit for one parent at a time.
type ShareModel struct {
	Calibrations       *Calibrations
	RechargeEfficiency float64
}

// FuelCostPerMile is the liquid plus electric fuel cost per mile of in.
func (m *ShareModel) FuelCostPerMile(in ChildInput) float64 {
	liquid := 0.0
	if in.CO2eGPMI > 0 && in.CarbonIntensity > 0 {
		eff := in.RefuelEfficiency
		if eff <= 0 {
			eff = 1
		}
		liquid = in.LiquidFuelPrice * in.CO2eGPMI / in.CarbonIntensity / eff
	}
	electric := 0.0
	if in.KWhPMI > 0 {
		eff := m.RechargeEfficiency
		if eff <= 0 {
			eff = 1
		}
		electric = in.ElectricityPrice * in.KWhPMI / eff
	}
	return liquid + electric
}

// ParentShares distributes parentAbsShare over children in year.
// Children are evaluated in the order given; callers pass them sorted.
func (m *ShareModel) ParentShares(parentID string, parentAbsShare float64, year int, children []ChildInput) (ParentResult, error) {
	res := ParentResult{ParentID: parentID, Children: make([]ChildResult, len(children))}
	if len(children) == 0 {
		return res, nil
	}
	if len(children) == 1 {
		in := children[0]
		res.Children[0] = ChildResult{
			MarketClassID:   in.MarketClassID,
			RelShare:        1,
			AbsShare:        parentAbsShare,
			GeneralizedCost: in.Price,
		}
		return res, nil
	}

	numerators := make([]float64, len(children))
	bounds := make([]sim.ShareBounds, len(children))
	total := 0.0
	for i, in := range children {
		cal, err := m.Calibrations.Lookup(in.MarketClassID, year)
		if err != nil {
			return ParentResult{}, err
		}
		vmt := cal.AnnualVMT
		if vmt <= 0 {
			vmt = 1
		}
		occupancy := cal.AverageOccupancy
		if occupancy <= 0 {
			occupancy = 1
		}
		fuel := m.FuelCostPerMile(in)
		nonFuel := (AnnualizationFactor(cal.DiscountRate, cal.PriceAmortizationPeriod)*in.Price + cal.OMCosts) / vmt
		perPassengerMile := math.Max(minCostPerPassengerMile, (nonFuel+fuel)/occupancy)

		numerators[i] = cal.ShareWeight * math.Pow(perPassengerMile, cal.LogitExponentMu)
		total += numerators[i]
		bounds[i] = in.Bounds
		res.Children[i] = ChildResult{
			MarketClassID:        in.MarketClassID,
			CostPerPassengerMile: perPassengerMile,
			GeneralizedCost:      in.Price + (fuel*vmt+cal.OMCosts)*cal.PriceAmortizationPeriod,
		}
	}

	rel := make([]float64, len(children))
	for i := range numerators {
		if total > 0 && !math.IsInf(total, 0) {
			rel[i] = numerators[i] / total
		} else {
			rel[i] = 1 / float64(len(children))
		}
	}
	feasible := sim.FeasibleBounds(bounds)
	constrainedShares, clipped := sim.ConstrainShares(rel, feasible)
	// the parent is constrained when a clip leaves every child at its maximum
	anyClipped, allAtMax := false, true
	for i := range res.Children {
		res.Children[i].RelShare = constrainedShares[i]
		res.Children[i].AbsShare = constrainedShares[i] * parentAbsShare
		res.Children[i].Constrained = clipped[i]
		anyClipped = anyClipped || clipped[i]
		if constrainedShares[i] < feasible[i].Max-sim.ShareTolerance {
			allAtMax = false
		}
	}
	res.Constrained = anyClipped && allAtMax
	return res, nil
}

// DistributeAltShares splits a market class absolute share into the part
// supplied by vehicles not up for redesign (filled first, up to their floor)
// and the remainder supplied by redesigned vehicles.
func DistributeAltShares(absShare, noAltFloor float64) (noAlt, alt float64) {
	noAlt = math.Max(0, math.Min(absShare, noAltFloor))
	return noAlt, absShare - noAlt
}
