package sim

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
)

// DefaultCostCurveSamples is the number of positions sampled to build a
// composite's merged cost curve.
const DefaultCostCurveSamples = 25

// CompositeMember is one vehicle inside a composite with its (already
// adjusted) frontier and policy terms.
type CompositeMember struct {
	Handle               VehicleHandle
	Weight               float64
	Frontier             *costcurve.Frontier
	ProductionMultiplier float64
	TargetCO2eGPMI       float64
	LifetimeVMT          float64
}

// CompositeVehicle aggregates the vehicles of one (manufacturer, market
// class, reg class) into a single optimization unit.
//
// Every member moves along its own frontier at the same normalized position
// s in [0, 1] (0 is each member's minimum g/mi). Composite g/mi, cost, kWh/mi
// and cert Mg are weighted sums of the members at s, so composite g/mi is
// linear in s and decomposition recovers member operating points exactly.
type CompositeVehicle struct {
	ID             string
	ManufacturerID string
	MarketClassID  string
	RegClassID     string
	FuelingClass   FuelingClass
	ModelYear      int

	Members []CompositeMember

	// MarketClassShareFrac is this composite's fraction of its market class sales.
	MarketClassShareFrac float64
	// InitialRegisteredCount is the composite's apportioned context sales.
	InitialRegisteredCount float64
	// TechOptionIteration counts producer refinements in the current search.
	TechOptionIteration int
	// ChosenCO2eGPMI is the operating point selected by the producer search.
	ChosenCO2eGPMI float64

	minGPMI, maxGPMI float64
	targetMgPerUnit  float64
	frontier         *costcurve.Frontier
}

// CompositeID formats the composite key.
func CompositeID(manufacturer, marketClass, regClass string) string {
	return manufacturer + ":" + marketClass + ":" + regClass
}

// NewCompositeVehicle normalizes member weights (equal weights when they sum
// to zero) and samples the merged cost curve at samples positions.
func NewCompositeVehicle(manufacturer, marketClass, regClass string, fueling FuelingClass, year int, members []CompositeMember, samples int) (*CompositeVehicle, error) {
	if len(members) == 0 {
		return nil, errors.New("composite vehicle needs at least one member")
	}
	cv := &CompositeVehicle{
		ID:             CompositeID(manufacturer, marketClass, regClass),
		ManufacturerID: manufacturer,
		MarketClassID:  marketClass,
		RegClassID:     regClass,
		FuelingClass:   fueling,
		ModelYear:      year,
		Members:        append([]CompositeMember(nil), members...),
	}
	sort.SliceStable(cv.Members, func(i, j int) bool { return cv.Members[i].Handle < cv.Members[j].Handle })

	total := 0.0
	for i, m := range cv.Members {
		if m.Frontier == nil {
			return nil, fmt.Errorf("composite %s member %d: %w", cv.ID, m.Handle, costcurve.ErrMissingCostCurve)
		}
		if m.Weight < 0 {
			return nil, fmt.Errorf("composite %s member %d has negative weight %g", cv.ID, m.Handle, m.Weight)
		}
		if m.ProductionMultiplier == 0 {
			cv.Members[i].ProductionMultiplier = 1
		}
		total += m.Weight
	}
	for i := range cv.Members {
		if total > 0 {
			cv.Members[i].Weight /= total
		} else {
			cv.Members[i].Weight = 1 / float64(len(cv.Members))
		}
	}

	for _, m := range cv.Members {
		cv.minGPMI += m.Weight * m.Frontier.MinGPMI()
		cv.maxGPMI += m.Weight * m.Frontier.MaxGPMI()
		cv.targetMgPerUnit += m.Weight * m.TargetCO2eGPMI * m.LifetimeVMT * m.ProductionMultiplier / 1e6
	}

	if samples < 2 {
		samples = DefaultCostCurveSamples
	}
	pts := []costcurve.Point{cv.pointAtPosition(0)}
	if cv.maxGPMI-cv.minGPMI > 0 {
		positions := make([]float64, samples)
		floats.Span(positions, 0, 1)
		pts = pts[:0]
		for _, s := range positions {
			pts = append(pts, cv.pointAtPosition(s))
		}
	}
	f, err := costcurve.FromSamples(pts)
	if err != nil {
		return nil, fmt.Errorf("composite %s cost curve: %w", cv.ID, err)
	}
	cv.frontier = f
	cv.ChosenCO2eGPMI = cv.maxGPMI
	return cv, nil
}

func memberGPMI(m CompositeMember, s float64) float64 {
	return m.Frontier.MinGPMI() + s*(m.Frontier.MaxGPMI()-m.Frontier.MinGPMI())
}

func (cv *CompositeVehicle) pointAtPosition(s float64) costcurve.Point {
	var p costcurve.Point
	for _, m := range cv.Members {
		g := memberGPMI(m, s)
		cost, _ := m.Frontier.CostAt(g)
		kwh, _ := m.Frontier.KWhAt(g)
		p.CO2eGPMI += m.Weight * g
		p.Cost += m.Weight * cost
		p.KWhPMI += m.Weight * kwh
	}
	return p
}

// position maps composite g/mi to the shared member position, clamped to [0, 1].
func (cv *CompositeVehicle) position(g float64) (float64, bool) {
	span := cv.maxGPMI - cv.minGPMI
	if span <= 0 {
		return 0, g != cv.minGPMI
	}
	s := (g - cv.minGPMI) / span
	switch {
	case s < 0:
		return 0, true
	case s > 1:
		return 1, true
	}
	return s, false
}

// MinGPMI returns the lowest attainable composite g/mi.
func (cv *CompositeVehicle) MinGPMI() float64 { return cv.minGPMI }

// MaxGPMI returns the highest composite g/mi.
func (cv *CompositeVehicle) MaxGPMI() float64 { return cv.maxGPMI }

// Frontier returns the sampled merged cost curve.
func (cv *CompositeVehicle) Frontier() *costcurve.Frontier { return cv.frontier }

// CostAt returns the sales-weighted member cost at composite g/mi g.
func (cv *CompositeVehicle) CostAt(g float64) (float64, bool) {
	s, saturated := cv.position(g)
	return cv.pointAtPosition(s).Cost, saturated
}

// KWhAt returns the sales-weighted member kWh/mi at composite g/mi g.
func (cv *CompositeVehicle) KWhAt(g float64) (float64, bool) {
	s, saturated := cv.position(g)
	return cv.pointAtPosition(s).KWhPMI, saturated
}

// TargetMgPerUnit is the normalized target Mg for one unit of sales.
func (cv *CompositeVehicle) TargetMgPerUnit() float64 { return cv.targetMgPerUnit }

// CertMgPerUnitAt is the normalized cert Mg for one unit of sales at g.
func (cv *CompositeVehicle) CertMgPerUnitAt(g float64) float64 {
	s, _ := cv.position(g)
	mg := 0.0
	for _, m := range cv.Members {
		mg += m.Weight * memberGPMI(m, s) * m.LifetimeVMT * m.ProductionMultiplier / 1e6
	}
	return mg
}

// GeneralizedCostParamsFunc returns the fuel and policy terms a vehicle is
// priced with.
type GeneralizedCostParamsFunc func(v *Vehicle) costcurve.GeneralizedCostParams

// Decompose writes the composite decision back onto its members: each gets
// sales×weight and its own g/mi at the composite's position, then cost,
// kWh/mi, generalized cost and target/cert Mg from its own frontier. params
// may be nil.
func (cv *CompositeVehicle) Decompose(arena *VehicleArena, sales, g float64, params GeneralizedCostParamsFunc) {
	s, _ := cv.position(g)
	cv.ChosenCO2eGPMI = cv.minGPMI + s*(cv.maxGPMI-cv.minGPMI)
	for _, m := range cv.Members {
		v := arena.Get(m.Handle)
		mg := memberGPMI(m, s)
		cost, _ := m.Frontier.CostAt(mg)
		kwh, _ := m.Frontier.KWhAt(mg)
		v.Sales = sales * m.Weight
		v.CO2eGPMI = mg
		v.KWhPMI = kwh
		v.Cost = cost
		v.TargetCO2eGPMI = m.TargetCO2eGPMI
		v.LifetimeVMT = m.LifetimeVMT
		v.ProductionMultiplier = m.ProductionMultiplier
		v.TargetCO2eMg = m.TargetCO2eGPMI * m.LifetimeVMT * m.ProductionMultiplier * v.Sales / 1e6
		v.CertCO2eMg = mg * m.LifetimeVMT * m.ProductionMultiplier * v.Sales / 1e6
		v.CompositeID = cv.ID
		if params != nil {
			v.GeneralizedCost, _ = m.Frontier.GeneralizedCostAt(mg, params(v))
		}
	}
}
