package inputs

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/consumer"
	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
	"github.com/vehicle-sim/vehicle-sim/sim/stock"
)

// RegClass is one regulatory class.
type RegClass struct {
	ID          string
	Description string
}

// PolicyTarget is the g/mi target and lifetime VMT of a reg class.
type PolicyTarget struct {
	CO2eGPMI    float64
	LifetimeVMT float64
}

// FuelPrice is a retail and pre-tax fuel price in the analysis dollar basis.
type FuelPrice struct {
	Retail float64
	Pretax float64
}

// OnroadFuel describes a liquid or electric fuel.
type OnroadFuel struct {
	Unit                   string
	DirectCO2eGramsPerUnit float64
	RefuelEfficiency       float64
}

// StockVMT is the context's registered stock and VMT in one calendar year.
type StockVMT struct {
	Miles float64
	Stock float64
}

// CreditSeed is a pre-existing credit or debit.
type CreditSeed struct {
	ManufacturerID string
	Year           int
	Mg             float64
	Life           int
}

type offCycleRow struct {
	startYear   int
	name        string
	group       string
	destination string
	byRegClass  map[string]float64
}

// Tables holds every parsed input of a session. It is read-only once loaded.
type Tables struct {
	MarketClasses []sim.MarketClassDef
	RegClasses    []RegClass
	Manufacturers []string
	// Vehicles are the base-year fleet, sorted by manufacturer then name.
	Vehicles     []*sim.Vehicle
	CostClouds   *costcurve.Library
	Calibrations *consumer.Calibrations

	Reregistration *stock.AgeTable
	AnnualVMT      *stock.AgeTable

	ProductionConstraints map[string]*sim.StartYearTable[sim.ShareBounds]
	RequiredShares        map[string]*sim.StartYearTable[float64]
	PolicyTargets         map[string]*sim.StartYearTable[PolicyTarget]
	ProductionMultipliers *sim.StartYearTable[map[string]float64]
	PriceModifications    *sim.StartYearTable[map[string]float64]
	DriveCycleWeights     map[sim.FuelingClass]*sim.StartYearTable[*costcurve.DriveCycleWeights]
	OnroadFuels           map[string]*sim.StartYearTable[OnroadFuel]

	// FuelPrices by fuel then calendar year.
	FuelPrices map[string]map[int]FuelPrice
	// NewVehicleMarket is context sales by calendar year then size class.
	NewVehicleMarket map[int]map[string]float64
	ContextStockVMT  map[int]StockVMT
	Deflators        map[int]float64
	CreditSeeds      []CreditSeed

	offCycle []offCycleRow
}

// Tree builds the market class tree.
func (t *Tables) Tree() (*sim.MarketTree, error) {
	return sim.NewMarketTree(t.MarketClasses)
}

// FuelPrice returns the retail price of fuel in calendar year.
func (t *Tables) FuelPrice(fuelID string, year int) (FuelPrice, error) {
	byYear, ok := t.FuelPrices[fuelID]
	if !ok {
		return FuelPrice{}, fmt.Errorf("no context fuel prices for fuel %q", fuelID)
	}
	p, ok := byYear[year]
	if !ok {
		return FuelPrice{}, fmt.Errorf("no context fuel price for fuel %q in %d", fuelID, year)
	}
	return p, nil
}

// OnroadFuel returns the fuel properties in year. Unknown fuels have no
// carbon intensity and unit refuel efficiency.
func (t *Tables) OnroadFuel(fuelID string, year int) OnroadFuel {
	if st, ok := t.OnroadFuels[fuelID]; ok {
		if f, ok := st.At(year); ok {
			return f
		}
	}
	return OnroadFuel{RefuelEfficiency: 1}
}

// PolicyTarget returns the reg class target in effect for model year.
func (t *Tables) PolicyTarget(regClass string, year int) (PolicyTarget, error) {
	st, ok := t.PolicyTargets[regClass]
	if ok {
		if p, ok := st.At(year); ok {
			return p, nil
		}
	}
	return PolicyTarget{}, fmt.Errorf("%w: no policy target for reg class %q in %d", sim.ErrInputValidation, regClass, year)
}

// Bounds returns the absolute share bounds of a market class in year:
// production constraints tightened by any required sales share.
func (t *Tables) Bounds(marketClass string, year int) (sim.ShareBounds, bool) {
	b := sim.Unbounded
	found := false
	if st, ok := t.ProductionConstraints[marketClass]; ok {
		if v, ok := st.At(year); ok {
			b, found = v, true
		}
	}
	if st, ok := t.RequiredShares[marketClass]; ok {
		if v, ok := st.At(year); ok {
			b.Min = math.Max(b.Min, v)
			if b.Max < b.Min {
				b.Max = b.Min
			}
			found = true
		}
	}
	return b, found
}

// ProductionMultiplier returns the cert multiplier for v in year: the product
// of every "{label}:{value}" column matching one of v's labels.
func (t *Tables) ProductionMultiplier(v *sim.Vehicle, year int) float64 {
	if t.ProductionMultipliers == nil {
		return 1
	}
	m, ok := t.ProductionMultipliers.At(year)
	if !ok {
		return 1
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mult := 1.0
	for _, k := range keys {
		attr, value, ok := strings.Cut(k, ":")
		if ok && v.Label(attr) == value {
			mult *= m[k]
		}
	}
	return mult
}

// PriceModification returns the dollar price modification of a market class.
func (t *Tables) PriceModification(marketClass string, year int) float64 {
	if t.PriceModifications == nil {
		return 0
	}
	m, ok := t.PriceModifications.At(year)
	if !ok {
		return 0
	}
	return m[marketClass]
}

// OffCycleCredits returns the off-cycle credits available to a reg class in
// year, one per credit name, sorted by name.
func (t *Tables) OffCycleCredits(regClass string, year int) []costcurve.OffCycleCredit {
	latest := make(map[string]offCycleRow)
	for _, r := range t.offCycle {
		if r.startYear > year {
			continue
		}
		if cur, ok := latest[r.name]; !ok || r.startYear > cur.startYear {
			latest[r.name] = r
		}
	}
	names := make([]string, 0, len(latest))
	for n := range latest {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []costcurve.OffCycleCredit
	for _, n := range names {
		r := latest[n]
		if v, ok := r.byRegClass[regClass]; ok && v != 0 {
			out = append(out, costcurve.OffCycleCredit{Name: r.name, Group: r.group, Destination: r.destination, Value: v})
		}
	}
	return out
}

// ContextSizeClassSales returns projected sales of one size class in
// calendar year, or false when no projection covers it.
func (t *Tables) ContextSizeClassSales(sizeClass string, year int) (float64, bool) {
	v, ok := t.NewVehicleMarket[year][sizeClass]
	return v, ok
}

// ToDollarBasis converts an amount in dollars of year from to dollars of
// year to. Without deflators for both years the amount is unchanged.
func (t *Tables) ToDollarBasis(amount float64, from, to int) float64 {
	if from == to || to == 0 {
		return amount
	}
	df, ok1 := t.Deflators[from]
	dt, ok2 := t.Deflators[to]
	if !ok1 || !ok2 || df == 0 {
		return amount
	}
	return amount * dt / df
}

// SizeClassBaseYearSales totals base-year sales of every manufacturer by
// context size class.
func (t *Tables) SizeClassBaseYearSales() map[string]float64 {
	out := make(map[string]float64)
	for _, v := range t.Vehicles {
		out[v.ContextSizeClass] += v.BaseYearSales
	}
	return out
}
