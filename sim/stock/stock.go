// Package stock rolls the registered vehicle stock forward one calendar year
// at a time: surviving counts by age, annual VMT and odometers.
package stock

import (
	"fmt"
	"sort"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// AgeTable holds a per-(market class, age) parameter that may change by
// model year ("start_model_year" rows).
type AgeTable struct {
	Name    string
	byClass map[string]map[int]*sim.StartYearTable[float64]
}

// NewAgeTable returns an empty table; name appears in lookup errors.
func NewAgeTable(name string) *AgeTable {
	return &AgeTable{Name: name, byClass: make(map[string]map[int]*sim.StartYearTable[float64])}
}

// Set records value for marketClass at age for model years from startModelYear.
func (t *AgeTable) Set(marketClass string, age, startModelYear int, value float64) {
	ages, ok := t.byClass[marketClass]
	if !ok {
		ages = make(map[int]*sim.StartYearTable[float64])
		t.byClass[marketClass] = ages
	}
	st, ok := ages[age]
	if !ok {
		st = &sim.StartYearTable[float64]{}
		ages[age] = st
	}
	st.Set(startModelYear, value)
}

// Lookup returns the value for a modelYear vehicle of marketClass at age.
func (t *AgeTable) Lookup(marketClass string, age, modelYear int) (float64, error) {
	if st, ok := t.byClass[marketClass][age]; ok {
		if v, ok := st.At(modelYear); ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%s market class %q age %d model year %d: %w", t.Name, marketClass, age, modelYear, sim.ErrMissingStockParameter)
}

// NewVehicle is a finalized vehicle entering the stock.
type NewVehicle struct {
	Handle                 sim.VehicleHandle
	MarketClassID          string
	ModelYear              int
	InitialRegisteredCount float64
}

type entry struct {
	NewVehicle
	odometer float64
}

// Stock is the registered fleet.
type Stock struct {
	reregistration *AgeTable
	annualVMT      *AgeTable
	entries        []*entry
	lastYear       int
	annual         map[int][]sim.VehicleAnnualData
}

// New returns an empty stock using the given re-registration and VMT tables.
func New(reregistration, annualVMT *AgeTable) *Stock {
	return &Stock{reregistration: reregistration, annualVMT: annualVMT, annual: make(map[int][]sim.VehicleAnnualData)}
}

// RollForward ages the existing stock to year, then adds newVehicles at age
// zero, and returns the year's annual records ordered by model year then
// handle.
func (s *Stock) RollForward(year int, newVehicles []NewVehicle) ([]sim.VehicleAnnualData, error) {
	if len(s.entries) > 0 && year <= s.lastYear {
		return nil, fmt.Errorf("stock already rolled to %d, cannot roll to %d", s.lastYear, year)
	}
	s.lastYear = year
	added := make([]*entry, 0, len(newVehicles))
	for _, nv := range newVehicles {
		if nv.ModelYear > year {
			return nil, fmt.Errorf("vehicle %d model year %d is after calendar year %d", nv.Handle, nv.ModelYear, year)
		}
		added = append(added, &entry{NewVehicle: nv})
	}
	s.entries = append(s.entries, added...)
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if a.ModelYear != b.ModelYear {
			return a.ModelYear < b.ModelYear
		}
		return a.Handle < b.Handle
	})

	rows := make([]sim.VehicleAnnualData, 0, len(s.entries))
	for _, e := range s.entries {
		age := year - e.ModelYear
		frac, err := s.reregistration.Lookup(e.MarketClassID, age, e.ModelYear)
		if err != nil {
			return nil, err
		}
		vmt, err := s.annualVMT.Lookup(e.MarketClassID, age, e.ModelYear)
		if err != nil {
			return nil, err
		}
		e.odometer += vmt
		registered := e.InitialRegisteredCount * frac
		rows = append(rows, sim.VehicleAnnualData{
			Vehicle:         e.Handle,
			CalendarYear:    year,
			Age:             age,
			RegisteredCount: registered,
			AnnualVMT:       vmt,
			Odometer:        e.odometer,
			VMT:             registered * vmt,
		})
	}
	s.annual[year] = rows
	return rows, nil
}

// Annual returns the records produced for year.
func (s *Stock) Annual(year int) []sim.VehicleAnnualData {
	return s.annual[year]
}

// Totals returns the registered count and VMT of year's stock.
func (s *Stock) Totals(year int) (registered, vmt float64) {
	for _, r := range s.annual[year] {
		registered += r.RegisteredCount
		vmt += r.VMT
	}
	return registered, vmt
}
