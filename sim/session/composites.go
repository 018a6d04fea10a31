package session

import (
	"fmt"
	"sort"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
)

// yearFleet is an entity's model-year vehicles grouped into composites.
type yearFleet struct {
	composites []*sim.CompositeVehicle
	// vehicles are the model-year vehicles, in base handle order.
	vehicles []sim.VehicleHandle
	// baseSales and noAltSales are raw weights by market class.
	baseSales  map[string]float64
	noAltSales map[string]float64
	totalSales float64
	// contextSales is the entity's share of the projected market.
	contextSales float64
}

// source returns the vehicle a model-year vehicle is cloned from: the most
// recent model-year vehicle of base, or base itself.
func (s *session) source(base sim.VehicleHandle) (*sim.Vehicle, bool) {
	if h, ok := s.latest[base]; ok {
		return s.arena.Get(h), true
	}
	return s.arena.Get(base), false
}

// buildFleet creates the entity's model-year vehicles and composites.
func (s *session) buildFleet(e *entity, year int) (*yearFleet, error) {
	fleet := &yearFleet{baseSales: make(map[string]float64), noAltSales: make(map[string]float64)}
	type group struct {
		marketClass, regClass string
		members               []sim.CompositeMember
		weight                float64
	}
	groups := make(map[string]*group)
	var keys []string
	classWeight := make(map[string]float64)

	for _, base := range e.base {
		src, produced := s.source(base)
		v := src.Clone()
		v.ModelYear = year
		v.BaseHandle = base
		v.Redesigned = false
		alt := v.IsAlt(year)
		if alt && v.RedesignInterval > 0 {
			v.PriorRedesignYear = year
			v.Redesigned = true
		}

		frontier, err := s.frontier(e, v, year)
		if err != nil {
			return nil, err
		}
		if !alt && produced {
			p, _ := frontier.PointAt(src.CO2eGPMI)
			frontier = costcurve.SinglePoint(p)
		} else if !alt {
			g := frontier.MaxGPMI()
			if v.BaseYearCertCO2eGPMI > 0 {
				g = v.BaseYearCertCO2eGPMI
			}
			p, _ := frontier.PointAt(g)
			frontier = costcurve.SinglePoint(p)
		} else if !s.opts.AllowBacksliding && v.BaseYearCertCO2eGPMI > 0 {
			frontier = frontier.Truncate(v.BaseYearCertCO2eGPMI)
		}

		target, err := s.tables.PolicyTarget(v.RegClassID, year)
		if err != nil {
			return nil, err
		}
		weight := v.BaseYearSales
		if produced && src.InitialRegisteredCount > 0 {
			weight = src.InitialRegisteredCount
		}
		v.ProductionMultiplier = s.tables.ProductionMultiplier(v, year)
		h := s.arena.Add(v)
		fleet.vehicles = append(fleet.vehicles, h)

		baseSales := s.arena.Get(base).BaseYearSales
		fleet.baseSales[v.MarketClassID] += baseSales
		fleet.totalSales += baseSales
		fleet.contextSales += s.contextSales(s.arena.Get(base), year)
		if !alt {
			fleet.noAltSales[v.MarketClassID] += baseSales
		}

		id := sim.CompositeID(e.id, v.MarketClassID, v.RegClassID)
		g, ok := groups[id]
		if !ok {
			g = &group{marketClass: v.MarketClassID, regClass: v.RegClassID}
			groups[id] = g
			keys = append(keys, id)
		}
		g.members = append(g.members, sim.CompositeMember{
			Handle:               h,
			Weight:               weight,
			Frontier:             frontier,
			ProductionMultiplier: v.ProductionMultiplier,
			TargetCO2eGPMI:       target.CO2eGPMI,
			LifetimeVMT:          target.LifetimeVMT,
		})
		g.weight += weight
		classWeight[v.MarketClassID] += weight
	}

	sort.Strings(keys)
	classCount := make(map[string]int)
	for _, id := range keys {
		classCount[groups[id].marketClass]++
	}
	for _, id := range keys {
		g := groups[id]
		leaf, ok := s.tree.Leaf(g.marketClass)
		if !ok {
			return nil, fmt.Errorf("%w: vehicle market class %q not in market tree", sim.ErrInputValidation, g.marketClass)
		}
		cv, err := sim.NewCompositeVehicle(e.id, g.marketClass, g.regClass, leaf.FuelingClass, year, g.members, s.opts.CostCurveSamples)
		if err != nil {
			return nil, err
		}
		if w := classWeight[g.marketClass]; w > 0 {
			cv.MarketClassShareFrac = g.weight / w
		} else {
			cv.MarketClassShareFrac = 1 / float64(classCount[g.marketClass])
		}
		fleet.composites = append(fleet.composites, cv)
	}
	return fleet, nil
}

// contextSales is base vehicle v's projected sales in year: its size class
// projection apportioned by base-year sales within the size class. Size
// classes without a projection keep their base-year sales.
func (s *session) contextSales(v *sim.Vehicle, year int) float64 {
	projected, ok := s.tables.ContextSizeClassSales(v.ContextSizeClass, s.opts.ContextYear(year))
	base := s.sizeClassBase[v.ContextSizeClass]
	if !ok || base <= 0 {
		return v.BaseYearSales
	}
	return projected * v.BaseYearSales / base
}

// frontier returns v's cost curve in year: the cloud frontier, weighted by
// utility factor for PHEVs, less any off-cycle credits.
func (s *session) frontier(e *entity, v *sim.Vehicle, year int) (*costcurve.Frontier, error) {
	lib := s.tables.CostClouds
	uf := 0.0
	if lib.IsPHEV(v.CostCurveClass, year) {
		cloud, err := lib.Cloud(v.CostCurveClass, year)
		if err != nil {
			return nil, err
		}
		battery := v.BatteryKWh
		if battery <= 0 {
			battery = s.groupBatteryKWh(e, v)
		}
		uf = costcurve.UtilityFactor(costcurve.ChargeDepletingRange(battery, cloud.MeanCDKWhPMI()))
		v.SetAttribute("utility_factor", uf)
	}
	f, err := lib.Frontier(v.CostCurveClass, year, uf)
	if err != nil {
		return nil, fmt.Errorf("vehicle %s/%s: %w", v.ManufacturerID, v.Name, err)
	}

	credits := s.tables.OffCycleCredits(v.RegClassID, year)
	if len(credits) == 0 {
		return f, nil
	}
	for _, c := range credits {
		v.SetAttribute("offcycle:"+c.Name, c.Value)
	}
	pts := f.Points()
	for i := range pts {
		pts[i] = costcurve.ApplyOffCycle(pts[i], credits)
	}
	adjusted, err := costcurve.NewFrontier(pts)
	if err != nil {
		return nil, fmt.Errorf("vehicle %s/%s off-cycle frontier: %w", v.ManufacturerID, v.Name, err)
	}
	return adjusted, nil
}

// groupBatteryKWh is the sales-weighted battery size of the other plug-in
// vehicles sharing v's manufacturer and reg class, or zero.
func (s *session) groupBatteryKWh(e *entity, v *sim.Vehicle) float64 {
	num, den := 0.0, 0.0
	for _, h := range e.base {
		o := s.arena.Get(h)
		if o.ManufacturerID != v.ManufacturerID || o.RegClassID != v.RegClassID || o.Name == v.Name {
			continue
		}
		if !o.FuelingClass.Plugs() || o.BatteryKWh <= 0 {
			continue
		}
		num += o.BatteryKWh * o.BaseYearSales
		den += o.BaseYearSales
	}
	if den == 0 {
		return 0
	}
	return num / den
}
