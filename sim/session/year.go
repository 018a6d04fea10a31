package session

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
	"github.com/vehicle-sim/vehicle-sim/sim/pricing"
	"github.com/vehicle-sim/vehicle-sim/sim/producer"
	"github.com/vehicle-sim/vehicle-sim/sim/stock"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// classContext is what a market class sees of fuels and policy in a year.
type classContext struct {
	fuel              producer.FuelPrices
	carbonIntensity   float64
	refuelEfficiency  float64
	priceModification float64
	annualVMT         float64
}

func (c classContext) params(years, footprint, wtp float64) costcurve.GeneralizedCostParams {
	return costcurve.GeneralizedCostParams{
		LiquidFuelPrice:   c.fuel.Liquid,
		CarbonIntensity:   c.carbonIntensity,
		RefuelEfficiency:  c.refuelEfficiency,
		ElectricityPrice:  c.fuel.Electricity,
		AnnualVMT:         c.annualVMT,
		Years:             years,
		PriceModification: c.priceModification,
		FootprintFt2:      footprint,
		FootprintWTP:      wtp,
	}
}

// outcome is one outer iteration's producer decision and consumer response.
type outcome struct {
	search    *producer.SearchResult
	priced    *pricing.Result
	sales     float64
	iteration int
	converged bool
}

func (o *outcome) score() float64 { return o.priced.Response.ConvergenceScore }

// runYear simulates one model year for every entity, then rolls the stock.
func (s *session) runYear(ctx context.Context, year int) error {
	yr := YearResult{Year: year, SalesByMarketClass: make(map[string]float64)}
	var produced []sim.VehicleHandle
	for _, e := range s.entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		ey, handles, err := s.runEntity(e, year)
		if err != nil {
			return fmt.Errorf("%s: %w", e.id, err)
		}
		produced = append(produced, handles...)
		yr.Entities = append(yr.Entities, *ey)
		if ey.OuterIterations > yr.OuterIterations {
			yr.OuterIterations = ey.OuterIterations
		}
		yr.NonConvergence = yr.NonConvergence || ey.NonConvergence
	}
	s.result.Produced = append(s.result.Produced, produced...)

	newVehicles := make([]stock.NewVehicle, 0, len(produced))
	priceNum, costNum := 0.0, 0.0
	for _, h := range produced {
		v := s.arena.Get(h)
		newVehicles = append(newVehicles, stock.NewVehicle{
			Handle:                 h,
			MarketClassID:          v.MarketClassID,
			ModelYear:              v.ModelYear,
			InitialRegisteredCount: v.InitialRegisteredCount,
		})
		yr.TotalSales += v.Sales
		yr.TargetCO2eMg += v.TargetCO2eMg
		yr.CertCO2eMg += v.CertCO2eMg
		yr.SalesByMarketClass[v.MarketClassID] += v.Sales
		priceNum += v.Price * v.Sales
		costNum += v.Cost * v.Sales
	}
	if yr.TotalSales > 0 {
		yr.AveragePrice = priceNum / yr.TotalSales
		yr.AverageCost = costNum / yr.TotalSales
	}

	rows, err := s.stock.RollForward(year, newVehicles)
	if err != nil {
		return fmt.Errorf("stock: %w", err)
	}
	s.result.VehicleAnnual = append(s.result.VehicleAnnual, rows...)
	yr.RegisteredCount, yr.StockVMT = s.stock.Totals(year)
	if c, ok := s.tables.ContextStockVMT[s.opts.ContextYear(year)]; ok {
		yr.ContextStockVMT = c.Miles
		if c.Miles > 0 {
			yr.StockVMTRatio = yr.StockVMT / c.Miles
		}
	}
	for _, l := range s.ledgers {
		yr.CreditBalance += l.bank.Total().InexactFloat64()
	}
	s.result.Years = append(s.result.Years, yr)

	s.log.WithFields(logrus.Fields{
		"year":          year,
		"sales":         yr.TotalSales,
		"target_mg":     yr.TargetCO2eMg,
		"cert_mg":       yr.CertCO2eMg,
		"registered":    yr.RegisteredCount,
		"outer_iters":   yr.OuterIterations,
		"nonconvergent": yr.NonConvergence,
	}).Info("year complete")
	return nil
}

// runEntity runs the producer/consumer loop for one entity and finalizes
// its vehicles. It returns the produced vehicle handles in base order.
func (s *session) runEntity(e *entity, year int) (*EntityYear, []sim.VehicleHandle, error) {
	log := s.log.WithFields(logrus.Fields{"entity": e.id, "year": year})

	offsets := make(map[string]float64, len(e.ledgers))
	offset := 0.0
	for _, l := range e.ledgers {
		l.bank.Age(year)
		offsets[l.id] = l.bank.StrategicOffset(year)
		offset += offsets[l.id]
	}

	fleet, err := s.buildFleet(e, year)
	if err != nil {
		return nil, nil, err
	}
	if len(fleet.composites) == 0 || fleet.totalSales <= 0 {
		return nil, nil, fmt.Errorf("%w: entity has no base-year sales", sim.ErrInputValidation)
	}
	classes, err := s.classContexts(fleet, year)
	if err != nil {
		return nil, nil, err
	}

	baseTotal := fleet.contextSales
	parentShares := make(map[string]float64)
	for _, p := range s.tree.ResponsiveParents() {
		sum := 0.0
		for _, leaf := range p.LeafIDs() {
			sum += fleet.baseSales[leaf]
		}
		parentShares[p.ID] = sum / fleet.totalSales
	}
	bounds := make(map[string]sim.ShareBounds)
	noAltFloor := make(map[string]float64)
	for _, leaf := range s.tree.LeafIDs() {
		if b, ok := s.tables.Bounds(leaf, year); ok {
			bounds[leaf] = b
		}
		if f := fleet.noAltSales[leaf] / fleet.totalSales; f > 0 {
			noAltFloor[leaf] = f
		}
	}
	fuelPrices := make(map[string]producer.FuelPrices, len(classes))
	for id, c := range classes {
		fuelPrices[id] = c.fuel
	}
	gcYears := s.opts.GeneralizedCostYears
	producerGC := func(cv *sim.CompositeVehicle, cost, gpmi, kwh float64) float64 {
		return classes[cv.MarketClassID].params(gcYears, 0, 0).GeneralizedCost(cost, gpmi, kwh)
	}

	var best *outcome
	var consumerShares map[string]float64
	sales := baseTotal
	tol := s.opts.ProducerConsumerIterationTolerance
	iterations := s.opts.OuterIterations()
	for k := 0; k < iterations; k++ {
		sr, err := producer.Search(producer.SearchInput{
			ManufacturerID:    e.id,
			Year:              year,
			OuterIteration:    k,
			Composites:        fleet.composites,
			Tree:              s.tree,
			TotalSales:        sales,
			ParentShares:      parentShares,
			Bounds:            bounds,
			NoAltFloor:        noAltFloor,
			StrategicOffsetMg: offset,
			ConsumerShares:    consumerShares,
			PreviousShares:    e.previousShares,
			FuelPrices:        fuelPrices,
			GeneralizedCost:   producerGC,
			Options:           producer.OptionsFrom(s.opts),
			Trace:             s.result.Trace,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("producer search: %w", err)
		}
		priced, err := pricing.CrossSubsidize(pricing.Input{
			ManufacturerID: e.id,
			Year:           year,
			OuterIteration: k,
			Tree:           s.tree,
			ParentShares:   parentShares,
			Classes:        s.classInputs(sr.Best, classes, bounds, noAltFloor),
			ShareModel:     s.shares,
			Options:        pricing.OptionsFrom(s.opts),
			Trace:          s.result.Trace,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cross subsidy: %w", err)
		}
		resp := priced.Response
		o := &outcome{search: sr, priced: priced, sales: sales, iteration: k + 1}
		o.converged = resp.ShareDeltaTotal <= tol && math.Abs(1-resp.PriceCostRatioTotal) <= tol
		s.result.Trace.RecordOuter(trace.OuterIterationRecord{
			ManufacturerID:      e.id,
			CalendarYear:        year,
			OuterIteration:      k,
			ShareDeltaTotal:     resp.ShareDeltaTotal,
			PriceCostRatioTotal: resp.PriceCostRatioTotal,
			ConvergenceScore:    resp.ConvergenceScore,
			ComplianceRatio:     sr.Best.ComplianceRatio,
			Converged:           o.converged,
		})
		log.WithFields(logrus.Fields{
			"outer_iter":  k,
			"share_delta": resp.ShareDeltaTotal,
			"price_ratio": resp.PriceCostRatioTotal,
			"compliance":  sr.Best.ComplianceRatio,
		}).Debug("outer iteration")

		if best == nil || (o.converged && !best.converged) || (o.converged == best.converged && o.score() < best.score()) {
			best = o
		}
		if o.converged {
			break
		}
		consumerShares = resp.AbsShares()
		sales = s.demandResponse(baseTotal, e.referencePrice, resp.AveragePrice())
	}

	ey := &EntityYear{
		EntityID:        e.id,
		Decision:        best.search.Best,
		Response:        best.priced.Response,
		Multipliers:     best.priced.Multipliers,
		OuterIterations: best.iteration,
		Converged:       best.converged,
		NonConvergence:  s.opts.IterateProducerConsumer && !best.converged,
		Compliant:       best.search.Compliant,
	}
	if ey.NonConvergence {
		log.WithError(sim.ErrNonConvergence).WithFields(logrus.Fields{
			"score":       best.score(),
			"share_delta": best.priced.Response.ShareDeltaTotal,
			"price_ratio": best.priced.Response.PriceCostRatioTotal,
		}).Warn("producer/consumer loop did not converge, using best iteration")
	}
	if !ey.Compliant {
		log.WithField("compliance_ratio", ey.Decision.ComplianceRatio).Warn("no compliant candidate found")
	}

	handles := s.finalize(e, fleet, classes, best)
	if err := s.settleCredits(e, year, handles, offsets, ey.NonConvergence); err != nil {
		return nil, nil, err
	}
	e.previousShares = ey.Decision.AbsShares()
	if p := salesWeightedPrice(s.arena, handles); p > 0 {
		e.referencePrice = p
	}
	return ey, handles, nil
}

// demandResponse scales sales by the price elasticity of demand against the
// prior year's average price.
func (s *session) demandResponse(sales, referencePrice, price float64) float64 {
	eps := s.opts.NewVehiclePriceElasticityOfDemand
	if eps == 0 || referencePrice <= 0 || price <= 0 {
		return sales
	}
	return math.Max(0, sales*(1+eps*(price/referencePrice-1)))
}

// classContexts resolves fuel prices, price modifications and calibrated VMT
// for every market class in year.
func (s *session) classContexts(fleet *yearFleet, year int) (map[string]classContext, error) {
	ctxYear := s.opts.ContextYear(year)
	liquidFuel := make(map[string]string)
	plugs := false
	for _, h := range fleet.vehicles {
		v := s.arena.Get(h)
		plugs = plugs || v.FuelingClass.Plugs()
		if v.InUseFuelID == s.opts.ElectricityFuelID || v.FuelingClass == sim.FuelingBEV {
			continue
		}
		if _, ok := liquidFuel[v.MarketClassID]; !ok {
			liquidFuel[v.MarketClassID] = v.InUseFuelID
		}
	}
	electricity := 0.0
	if p, err := s.tables.FuelPrice(s.opts.ElectricityFuelID, ctxYear); err == nil {
		electricity = p.Retail
	} else if plugs {
		return nil, fmt.Errorf("%w: %w", sim.ErrInputValidation, err)
	}

	out := make(map[string]classContext)
	for _, leaf := range s.tree.LeafIDs() {
		cal, err := s.tables.Calibrations.Lookup(leaf, year)
		if err != nil {
			return nil, err
		}
		c := classContext{
			fuel:              producer.FuelPrices{Electricity: electricity},
			refuelEfficiency:  1,
			priceModification: s.tables.PriceModification(leaf, year),
			annualVMT:         cal.AnnualVMT,
		}
		if id, ok := liquidFuel[leaf]; ok {
			p, err := s.tables.FuelPrice(id, ctxYear)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", sim.ErrInputValidation, err)
			}
			f := s.tables.OnroadFuel(id, year)
			c.fuel.Liquid = p.Retail
			c.carbonIntensity = f.DirectCO2eGramsPerUnit
			c.refuelEfficiency = f.RefuelEfficiency
		}
		out[leaf] = c
	}
	return out, nil
}

// classInputs prices a producer decision for the cross-subsidy search.
// Classes the entity has no composite in are held at zero share; an offered
// class the producer sized to zero keeps its bounds and average cost so
// consumers can still choose it.
func (s *session) classInputs(d *sim.ProducerDecision, classes map[string]classContext, bounds map[string]sim.ShareBounds, noAltFloor map[string]float64) map[string]pricing.ClassInput {
	offered := make(map[string]bool, len(d.Composites))
	for _, cd := range d.Composites {
		offered[cd.MarketClassID] = true
	}
	out := make(map[string]pricing.ClassInput, len(classes))
	for _, leaf := range s.tree.LeafIDs() {
		c := classes[leaf]
		in := pricing.ClassInput{
			LiquidFuelPrice:   c.fuel.Liquid,
			CarbonIntensity:   c.carbonIntensity,
			RefuelEfficiency:  c.refuelEfficiency,
			ElectricityPrice:  c.fuel.Electricity,
			PriceModification: c.priceModification,
			NoAltFloor:        noAltFloor[leaf],
		}
		if m, ok := d.MarketClass(leaf); ok && offered[leaf] {
			in.ProducerAbsShare = m.AbsShare
			in.AverageCost = m.AverageCost
			in.CO2eGPMI = m.AverageCO2eGPMI
			in.KWhPMI = m.AverageKWhPMI
			if b, ok := bounds[leaf]; ok {
				in.Bounds = &b
			}
		} else {
			in.Bounds = &sim.ShareBounds{Min: 0, Max: 0}
		}
		out[leaf] = in
	}
	return out
}

// finalize decomposes the chosen decision onto the model-year vehicles and
// prices them with the chosen multipliers.
func (s *session) finalize(e *entity, fleet *yearFleet, classes map[string]classContext, best *outcome) []sim.VehicleHandle {
	d := best.search.Best
	wtp := s.opts.FootprintWTPDollarsPerFt2
	gcYears := s.opts.GeneralizedCostYears
	gc := func(v *sim.Vehicle) costcurve.GeneralizedCostParams {
		return classes[v.MarketClassID].params(gcYears, v.FootprintFt2, wtp)
	}
	for _, cv := range fleet.composites {
		cd, ok := d.Composite(cv.ID)
		if !ok {
			continue
		}
		cv.InitialRegisteredCount = cd.Sales
		cv.Decompose(s.arena, cd.Sales, cd.CO2eGPMI, gc)
	}
	for _, h := range fleet.vehicles {
		v := s.arena.Get(h)
		mult, ok := best.priced.Multipliers[v.MarketClassID]
		if !ok {
			mult = 1
		}
		v.Price = v.Cost*mult + classes[v.MarketClassID].priceModification
		v.InitialRegisteredCount = v.Sales
		s.latest[v.BaseHandle] = h
	}
	s.log.WithFields(logrus.Fields{
		"entity":   e.id,
		"year":     d.ModelYear,
		"vehicles": len(fleet.vehicles),
		"sales":    d.TotalSales,
	}).Debug("vehicles finalized")
	return fleet.vehicles
}

// settleCredits records each ledger's model-year compliance and applies the
// bank's transfers to the affected model-year cert Mg.
func (s *session) settleCredits(e *entity, year int, handles []sim.VehicleHandle, offsets map[string]float64, nonConvergence bool) error {
	for _, l := range e.ledgers {
		row := sim.ManufacturerAnnualData{
			ManufacturerID:    l.id,
			ModelYear:         year,
			StrategicOffsetMg: offsets[l.id],
			NonConvergence:    nonConvergence,
		}
		for _, h := range handles {
			v := s.arena.Get(h)
			if !l.manufacturers[v.ManufacturerID] {
				continue
			}
			row.TargetCO2eMg += v.TargetCO2eMg
			row.CalendarYearCertCO2eMg += v.CertCO2eMg
			row.TotalCost += v.Cost * v.Sales
			row.TotalSales += v.Sales
		}
		row.ModelYearCertCO2eMg = row.CalendarYearCertCO2eMg
		row.ComplianceRatio = (row.CalendarYearCertCO2eMg - row.StrategicOffsetMg) / math.Max(1, row.TargetCO2eMg)
		s.madIndex[madKey{l.id, year}] = len(s.result.ManufacturerAnnual)
		s.result.ManufacturerAnnual = append(s.result.ManufacturerAnnual, row)

		transfers, err := l.bank.Handle(year, row.TargetCO2eMg, row.CalendarYearCertCO2eMg)
		if err != nil {
			return err
		}
		for _, tx := range transfers {
			x := tx.AmountMg.InexactFloat64()
			if i, ok := s.madIndex[madKey{l.id, tx.ToYear}]; ok {
				s.result.ManufacturerAnnual[i].ModelYearCertCO2eMg -= x
			}
			if i, ok := s.madIndex[madKey{l.id, tx.FromYear}]; ok {
				s.result.ManufacturerAnnual[i].ModelYearCertCO2eMg += x
			}
		}
	}
	return nil
}

func salesWeightedPrice(arena *sim.VehicleArena, handles []sim.VehicleHandle) float64 {
	sorted := append([]sim.VehicleHandle(nil), handles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	num, den := 0.0, 0.0
	for _, h := range sorted {
		v := arena.Get(h)
		num += v.Price * v.Sales
		den += v.Sales
	}
	if den == 0 {
		return 0
	}
	return num / den
}
