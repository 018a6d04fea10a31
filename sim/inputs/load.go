package inputs

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/consumer"
	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
	"github.com/vehicle-sim/vehicle-sim/sim/stock"
)

// TemplateVersion is the minimum version accepted for every template.
const TemplateVersion = "0.1"

// Template names. Each is read from "<name>.csv" in the input directory.
const (
	MarketClassesTemplate           = "market_classes"
	RegClassesTemplate              = "reg_classes"
	ManufacturersTemplate           = "manufacturers"
	VehiclesTemplate                = "vehicles"
	CostCloudsTemplate              = "cost_clouds"
	SalesShareParamsTemplate        = "sales_share_params"
	ProductionConstraintsTemplate   = "production_constraints"
	RequiredSalesShareTemplate      = "required_sales_share"
	ReregistrationTemplate          = "reregistration_fixed_by_age"
	AnnualVMTTemplate               = "annual_vmt_fixed_by_age"
	ContextFuelPricesTemplate       = "context_fuel_prices"
	ContextStockVMTTemplate         = "context_stock_vmt"
	ContextNewVehicleMarketTemplate = "context_new_vehicle_market"
	DeflatorsTemplate               = "context_implicit_price_deflators"
	PolicyTargetsTemplate           = "policy_targets"
	ProductionMultipliersTemplate   = "production_multipliers"
	OffCycleCreditsTemplate         = "offcycle_credits"
	DriveCycleWeightsTemplate       = "drive_cycle_weights"
	GHGCreditsTemplate              = "ghg_credits"
	OnroadFuelsTemplate             = "onroad_fuels"
	PriceModificationsTemplate      = "price_modifications"
)

// RequiredTemplates must be present in every input directory.
var RequiredTemplates = []string{
	MarketClassesTemplate, RegClassesTemplate, ManufacturersTemplate, VehiclesTemplate,
	CostCloudsTemplate, SalesShareParamsTemplate, ReregistrationTemplate, AnnualVMTTemplate,
	ContextFuelPricesTemplate, PolicyTargetsTemplate,
}

// OptionalTemplates are read when present.
var OptionalTemplates = []string{
	ProductionConstraintsTemplate, RequiredSalesShareTemplate, ContextStockVMTTemplate,
	ContextNewVehicleMarketTemplate, DeflatorsTemplate, ProductionMultipliersTemplate,
	OffCycleCreditsTemplate, DriveCycleWeightsTemplate, GHGCreditsTemplate,
	OnroadFuelsTemplate, PriceModificationsTemplate,
}

// loader accumulates errors across every template.
type loader struct {
	opts   sim.SessionOptions
	tables map[string]*Table
	out    *Tables
	errs   error
}

// Load reads every template in dir. All problems are gathered into a single
// *ValidationError; no partial Tables are returned with it.
func Load(dir string, opts sim.SessionOptions) (*Tables, error) {
	l := &loader{opts: opts, tables: make(map[string]*Table), out: &Tables{}}
	for _, name := range RequiredTemplates {
		l.read(dir, name, true)
	}
	for _, name := range OptionalTemplates {
		l.read(dir, name, false)
	}

	l.parseMarketClasses()
	l.parseRegClasses()
	l.parseManufacturers()
	l.parseDriveCycleWeights()
	l.parseCostClouds()
	l.parseSalesShareParams()
	l.parseBounds()
	l.parseStockTables()
	l.parseDeflators()
	l.parseFuelPrices()
	l.parseOnroadFuels()
	l.parseContext()
	l.parsePolicyTargets()
	l.parseProductionMultipliers()
	l.parsePriceModifications()
	l.parseOffCycleCredits()
	l.parseGHGCredits()
	l.parseVehicles()
	l.crossCheck()

	if err := newValidationError(l.errs); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"dir":            dir,
		"vehicles":       len(l.out.Vehicles),
		"manufacturers":  len(l.out.Manufacturers),
		"market_classes": len(l.out.MarketClasses),
	}).Info("inputs loaded")
	return l.out, nil
}

func (l *loader) fail(err error) {
	l.errs = multierr.Append(l.errs, err)
}

func (l *loader) read(dir, name string, required bool) {
	path := filepath.Join(dir, name+".csv")
	t, err := ReadTemplate(path, name, TemplateVersion)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return
		}
		l.fail(err)
		return
	}
	l.tables[name] = t
}

// table returns the named template if it was read and has cols.
func (l *loader) table(name string, cols ...string) (*Table, bool) {
	t, ok := l.tables[name]
	if !ok {
		return nil, false
	}
	if err := t.Require(cols...); err != nil {
		l.fail(err)
		return nil, false
	}
	return t, true
}

// rows calls fn for every row, collecting conversion errors.
func (l *loader) rows(t *Table, fn func(r Row)) {
	var errs error
	for i := range t.Rows {
		fn(t.Row(i, &errs))
	}
	if errs != nil {
		l.fail(errs)
	}
}

func (l *loader) parseMarketClasses() {
	t, ok := l.table(MarketClassesTemplate, "market_class_id", "fueling_class", "ownership_class")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		f, err := sim.ParseFuelingClass(r.String("fueling_class"))
		if err != nil {
			l.fail(fmt.Errorf("%s: %w", t.Name, err))
		}
		l.out.MarketClasses = append(l.out.MarketClasses, sim.MarketClassDef{
			ID:             r.String("market_class_id"),
			FuelingClass:   f,
			OwnershipClass: r.Raw("ownership_class"),
		})
	})
	if _, err := sim.NewMarketTree(l.out.MarketClasses); err != nil {
		l.fail(fmt.Errorf("%s: %w", t.Name, err))
	}
}

func (l *loader) parseRegClasses() {
	t, ok := l.table(RegClassesTemplate, "reg_class_id", "description")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		l.out.RegClasses = append(l.out.RegClasses, RegClass{ID: r.String("reg_class_id"), Description: r.Raw("description")})
	})
}

func (l *loader) parseManufacturers() {
	t, ok := l.table(ManufacturersTemplate, "manufacturer_id")
	if !ok {
		return
	}
	seen := make(map[string]bool)
	l.rows(t, func(r Row) {
		id := r.String("manufacturer_id")
		if seen[id] {
			l.fail(fmt.Errorf("%s: duplicate manufacturer %q", t.Name, id))
			return
		}
		seen[id] = true
		l.out.Manufacturers = append(l.out.Manufacturers, id)
	})
	sort.Strings(l.out.Manufacturers)
}

func (l *loader) parseDriveCycleWeights() {
	l.out.DriveCycleWeights = make(map[sim.FuelingClass]*sim.StartYearTable[*costcurve.DriveCycleWeights])
	t, ok := l.table(DriveCycleWeightsTemplate, "start_year", "share_id", "fueling_class")
	if !ok {
		return
	}
	edges := t.ColumnsWithPrefix("")
	l.rows(t, func(r Row) {
		f, err := sim.ParseFuelingClass(r.String("fueling_class"))
		if err != nil {
			l.fail(fmt.Errorf("%s: %w", t.Name, err))
			return
		}
		weights := make(map[string]float64)
		for _, col := range edges {
			if strings.Contains(col, "->") && r.Raw(col) != "" {
				weights[col] = r.Float(col)
			}
		}
		w, err := costcurve.NewDriveCycleWeights(weights)
		if err != nil {
			l.fail(fmt.Errorf("%s share %q: %w", t.Name, r.Raw("share_id"), err))
			return
		}
		st, ok := l.out.DriveCycleWeights[f]
		if !ok {
			st = &sim.StartYearTable[*costcurve.DriveCycleWeights]{}
			l.out.DriveCycleWeights[f] = st
		}
		st.Set(r.Int("start_year"), w)
	})
}

// cloudValue reads a cloud quantity either from its direct column
// (prefix+kind) or by weighting per-drive-cycle columns
// (prefix+cycle+":"+kind). A blank direct cell reads as zero.
func cloudValue(r Row, prefix, kind string, weights *costcurve.DriveCycleWeights) (float64, bool, error) {
	if r.t.Has(prefix + kind) {
		return r.OptFloat(prefix+kind, 0), true, nil
	}
	if weights == nil {
		return 0, false, nil
	}
	values := make(map[string]float64)
	for _, leaf := range weights.Leaves() {
		col := prefix + leaf + ":" + kind
		if !r.t.Has(col) {
			return 0, false, nil
		}
		values[leaf] = r.OptFloat(col, 0)
	}
	v, err := weights.Evaluate(values)
	return v, err == nil, err
}

// isPHEVRow reports whether any charge-depleting column is filled.
func isPHEVRow(r Row, cdCols []string) bool {
	for _, col := range cdCols {
		if r.Raw(col) != "" {
			return true
		}
	}
	return false
}

func (l *loader) parseCostClouds() {
	t, ok := l.table(CostCloudsTemplate, "cost_curve_class", "model_year", "new_vehicle_mfr_cost_dollars")
	if !ok {
		return
	}
	type key struct {
		class string
		year  int
	}
	clouds := make(map[key]*costcurve.Cloud)
	var order []key
	cdCols := t.ColumnsWithPrefix("cd:")
	l.rows(t, func(r Row) {
		k := key{r.String("cost_curve_class"), r.Int("model_year")}
		c, ok := clouds[k]
		if !ok {
			c = &costcurve.Cloud{Class: k.class, ModelYear: k.year}
			clouds[k] = c
			order = append(order, k)
		}
		var weights *costcurve.DriveCycleWeights
		if f := r.Raw("fueling_class"); f != "" {
			if st, ok := l.out.DriveCycleWeights[sim.FuelingClass(f)]; ok {
				weights, _ = st.At(k.year)
			}
		}
		cost := r.Float("new_vehicle_mfr_cost_dollars")
		if isPHEVRow(r, cdCols) {
			p := costcurve.PHEVPoint{Cost: cost}
			var err1, err2, err3 error
			p.CDCO2eGPMI, _, err1 = cloudValue(r, "cd:", kindGPMI, weights)
			p.CDKWhPMI, _, err2 = cloudValue(r, "cd:", kindKWh, weights)
			p.CSCO2eGPMI, _, err3 = cloudValue(r, "cs:", kindGPMI, weights)
			if err := multierr.Combine(err1, err2, err3); err != nil {
				l.fail(fmt.Errorf("%s class %q: %w", t.Name, k.class, err))
				return
			}
			c.PHEV = append(c.PHEV, p)
			return
		}
		gpmi, okG, errG := cloudValue(r, "", kindGPMI, weights)
		kwh, okK, errK := cloudValue(r, "", kindKWh, weights)
		if err := multierr.Combine(errG, errK); err != nil {
			l.fail(fmt.Errorf("%s class %q: %w", t.Name, k.class, err))
			return
		}
		if !okG && !okK {
			l.fail(fmt.Errorf("%s class %q: no %s or %s values", t.Name, k.class, kindGPMI, kindKWh))
			return
		}
		c.Points = append(c.Points, costcurve.Point{CO2eGPMI: gpmi, KWhPMI: kwh, Cost: cost})
	})
	if len(order) == 0 {
		return
	}
	list := make([]costcurve.Cloud, 0, len(order))
	for _, k := range order {
		list = append(list, *clouds[k])
	}
	lib, err := costcurve.NewLibrary(list)
	if err != nil {
		l.fail(fmt.Errorf("%s: %w", t.Name, err))
		return
	}
	l.out.CostClouds = lib
}

const (
	kindGPMI = "co2e_grams_per_mile"
	kindKWh  = "kwh_per_mile"
)

func (l *loader) parseSalesShareParams() {
	l.out.Calibrations = consumer.NewCalibrations()
	t, ok := l.table(SalesShareParamsTemplate, "market_class_id", "start_year", "annual_vmt",
		"price_amortization_period", "share_weight", "discount_rate", "o_m_costs",
		"average_occupancy", "logit_exponent_mu")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		cal := consumer.Calibration{
			ShareWeight:             r.Float("share_weight"),
			LogitExponentMu:         r.Float("logit_exponent_mu"),
			PriceAmortizationPeriod: r.Float("price_amortization_period"),
			DiscountRate:            r.Float("discount_rate"),
			AnnualVMT:               r.Float("annual_vmt"),
			OMCosts:                 r.Float("o_m_costs"),
			AverageOccupancy:        r.Float("average_occupancy"),
		}
		if cal.LogitExponentMu >= 0 {
			l.fail(fmt.Errorf("%s: logit_exponent_mu must be negative, got %v", t.Name, cal.LogitExponentMu))
		}
		l.out.Calibrations.Set(r.String("market_class_id"), r.Int("start_year"), cal)
	})
}

// parseBounds reads production constraints and required sales shares, both
// keyed by "{market_class}:minimum_share" style columns.
func (l *loader) parseBounds() {
	l.out.ProductionConstraints = make(map[string]*sim.StartYearTable[sim.ShareBounds])
	l.out.RequiredShares = make(map[string]*sim.StartYearTable[float64])
	if t, ok := l.table(ProductionConstraintsTemplate, "start_year"); ok {
		classes := classPrefixes(t, ":minimum_share", ":maximum_share")
		l.rows(t, func(r Row) {
			year := r.Int("start_year")
			for _, c := range classes {
				b := sim.ShareBounds{
					Min: r.OptFloat(c+":minimum_share", 0),
					Max: r.OptFloat(c+":maximum_share", 1),
				}
				if b.Min < 0 || b.Max > 1 || b.Min > b.Max {
					l.fail(fmt.Errorf("%s: %s bounds [%v, %v] invalid", t.Name, c, b.Min, b.Max))
					continue
				}
				st, ok := l.out.ProductionConstraints[c]
				if !ok {
					st = &sim.StartYearTable[sim.ShareBounds]{}
					l.out.ProductionConstraints[c] = st
				}
				st.Set(year, b)
			}
		})
	}
	if t, ok := l.table(RequiredSalesShareTemplate, "start_year"); ok {
		classes := classPrefixes(t, ":minimum_share")
		l.rows(t, func(r Row) {
			year := r.Int("start_year")
			for _, c := range classes {
				if r.Raw(c+":minimum_share") == "" {
					continue
				}
				st, ok := l.out.RequiredShares[c]
				if !ok {
					st = &sim.StartYearTable[float64]{}
					l.out.RequiredShares[c] = st
				}
				st.Set(year, r.Share(c+":minimum_share"))
			}
		})
	}
}

// classPrefixes returns the distinct "{class}" parts of columns ending in any suffix.
func classPrefixes(t *Table, suffixes ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range suffixes {
		for _, col := range t.ColumnsWithSuffix(s) {
			c := strings.TrimSuffix(col, s)
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (l *loader) parseStockTables() {
	l.out.Reregistration = stock.NewAgeTable(ReregistrationTemplate)
	l.out.AnnualVMT = stock.NewAgeTable(AnnualVMTTemplate)
	if t, ok := l.table(ReregistrationTemplate, "start_model_year", "age", "market_class_id", "reregistered_proportion"); ok {
		l.rows(t, func(r Row) {
			l.out.Reregistration.Set(r.String("market_class_id"), r.Int("age"), r.Int("start_model_year"), r.Share("reregistered_proportion"))
		})
	}
	if t, ok := l.table(AnnualVMTTemplate, "start_model_year", "age", "market_class_id", "annual_vmt"); ok {
		l.rows(t, func(r Row) {
			l.out.AnnualVMT.Set(r.String("market_class_id"), r.Int("age"), r.Int("start_model_year"), r.Float("annual_vmt"))
		})
	}
}

func (l *loader) parseDeflators() {
	l.out.Deflators = make(map[int]float64)
	t, ok := l.table(DeflatorsTemplate, "calendar_year", "price_deflator")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		l.out.Deflators[r.Int("calendar_year")] = r.Float("price_deflator")
	})
}

// inContext reports whether a context table row belongs to this session.
func (l *loader) inContext(r Row) bool {
	return r.Raw("context_id") == l.opts.ContextID && r.Raw("case_id") == l.opts.CaseID
}

func (l *loader) parseFuelPrices() {
	l.out.FuelPrices = make(map[string]map[int]FuelPrice)
	t, ok := l.table(ContextFuelPricesTemplate, "context_id", "case_id", "fuel_id", "calendar_year",
		"dollar_basis", "retail_dollars_per_unit", "pretax_dollars_per_unit")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		if !l.inContext(r) {
			return
		}
		fuel := r.String("fuel_id")
		basis := r.Int("dollar_basis")
		p := FuelPrice{
			Retail: l.out.ToDollarBasis(r.Float("retail_dollars_per_unit"), basis, l.opts.AnalysisDollarBasis),
			Pretax: l.out.ToDollarBasis(r.Float("pretax_dollars_per_unit"), basis, l.opts.AnalysisDollarBasis),
		}
		byYear, ok := l.out.FuelPrices[fuel]
		if !ok {
			byYear = make(map[int]FuelPrice)
			l.out.FuelPrices[fuel] = byYear
		}
		byYear[r.Int("calendar_year")] = p
	})
	if len(l.out.FuelPrices) == 0 {
		l.fail(fmt.Errorf("%s: no rows for context %q case %q", t.Name, l.opts.ContextID, l.opts.CaseID))
	}
}

func (l *loader) parseOnroadFuels() {
	l.out.OnroadFuels = make(map[string]*sim.StartYearTable[OnroadFuel])
	t, ok := l.table(OnroadFuelsTemplate, "fuel_id", "start_year", "unit", "direct_co2e_grams_per_unit", "refuel_efficiency")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		f := OnroadFuel{
			Unit:                   r.Raw("unit"),
			DirectCO2eGramsPerUnit: r.Float("direct_co2e_grams_per_unit"),
			RefuelEfficiency:       r.Float("refuel_efficiency"),
		}
		id := r.String("fuel_id")
		st, ok := l.out.OnroadFuels[id]
		if !ok {
			st = &sim.StartYearTable[OnroadFuel]{}
			l.out.OnroadFuels[id] = st
		}
		st.Set(r.Int("start_year"), f)
	})
}

func (l *loader) parseContext() {
	l.out.NewVehicleMarket = make(map[int]map[string]float64)
	l.out.ContextStockVMT = make(map[int]StockVMT)
	if t, ok := l.table(ContextNewVehicleMarketTemplate, "context_id", "case_id", "context_size_class", "calendar_year", "sales"); ok {
		l.rows(t, func(r Row) {
			if !l.inContext(r) {
				return
			}
			year := r.Int("calendar_year")
			bySize, ok := l.out.NewVehicleMarket[year]
			if !ok {
				bySize = make(map[string]float64)
				l.out.NewVehicleMarket[year] = bySize
			}
			bySize[r.String("context_size_class")] += r.Float("sales")
		})
	}
	if t, ok := l.table(ContextStockVMTTemplate, "context_id", "case_id", "calendar_year", "miles", "stock"); ok {
		l.rows(t, func(r Row) {
			if !l.inContext(r) {
				return
			}
			l.out.ContextStockVMT[r.Int("calendar_year")] = StockVMT{Miles: r.Float("miles"), Stock: r.Float("stock")}
		})
	}
}

func (l *loader) parsePolicyTargets() {
	l.out.PolicyTargets = make(map[string]*sim.StartYearTable[PolicyTarget])
	t, ok := l.table(PolicyTargetsTemplate, "reg_class_id", "start_year", "ghg_target_co2e_grams_per_mile", "lifetime_vmt")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		rc := r.String("reg_class_id")
		st, ok := l.out.PolicyTargets[rc]
		if !ok {
			st = &sim.StartYearTable[PolicyTarget]{}
			l.out.PolicyTargets[rc] = st
		}
		st.Set(r.Int("start_year"), PolicyTarget{
			CO2eGPMI:    r.Float("ghg_target_co2e_grams_per_mile"),
			LifetimeVMT: r.Float("lifetime_vmt"),
		})
	})
}

// parseKeyedColumns reads start_year rows whose remaining columns are keyed
// values, e.g. "fueling_class:BEV" or "hauling.BEV:price_modification_dollars".
func (l *loader) parseKeyedColumns(name, suffix string) *sim.StartYearTable[map[string]float64] {
	t, ok := l.table(name, "start_year")
	if !ok {
		return nil
	}
	st := &sim.StartYearTable[map[string]float64]{}
	l.rows(t, func(r Row) {
		m := make(map[string]float64)
		for _, col := range t.Header {
			if col == "start_year" || !strings.Contains(col, ":") || r.Raw(col) == "" {
				continue
			}
			if suffix != "" {
				if !strings.HasSuffix(col, suffix) {
					continue
				}
				m[strings.TrimSuffix(col, suffix)] = r.Float(col)
				continue
			}
			m[col] = r.Float(col)
		}
		st.Set(r.Int("start_year"), m)
	})
	return st
}

func (l *loader) parseProductionMultipliers() {
	l.out.ProductionMultipliers = l.parseKeyedColumns(ProductionMultipliersTemplate, "")
}

func (l *loader) parsePriceModifications() {
	l.out.PriceModifications = l.parseKeyedColumns(PriceModificationsTemplate, ":price_modification_dollars")
}

func (l *loader) parseOffCycleCredits() {
	t, ok := l.table(OffCycleCreditsTemplate, "start_year", "credit_name", "credit_group", "credit_destination")
	if !ok {
		return
	}
	cols := t.ColumnsWithPrefix("reg_class_id:")
	l.rows(t, func(r Row) {
		row := offCycleRow{
			startYear:   r.Int("start_year"),
			name:        r.String("credit_name"),
			group:       r.String("credit_group"),
			destination: r.String("credit_destination"),
			byRegClass:  make(map[string]float64),
		}
		if !strings.HasSuffix(row.destination, kindGPMI) && !strings.HasSuffix(row.destination, kindKWh) {
			l.fail(fmt.Errorf("%s: credit %q destination %q is not a g/mi or kWh/mi column", t.Name, row.name, row.destination))
		}
		for _, col := range cols {
			if r.Raw(col) != "" {
				row.byRegClass[strings.TrimPrefix(col, "reg_class_id:")] = r.Float(col)
			}
		}
		l.out.offCycle = append(l.out.offCycle, row)
	})
}

func (l *loader) parseGHGCredits() {
	t, ok := l.table(GHGCreditsTemplate, "manufacturer_id", "year", "Mg", "life")
	if !ok {
		return
	}
	l.rows(t, func(r Row) {
		l.out.CreditSeeds = append(l.out.CreditSeeds, CreditSeed{
			ManufacturerID: r.String("manufacturer_id"),
			Year:           r.Int("year"),
			Mg:             r.Float("Mg"),
			Life:           r.Int("life"),
		})
	})
}

// requiredVehicleColumns must be present in the vehicles template.
var requiredVehicleColumns = []string{
	"vehicle_name", "manufacturer_id", "model_year", "reg_class_id", "context_size_class",
	"electrification_class", "cost_curve_class", "in_use_fuel_id", "cert_fuel_id", "sales",
	"footprint_ft2", "curbweight_lbs", "body_style", "msrp_dollars", "gvwr_lbs", "gcwr_lbs",
}

// optionalVehicleColumns are read into Vehicle fields or attributes when present.
var optionalVehicleColumns = []string{
	"market_class_id", "cert_co2e_grams_per_mile", "battery_kwh", "eng_rated_hp",
	"target_coef_a", "target_coef_b", "target_coef_c", "engine_cylinders",
	"engine_displacement_liters", "unibody_structure", "drive_system", "dual_rear_wheel",
	"structure_material", "prior_redesign_year", "redesign_interval",
}

// numericAttributes are vehicle columns kept in the keyed attribute map.
var numericAttributes = map[string]bool{
	"eng_rated_hp": true, "target_coef_a": true, "target_coef_b": true, "target_coef_c": true,
	"engine_cylinders": true, "engine_displacement_liters": true,
}

// labelColumns are vehicle columns kept as text labels.
var labelColumns = []string{
	"reg_class_id", "context_size_class", "electrification_class", "cost_curve_class",
	"in_use_fuel_id", "cert_fuel_id", "body_style", "unibody_structure", "drive_system",
	"dual_rear_wheel", "structure_material",
}

var knownVehicleColumns = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range requiredVehicleColumns {
		m[c] = true
	}
	for _, c := range optionalVehicleColumns {
		m[c] = true
	}
	return m
}()

// ParseElectrificationClass maps a vehicle's electrification class to its
// fueling class.
func ParseElectrificationClass(s string) (sim.FuelingClass, error) {
	switch strings.ToUpper(s) {
	case "N", "ICE", "CONV", "MHEV":
		return sim.FuelingICE, nil
	case "HEV", "FHEV":
		return sim.FuelingHEV, nil
	case "PHEV":
		return sim.FuelingPHEV, nil
	case "EV", "BEV":
		return sim.FuelingBEV, nil
	case "FCV":
		return sim.FuelingFCV, nil
	}
	return "", fmt.Errorf("unknown electrification class %q", s)
}

// towingThresholdLbs is the GCWR − GVWR margin above which a vehicle hauls.
const towingThresholdLbs = 3000

// marketCategory returns "hauling" for pickups and towing-capable vehicles.
func marketCategory(v *sim.Vehicle) string {
	if v.BodyStyle == "pickup" || v.GCWRLbs-v.GVWRLbs >= towingThresholdLbs {
		return "hauling"
	}
	return "non_hauling"
}

// resolveMarketClass picks the vehicle's market class: an explicit column,
// else "{category}.{fueling}", else "{fueling}".
func (l *loader) resolveMarketClass(v *sim.Vehicle, explicit string, known map[string]bool) (string, error) {
	if explicit != "" {
		if !known[explicit] {
			return "", fmt.Errorf("unknown market class %q", explicit)
		}
		return explicit, nil
	}
	for _, id := range []string{marketCategory(v) + "." + string(v.FuelingClass), string(v.FuelingClass)} {
		if known[id] {
			return id, nil
		}
	}
	return "", fmt.Errorf("no market class for %s %s vehicle", marketCategory(v), v.FuelingClass)
}

func (l *loader) parseVehicles() {
	t, ok := l.table(VehiclesTemplate, requiredVehicleColumns...)
	if !ok {
		return
	}
	known := make(map[string]bool)
	for _, mc := range l.out.MarketClasses {
		known[mc.ID] = true
	}
	names := make(map[string]bool)
	l.rows(t, func(r Row) {
		v := &sim.Vehicle{
			Name:                 r.String("vehicle_name"),
			ManufacturerID:       r.String("manufacturer_id"),
			ModelYear:            r.Int("model_year"),
			ContextSizeClass:     r.Raw("context_size_class"),
			BodyStyle:            r.Raw("body_style"),
			RegClassID:           r.String("reg_class_id"),
			CostCurveClass:       r.String("cost_curve_class"),
			InUseFuelID:          r.Raw("in_use_fuel_id"),
			CertFuelID:           r.Raw("cert_fuel_id"),
			DriveSystem:          r.Raw("drive_system"),
			FootprintFt2:         r.Float("footprint_ft2"),
			CurbWeightLbs:        r.Float("curbweight_lbs"),
			GVWRLbs:              r.Float("gvwr_lbs"),
			GCWRLbs:              r.Float("gcwr_lbs"),
			MSRP:                 r.Float("msrp_dollars"),
			BaseYearSales:        r.Float("sales"),
			BatteryKWh:           r.OptFloat("battery_kwh", 0),
			BaseYearCertCO2eGPMI: r.OptFloat("cert_co2e_grams_per_mile", 0),
			PriorRedesignYear:    r.OptInt("prior_redesign_year", 0),
			RedesignInterval:     r.OptInt("redesign_interval", 0),
			BaseHandle:           sim.NoVehicle,
		}
		key := v.ManufacturerID + "/" + v.Name
		if names[key] {
			l.fail(fmt.Errorf("%s: duplicate vehicle %q for manufacturer %q", t.Name, v.Name, v.ManufacturerID))
		}
		names[key] = true
		if v.BaseYearSales < 0 {
			l.fail(fmt.Errorf("%s: vehicle %q has negative sales", t.Name, v.Name))
		}
		f, err := ParseElectrificationClass(r.Raw("electrification_class"))
		if err != nil {
			l.fail(fmt.Errorf("%s vehicle %q: %w", t.Name, v.Name, err))
			return
		}
		v.FuelingClass = f
		mc, err := l.resolveMarketClass(v, r.Raw("market_class_id"), known)
		if err != nil {
			l.fail(fmt.Errorf("%s vehicle %q: %w", t.Name, v.Name, err))
			return
		}
		v.MarketClassID = mc
		for _, col := range labelColumns {
			if s := r.Raw(col); s != "" {
				v.SetLabel(col, s)
			}
		}
		v.SetLabel("fueling_class", string(f))
		v.SetLabel("market_class_id", mc)
		for _, col := range t.Header {
			if numericAttributes[col] {
				v.SetAttribute(col, r.OptFloat(col, 0))
				continue
			}
			if knownVehicleColumns[col] {
				continue
			}
			// extra columns: numeric ones become attributes, others labels
			raw := r.Raw(col)
			if raw == "" {
				continue
			}
			if val, err := strconv.ParseFloat(raw, 64); err == nil {
				v.SetAttribute(col, val)
			} else {
				v.SetLabel(col, raw)
			}
		}
		l.out.Vehicles = append(l.out.Vehicles, v)
	})
	sort.SliceStable(l.out.Vehicles, func(i, j int) bool {
		a, b := l.out.Vehicles[i], l.out.Vehicles[j]
		if a.ManufacturerID != b.ManufacturerID {
			return a.ManufacturerID < b.ManufacturerID
		}
		return a.Name < b.Name
	})
}

// crossCheck verifies references between tables.
func (l *loader) crossCheck() {
	mcs := make(map[string]bool)
	for _, mc := range l.out.MarketClasses {
		mcs[mc.ID] = true
	}
	rcs := make(map[string]bool)
	for _, rc := range l.out.RegClasses {
		rcs[rc.ID] = true
	}
	mfrs := make(map[string]bool)
	for _, m := range l.out.Manufacturers {
		mfrs[m] = true
	}
	for _, v := range l.out.Vehicles {
		if len(mfrs) > 0 && !mfrs[v.ManufacturerID] {
			l.fail(fmt.Errorf("vehicle %q: manufacturer %q not in %s", v.Name, v.ManufacturerID, ManufacturersTemplate))
		}
		if len(rcs) > 0 && !rcs[v.RegClassID] {
			l.fail(fmt.Errorf("vehicle %q: reg class %q not in %s", v.Name, v.RegClassID, RegClassesTemplate))
		}
		if l.out.CostClouds != nil {
			if _, err := l.out.CostClouds.Cloud(v.CostCurveClass, l.opts.AnalysisInitialYear); err != nil {
				l.fail(fmt.Errorf("vehicle %q: %w", v.Name, err))
			}
		}
		if _, ok := l.out.PolicyTargets[v.RegClassID]; !ok && l.out.PolicyTargets != nil {
			l.fail(fmt.Errorf("vehicle %q: reg class %q has no %s", v.Name, v.RegClassID, PolicyTargetsTemplate))
		}
		if v.FuelingClass != sim.FuelingBEV && v.InUseFuelID != "" && l.out.FuelPrices != nil {
			if _, ok := l.out.FuelPrices[v.InUseFuelID]; !ok {
				l.fail(fmt.Errorf("vehicle %q: fuel %q has no %s", v.Name, v.InUseFuelID, ContextFuelPricesTemplate))
			}
		}
	}
	for _, c := range sortedKeys(l.out.ProductionConstraints) {
		if !mcs[c] {
			l.fail(fmt.Errorf("%s: unknown market class %q", ProductionConstraintsTemplate, c))
		}
	}
	for _, c := range sortedKeys(l.out.RequiredShares) {
		if !mcs[c] {
			l.fail(fmt.Errorf("%s: unknown market class %q", RequiredSalesShareTemplate, c))
		}
	}
	for _, s := range l.out.CreditSeeds {
		if len(mfrs) > 0 && !mfrs[s.ManufacturerID] {
			l.fail(fmt.Errorf("%s: unknown manufacturer %q", GHGCreditsTemplate, s.ManufacturerID))
		}
	}
	if len(l.out.FuelPrices) > 0 {
		if _, ok := l.out.FuelPrices[l.opts.ElectricityFuelID]; !ok && hasPlugIns(l.out.Vehicles) {
			l.fail(fmt.Errorf("%s: no prices for electricity fuel %q", ContextFuelPricesTemplate, l.opts.ElectricityFuelID))
		}
	}
}

func hasPlugIns(vs []*sim.Vehicle) bool {
	for _, v := range vs {
		if v.FuelingClass.Plugs() {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
