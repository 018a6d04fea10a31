// Package testutil provides shared test infrastructure for the simulator.
// It writes a small, complete input directory and holds assertion helpers
// used across the sim/ test packages.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Fleet describes a two-market-class input set: an ICE and a BEV sedan per
// manufacturer, a single reg class and flat context projections.
type Fleet struct {
	Manufacturers []string
	FirstYear     int
	LastYear      int
	ICESales      float64
	BEVSales      float64
	TargetGPMI    float64
	// BEVMinShare writes a production constraint when positive, starting in
	// BEVMinShareYear or FirstYear when that is zero.
	BEVMinShare     float64
	BEVMinShareYear int
	// ExtraVehicles are raw base-year vehicle rows; their manufacturers must
	// be listed in Manufacturers.
	ExtraVehicles []string
	// SizeClassSales replaces the single midsize projection with per size
	// class sales for every year.
	SizeClassSales map[string]float64
	// CreditSeeds are "manufacturer,year,Mg,life" rows.
	CreditSeeds []string
}

// DefaultFleet is one manufacturer with 2020 base-year vehicles, context
// projections through 2030 and a 200 g/mi target.
func DefaultFleet() Fleet {
	return Fleet{
		Manufacturers: []string{"OEM_A"},
		FirstYear:     2020,
		LastYear:      2030,
		ICESales:      600000,
		BEVSales:      100000,
		TargetGPMI:    200,
	}
}

// Header returns the template metadata row for the named input template.
func Header(name string) string {
	return fmt.Sprintf("input_template_name:,%s,input_template_version:,0.1\n", name)
}

// WriteFleet writes every input template for f into dir.
func WriteFleet(t testing.TB, dir string, f Fleet) {
	t.Helper()
	files := map[string]string{}
	add := func(name string, lines ...string) {
		files[name] = Header(name) + strings.Join(lines, "\n") + "\n"
	}

	add("market_classes",
		"market_class_id,fueling_class,ownership_class",
		"ICE,ICE,private",
		"BEV,BEV,private")
	add("reg_classes", "reg_class_id,description", "car,passenger car")

	mfrs := []string{"manufacturer_id"}
	vehicles := []string{"vehicle_name,manufacturer_id,model_year,reg_class_id,context_size_class," +
		"electrification_class,cost_curve_class,in_use_fuel_id,cert_fuel_id,sales,footprint_ft2," +
		"curbweight_lbs,body_style,msrp_dollars,gvwr_lbs,gcwr_lbs,cert_co2e_grams_per_mile,battery_kwh,structure_material"}
	n := float64(len(f.Manufacturers))
	for _, m := range f.Manufacturers {
		mfrs = append(mfrs, m)
		vehicles = append(vehicles,
			fmt.Sprintf("ice_sedan,%s,%d,car,midsize,N,ice_car,pump gasoline,gasoline,%g,46,3400,sedan,28000,4500,4500,250,,steel", m, f.FirstYear, f.ICESales/n),
			fmt.Sprintf("bev_sedan,%s,%d,car,midsize,EV,bev_car,US electricity,electricity,%g,46,4000,sedan,42000,5000,5000,0,75,steel", m, f.FirstYear, f.BEVSales/n))
	}
	vehicles = append(vehicles, f.ExtraVehicles...)
	add("manufacturers", mfrs...)
	add("vehicles", vehicles...)

	add("cost_clouds",
		"cost_curve_class,model_year,new_vehicle_mfr_cost_dollars,co2e_grams_per_mile,kwh_per_mile",
		fmt.Sprintf("ice_car,%d,30000,150,0", f.FirstYear),
		fmt.Sprintf("ice_car,%d,27000,200,0", f.FirstYear),
		fmt.Sprintf("ice_car,%d,25500,250,0", f.FirstYear),
		fmt.Sprintf("ice_car,%d,25000,300,0", f.FirstYear),
		fmt.Sprintf("bev_car,%d,36000,0,0.28", f.FirstYear))

	add("sales_share_params",
		"market_class_id,start_year,annual_vmt,price_amortization_period,share_weight,discount_rate,o_m_costs,average_occupancy,logit_exponent_mu",
		fmt.Sprintf("ICE,%d,15000,5,1,0.07,0,1.58,-8", f.FirstYear),
		fmt.Sprintf("BEV,%d,15000,5,0.6,0.07,0,1.58,-8", f.FirstYear))

	rereg := []string{"start_model_year,age,market_class_id,reregistered_proportion"}
	vmt := []string{"start_model_year,age,market_class_id,annual_vmt"}
	for _, mc := range []string{"ICE", "BEV"} {
		for age := 0; age <= 30; age++ {
			rereg = append(rereg, fmt.Sprintf("1990,%d,%s,%g", age, mc, math.Max(0, 1-0.03*float64(age))))
			vmt = append(vmt, fmt.Sprintf("1990,%d,%s,%d", age, mc, 15000-300*age))
		}
	}
	add("reregistration_fixed_by_age", rereg...)
	add("annual_vmt_fixed_by_age", vmt...)

	prices := []string{"context_id,case_id,fuel_id,calendar_year,dollar_basis,retail_dollars_per_unit,pretax_dollars_per_unit"}
	market := []string{"context_id,case_id,context_size_class,calendar_year,sales"}
	for y := f.FirstYear; y <= f.LastYear; y++ {
		prices = append(prices,
			fmt.Sprintf("reference,reference,pump gasoline,%d,2020,3.00,2.50", y),
			fmt.Sprintf("reference,reference,US electricity,%d,2020,0.12,0.12", y))
		if f.SizeClassSales == nil {
			market = append(market, fmt.Sprintf("reference,reference,midsize,%d,%g", y, f.ICESales+f.BEVSales))
			continue
		}
		sizes := make([]string, 0, len(f.SizeClassSales))
		for size := range f.SizeClassSales {
			sizes = append(sizes, size)
		}
		sort.Strings(sizes)
		for _, size := range sizes {
			market = append(market, fmt.Sprintf("reference,reference,%s,%d,%g", size, y, f.SizeClassSales[size]))
		}
	}
	add("context_fuel_prices", prices...)
	add("context_new_vehicle_market", market...)

	add("onroad_fuels",
		"fuel_id,start_year,unit,direct_co2e_grams_per_unit,refuel_efficiency",
		fmt.Sprintf("pump gasoline,%d,gallon,8887,1", f.FirstYear),
		fmt.Sprintf("US electricity,%d,kWh,0,0.9", f.FirstYear))

	add("policy_targets",
		"reg_class_id,start_year,ghg_target_co2e_grams_per_mile,lifetime_vmt",
		fmt.Sprintf("car,%d,%g,195264", f.FirstYear, f.TargetGPMI))

	if f.BEVMinShare > 0 {
		start := f.BEVMinShareYear
		if start == 0 {
			start = f.FirstYear
		}
		add("production_constraints",
			"start_year,BEV:minimum_share,BEV:maximum_share",
			fmt.Sprintf("%d,%g,1", start, f.BEVMinShare))
	}
	if len(f.CreditSeeds) > 0 {
		add("ghg_credits", append([]string{"manufacturer_id,year,Mg,life"}, f.CreditSeeds...)...)
	}

	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name+".csv"), []byte(body), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t testing.TB, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
