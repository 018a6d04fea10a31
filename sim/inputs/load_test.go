package inputs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/internal/testutil"
)

func loadFleet(t *testing.T, f testutil.Fleet) (*Tables, error) {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFleet(t, dir, f)
	return Load(dir, sim.DefaultSessionOptions())
}

func TestLoad_DefaultFleet(t *testing.T) {
	// GIVEN a complete input directory
	// WHEN it is loaded
	tables, err := loadFleet(t, testutil.DefaultFleet())

	// THEN every table is populated and vehicles resolve to market classes
	require.NoError(t, err)
	require.Len(t, tables.Vehicles, 2)
	assert.Equal(t, "bev_sedan", tables.Vehicles[0].Name, "vehicles sort by manufacturer then name")
	assert.Equal(t, "BEV", tables.Vehicles[0].MarketClassID)
	assert.Equal(t, sim.FuelingBEV, tables.Vehicles[0].FuelingClass)
	assert.Equal(t, 75.0, tables.Vehicles[0].BatteryKWh)
	assert.Equal(t, "ICE", tables.Vehicles[1].MarketClassID)
	assert.Equal(t, 250.0, tables.Vehicles[1].BaseYearCertCO2eGPMI)
	assert.Equal(t, "steel", tables.Vehicles[1].Label("structure_material"))
	assert.Equal(t, sim.NoVehicle, tables.Vehicles[1].BaseHandle)
	assert.Equal(t, []string{"OEM_A"}, tables.Manufacturers)
	assert.Equal(t, map[string]float64{"midsize": 700000}, tables.SizeClassBaseYearSales())

	tree, err := tables.Tree()
	require.NoError(t, err)
	assert.Equal(t, []string{"BEV", "ICE"}, tree.LeafIDs())

	price, err := tables.FuelPrice("pump gasoline", 2025)
	require.NoError(t, err)
	assert.Equal(t, 3.0, price.Retail)
	assert.Equal(t, 8887.0, tables.OnroadFuel("pump gasoline", 2025).DirectCO2eGramsPerUnit)

	target, err := tables.PolicyTarget("car", 2025)
	require.NoError(t, err)
	assert.Equal(t, 200.0, target.CO2eGPMI)

	sales, ok := tables.ContextSizeClassSales("midsize", 2025)
	require.True(t, ok)
	assert.Equal(t, 700000.0, sales)
	_, ok = tables.ContextSizeClassSales("small", 2025)
	assert.False(t, ok)

	_, constrained := tables.Bounds("BEV", 2025)
	assert.False(t, constrained)

	cloud, err := tables.CostClouds.Cloud("ice_car", 2025)
	require.NoError(t, err)
	assert.Len(t, cloud.Points, 4)
}

func TestLoad_ProductionConstraint(t *testing.T) {
	f := testutil.DefaultFleet()
	f.BEVMinShare = 0.3
	tables, err := loadFleet(t, f)
	require.NoError(t, err)

	b, ok := tables.Bounds("BEV", 2025)
	require.True(t, ok)
	assert.Equal(t, sim.ShareBounds{Min: 0.3, Max: 1}, b)
}

func TestLoad_AggregatesEveryProblem(t *testing.T) {
	// GIVEN a directory missing one required template and with a bad vehicle row
	dir := t.TempDir()
	testutil.WriteFleet(t, dir, testutil.DefaultFleet())
	require.NoError(t, os.Remove(filepath.Join(dir, "policy_targets.csv")))
	vehicles := testutil.Header("vehicles") +
		"vehicle_name,manufacturer_id,model_year,reg_class_id,context_size_class,electrification_class," +
		"cost_curve_class,in_use_fuel_id,cert_fuel_id,sales,footprint_ft2,curbweight_lbs,body_style," +
		"msrp_dollars,gvwr_lbs,gcwr_lbs\n" +
		"x,OEM_A,2020,car,midsize,N,no_such_curve,pump gasoline,gasoline,abc,46,3400,sedan,1,1,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vehicles.csv"), []byte(vehicles), 0o644))

	// WHEN loaded
	tables, err := Load(dir, sim.DefaultSessionOptions())

	// THEN one validation error lists every problem
	assert.Nil(t, tables)
	require.ErrorIs(t, err, sim.ErrInputValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.GreaterOrEqual(t, len(verr.Errors()), 3)
	assert.Contains(t, err.Error(), "policy_targets")
	assert.Contains(t, err.Error(), `column "sales"`)
	assert.Contains(t, err.Error(), "no_such_curve")
}

func TestLoad_UnknownContextHasNoFuelPrices(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFleet(t, dir, testutil.DefaultFleet())
	opts := sim.DefaultSessionOptions()
	opts.ContextID = "high_fuel"

	_, err := Load(dir, opts)

	require.ErrorIs(t, err, sim.ErrInputValidation)
	assert.Contains(t, err.Error(), `no rows for context "high_fuel"`)
}

func TestLoad_DriveCycleWeightedCloud(t *testing.T) {
	// GIVEN ICE cloud points given per drive cycle and weights for ICE
	dir := t.TempDir()
	testutil.WriteFleet(t, dir, testutil.DefaultFleet())
	clouds := testutil.Header("cost_clouds") +
		"cost_curve_class,model_year,new_vehicle_mfr_cost_dollars,fueling_class,ftp:co2e_grams_per_mile,hwfet:co2e_grams_per_mile,kwh_per_mile\n" +
		"ice_car,2020,30000,ICE,160,140,0\n" +
		"ice_car,2020,25000,ICE,320,280,0\n" +
		"bev_car,2020,36000,BEV,,,0.28\n"
	weights := testutil.Header("drive_cycle_weights") +
		"start_year,share_id,fueling_class,cert->ftp,cert->hwfet\n" +
		"2020,cert,ICE,0.55,0.45\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cost_clouds.csv"), []byte(clouds), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drive_cycle_weights.csv"), []byte(weights), 0o644))

	// WHEN loaded
	tables, err := Load(dir, sim.DefaultSessionOptions())

	// THEN the cert g/mi is the weighted drive-cycle value
	require.NoError(t, err)
	ice, err := tables.CostClouds.Cloud("ice_car", 2021)
	require.NoError(t, err)
	require.Len(t, ice.Points, 2)
	assert.InDelta(t, 0.55*160+0.45*140, ice.Points[0].CO2eGPMI, 1e-9)
	assert.InDelta(t, 0.55*320+0.45*280, ice.Points[1].CO2eGPMI, 1e-9)
	bev, err := tables.CostClouds.Cloud("bev_car", 2021)
	require.NoError(t, err)
	assert.Equal(t, 0.28, bev.Points[0].KWhPMI)
}

func TestLoad_PHEVCloud(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFleet(t, dir, testutil.DefaultFleet())
	clouds := testutil.Header("cost_clouds") +
		"cost_curve_class,model_year,new_vehicle_mfr_cost_dollars,co2e_grams_per_mile,kwh_per_mile,cd:co2e_grams_per_mile,cd:kwh_per_mile,cs:co2e_grams_per_mile\n" +
		"ice_car,2020,30000,150,0,,,\n" +
		"bev_car,2020,36000,0,0.28,,,\n" +
		"phev_car,2020,33000,,,0,0.3,200\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cost_clouds.csv"), []byte(clouds), 0o644))

	tables, err := Load(dir, sim.DefaultSessionOptions())

	require.NoError(t, err)
	assert.True(t, tables.CostClouds.IsPHEV("phev_car", 2020))
	assert.False(t, tables.CostClouds.IsPHEV("ice_car", 2020))
	c, err := tables.CostClouds.Cloud("phev_car", 2020)
	require.NoError(t, err)
	assert.Equal(t, 200.0, c.PHEV[0].CSCO2eGPMI)
}

func TestResolveMarketClass(t *testing.T) {
	known := map[string]bool{"hauling.ICE": true, "ICE": true, "non_hauling.BEV": true}
	l := &loader{}
	tests := []struct {
		name     string
		vehicle  sim.Vehicle
		explicit string
		want     string
		wantErr  bool
	}{
		{"pickup hauls", sim.Vehicle{BodyStyle: "pickup", FuelingClass: sim.FuelingICE}, "", "hauling.ICE", false},
		{"towing margin hauls", sim.Vehicle{BodyStyle: "cuv_suv", GVWRLbs: 6000, GCWRLbs: 9000, FuelingClass: sim.FuelingICE}, "", "hauling.ICE", false},
		{"sedan falls back to fueling", sim.Vehicle{BodyStyle: "sedan", FuelingClass: sim.FuelingICE}, "", "ICE", false},
		{"non hauling BEV", sim.Vehicle{BodyStyle: "sedan", FuelingClass: sim.FuelingBEV}, "", "non_hauling.BEV", false},
		{"explicit", sim.Vehicle{FuelingClass: sim.FuelingBEV}, "ICE", "ICE", false},
		{"explicit unknown", sim.Vehicle{}, "PHEV", "", true},
		{"nothing matches", sim.Vehicle{BodyStyle: "pickup", FuelingClass: sim.FuelingHEV}, "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.resolveMarketClass(&tc.vehicle, tc.explicit, known)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseElectrificationClass(t *testing.T) {
	for in, want := range map[string]sim.FuelingClass{
		"N": sim.FuelingICE, "HEV": sim.FuelingHEV, "PHEV": sim.FuelingPHEV, "EV": sim.FuelingBEV, "bev": sim.FuelingBEV, "FCV": sim.FuelingFCV,
	} {
		got, err := ParseElectrificationClass(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseElectrificationClass("steam")
	assert.Error(t, err)
}

func TestTables_ProductionMultiplier(t *testing.T) {
	tables := &Tables{ProductionMultipliers: &sim.StartYearTable[map[string]float64]{}}
	tables.ProductionMultipliers.Set(2022, map[string]float64{"fueling_class:BEV": 2, "structure_material:aluminum": 1.5})
	v := &sim.Vehicle{}
	v.SetLabel("fueling_class", "BEV")
	v.SetLabel("structure_material", "aluminum")

	assert.Equal(t, 1.0, tables.ProductionMultiplier(v, 2021), "before the first start year")
	assert.Equal(t, 3.0, tables.ProductionMultiplier(v, 2023))
	v.SetLabel("structure_material", "steel")
	assert.Equal(t, 2.0, tables.ProductionMultiplier(v, 2023))
}

func TestTables_ToDollarBasis(t *testing.T) {
	tables := &Tables{Deflators: map[int]float64{2018: 95, 2020: 100}}
	assert.InDelta(t, 100.0, tables.ToDollarBasis(95, 2018, 2020), 1e-9)
	assert.Equal(t, 95.0, tables.ToDollarBasis(95, 2018, 2018))
	assert.Equal(t, 95.0, tables.ToDollarBasis(95, 2017, 2020), "no deflator leaves the amount unchanged")
}

func TestTables_OffCycleCredits(t *testing.T) {
	tables := &Tables{offCycle: []offCycleRow{
		{startYear: 2020, name: "ac_leakage", group: "ac", destination: "co2e_grams_per_mile", byRegClass: map[string]float64{"car": 5}},
		{startYear: 2024, name: "ac_leakage", group: "ac", destination: "co2e_grams_per_mile", byRegClass: map[string]float64{"car": 7}},
		{startYear: 2020, name: "start_stop", group: "menu", destination: "co2e_grams_per_mile", byRegClass: map[string]float64{"truck": 3}},
	}}

	got := tables.OffCycleCredits("car", 2025)

	require.Len(t, got, 1)
	assert.Equal(t, 7.0, got[0].Value)
	assert.Equal(t, 5.0, tables.OffCycleCredits("car", 2021)[0].Value)
}
