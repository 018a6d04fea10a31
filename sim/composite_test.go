package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
)

func mustFrontier(t *testing.T, pts ...costcurve.Point) *costcurve.Frontier {
	t.Helper()
	f, err := costcurve.NewFrontier(pts)
	require.NoError(t, err)
	return f
}

func twoMemberComposite(t *testing.T) (*VehicleArena, *CompositeVehicle) {
	t.Helper()
	arena := NewVehicleArena()
	h1 := arena.Add(&Vehicle{Name: "car_a", ManufacturerID: "oem", MarketClassID: "non_hauling.ICE", RegClassID: "car"})
	h2 := arena.Add(&Vehicle{Name: "car_b", ManufacturerID: "oem", MarketClassID: "non_hauling.ICE", RegClassID: "car"})
	cv, err := NewCompositeVehicle("oem", "non_hauling.ICE", "car", FuelingICE, 2025, []CompositeMember{
		{
			Handle: h1, Weight: 300,
			Frontier:       mustFrontier(t, costcurve.Point{CO2eGPMI: 150, Cost: 27000}, costcurve.Point{CO2eGPMI: 300, Cost: 20000}),
			TargetCO2eGPMI: 200, LifetimeVMT: 200000,
		},
		{
			Handle: h2, Weight: 100,
			Frontier:       mustFrontier(t, costcurve.Point{CO2eGPMI: 200, Cost: 33000}, costcurve.Point{CO2eGPMI: 400, Cost: 25000}),
			TargetCO2eGPMI: 250, LifetimeVMT: 200000, ProductionMultiplier: 2,
		},
	}, 11)
	require.NoError(t, err)
	return arena, cv
}

func TestNewCompositeVehicle_WeightsAndRange(t *testing.T) {
	_, cv := twoMemberComposite(t)

	assert.Equal(t, "oem:non_hauling.ICE:car", cv.ID)
	assert.InDelta(t, 0.75, cv.Members[0].Weight, 1e-12)
	assert.InDelta(t, 0.25, cv.Members[1].Weight, 1e-12)
	assert.InDelta(t, 0.75*150+0.25*200, cv.MinGPMI(), 1e-9)
	assert.InDelta(t, 0.75*300+0.25*400, cv.MaxGPMI(), 1e-9)
	// target includes the production multiplier of the second member
	assert.InDelta(t, (0.75*200*200000+0.25*250*200000*2)/1e6, cv.TargetMgPerUnit(), 1e-9)

	// merged curve has decreasing cost
	pts := cv.Frontier().Points()
	for i := 1; i < len(pts); i++ {
		assert.Less(t, pts[i].Cost, pts[i-1].Cost)
	}
}

func TestNewCompositeVehicle_ZeroWeights_EqualSplit(t *testing.T) {
	arena := NewVehicleArena()
	h1 := arena.Add(&Vehicle{})
	h2 := arena.Add(&Vehicle{})
	f := costcurve.SinglePoint(costcurve.Point{CO2eGPMI: 0, KWhPMI: 0.3, Cost: 40000})
	cv, err := NewCompositeVehicle("oem", "bev", "car", FuelingBEV, 2025,
		[]CompositeMember{{Handle: h1, Frontier: f}, {Handle: h2, Frontier: f}}, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cv.Members[0].Weight)
	cost, _ := cv.CostAt(0)
	assert.Equal(t, 40000.0, cost)
}

func TestNewCompositeVehicle_MissingFrontier(t *testing.T) {
	_, err := NewCompositeVehicle("oem", "a", "car", FuelingICE, 2025, []CompositeMember{{Handle: 0}}, 5)
	assert.ErrorIs(t, err, ErrMissingCostCurve)
}

func TestCompositeVehicle_Decompose_PreservesSalesAndWeightedGPMI(t *testing.T) {
	// GIVEN a composite of two vehicles
	arena, cv := twoMemberComposite(t)
	g := 0.5 * (cv.MinGPMI() + cv.MaxGPMI())

	// WHEN decomposed at 1000 units and a mid-range g/mi
	cv.Decompose(arena, 1000, g, func(v *Vehicle) costcurve.GeneralizedCostParams {
		return costcurve.GeneralizedCostParams{PriceModification: 1}
	})

	// THEN member sales sum to the composite sales
	a, b := arena.Get(0), arena.Get(1)
	assert.InDelta(t, 1000, a.Sales+b.Sales, 1e-9)
	// AND the sales-weighted g/mi equals the composite g/mi
	assert.InDelta(t, g, (a.Sales*a.CO2eGPMI+b.Sales*b.CO2eGPMI)/1000, 1e-9)
	// AND each member sits mid-way on its own frontier
	assert.InDelta(t, 225, a.CO2eGPMI, 1e-9)
	assert.InDelta(t, 300, b.CO2eGPMI, 1e-9)
	// AND cost is the member's own frontier cost
	assert.InDelta(t, 23500, a.Cost, 1e-9)
	assert.InDelta(t, 23501, a.GeneralizedCost, 1e-9)
	// AND member cert Mg sums to composite cert Mg
	wantCert := cv.CertMgPerUnitAt(g) * 1000
	assert.InDelta(t, wantCert, a.CertCO2eMg+b.CertCO2eMg, 1e-6)
	assert.InDelta(t, cv.TargetMgPerUnit()*1000, a.TargetCO2eMg+b.TargetCO2eMg, 1e-6)
	assert.Equal(t, cv.ID, a.CompositeID)
}

func TestCompositeVehicle_CostAt_MatchesDecomposedCost(t *testing.T) {
	arena, cv := twoMemberComposite(t)
	for _, g := range []float64{cv.MinGPMI(), 230, cv.MaxGPMI()} {
		cost, sat := cv.CostAt(g)
		assert.False(t, sat)
		cv.Decompose(arena, 400, g, nil)
		a, b := arena.Get(0), arena.Get(1)
		assert.InDelta(t, cost*400, a.Cost*a.Sales+b.Cost*b.Sales, 1e-6)
	}
	_, sat := cv.CostAt(cv.MaxGPMI() + 10)
	assert.True(t, sat)
}

func TestVehicle_IsAlt(t *testing.T) {
	v := &Vehicle{PriorRedesignYear: 2020, RedesignInterval: 5}
	assert.False(t, v.IsAlt(2024))
	assert.True(t, v.IsAlt(2025))
	assert.True(t, (&Vehicle{}).IsAlt(2021))
}

func TestVehicle_CloneCopiesAttributes(t *testing.T) {
	v := &Vehicle{}
	v.SetAttribute("offcycle:ac", 5)
	c := v.Clone()
	c.SetAttribute("offcycle:ac", 7)
	assert.Equal(t, 5.0, v.Attribute("offcycle:ac"))
	assert.Equal(t, []string{"offcycle:ac"}, c.AttributeKeys())
}
