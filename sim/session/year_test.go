package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/consumer"
	"github.com/vehicle-sim/vehicle-sim/sim/internal/testutil"
	"github.com/vehicle-sim/vehicle-sim/sim/pricing"
)

func sedanTree(t *testing.T) *sim.MarketTree {
	t.Helper()
	tr, err := sim.NewMarketTree([]sim.MarketClassDef{
		{ID: "hauling.BEV"}, {ID: "hauling.ICE"},
		{ID: "non_hauling.BEV"}, {ID: "non_hauling.ICE"},
	})
	require.NoError(t, err)
	return tr
}

func sedanShareModel(tr *sim.MarketTree) *consumer.ShareModel {
	cals := consumer.NewCalibrations()
	for _, id := range tr.LeafIDs() {
		cals.Set(id, 2020, consumer.Calibration{
			ShareWeight:             1,
			LogitExponentMu:         -8,
			PriceAmortizationPeriod: 5,
			DiscountRate:            0.07,
			AnnualVMT:               12000,
			AverageOccupancy:        1.5,
		})
	}
	return &consumer.ShareModel{Calibrations: cals, RechargeEfficiency: 0.9}
}

func TestClassInputs_OfferedClassAtZeroShare_StaysAvailableToConsumers(t *testing.T) {
	// GIVEN a decision that sizes the offered non-hauling BEV to zero and
	// offers no hauling BEV at all
	tr := sedanTree(t)
	s := &session{tree: tr}
	d := &sim.ProducerDecision{
		MarketClasses: []sim.MarketClassDecision{
			{MarketClassID: "hauling.BEV"},
			{MarketClassID: "hauling.ICE", AbsShare: 0.3, Sales: 300, AverageCost: 32000, AverageCO2eGPMI: 280},
			{MarketClassID: "non_hauling.BEV", AverageCost: 36000, AverageKWhPMI: 0.3},
			{MarketClassID: "non_hauling.ICE", AbsShare: 0.7, Sales: 700, AverageCost: 27000, AverageCO2eGPMI: 200},
		},
		Composites: []sim.CompositeDecision{
			{CompositeID: "hauling.ICE:OEM", MarketClassID: "hauling.ICE", Sales: 300},
			{CompositeID: "non_hauling.BEV:OEM", MarketClassID: "non_hauling.BEV"},
			{CompositeID: "non_hauling.ICE:OEM", MarketClassID: "non_hauling.ICE", Sales: 700},
		},
	}
	classes := make(map[string]classContext)
	for _, id := range tr.LeafIDs() {
		classes[id] = classContext{refuelEfficiency: 1}
	}
	bounds := map[string]sim.ShareBounds{"non_hauling.BEV": {Min: 0, Max: 0.5}}

	// WHEN the class inputs are built and priced
	in := s.classInputs(d, classes, bounds, nil)
	res, err := pricing.CrossSubsidize(pricing.Input{
		Year:         2025,
		Tree:         tr,
		ParentShares: map[string]float64{"hauling": 0.3, "non_hauling": 0.7},
		Classes:      in,
		ShareModel:   sedanShareModel(tr),
		Options: pricing.Options{
			MultiplierMin: 0.8, MultiplierMax: 1.2, NumOptions: 5, MaxIterations: 10,
			PriceTolerance: 1e-4, ShareTolerance: 0.003,
		},
	})
	require.NoError(t, err)

	// THEN the offered BEV keeps its bounds and cost and consumers buy some
	bev := in["non_hauling.BEV"]
	require.NotNil(t, bev.Bounds)
	assert.Equal(t, 0.5, bev.Bounds.Max)
	assert.Equal(t, 36000.0, bev.AverageCost)
	m, ok := res.Response.MarketClass("non_hauling.BEV")
	require.True(t, ok)
	assert.Greater(t, m.AbsShare, 0.0)
	assert.False(t, m.Constrained)

	// AND the class with no composite is pinned to zero
	require.NotNil(t, in["hauling.BEV"].Bounds)
	assert.Equal(t, sim.ShareBounds{Min: 0, Max: 0}, *in["hauling.BEV"].Bounds)
	h, ok := res.Response.MarketClass("hauling.BEV")
	require.True(t, ok)
	assert.Equal(t, 0.0, h.AbsShare)
}

func TestRun_ContextSalesApportionedBySizeClass(t *testing.T) {
	// GIVEN OEM_B also sells a small BEV, and the small segment is projected
	// to triple while midsize holds
	f := testutil.DefaultFleet()
	f.Manufacturers = []string{"OEM_A", "OEM_B"}
	f.ExtraVehicles = []string{
		"bev_small,OEM_B,2020,car,small,EV,bev_car,US electricity,electricity,100000,40,3500,sedan,30000,4500,4500,0,60,steel",
	}
	f.SizeClassSales = map[string]float64{"midsize": 700000, "small": 300000}

	// WHEN the first year is simulated
	res, err := runFleet(t, f, func(o *sim.SessionOptions) { o.AnalysisFinalYear = 2021 })
	require.NoError(t, err)

	// THEN each manufacturer gets its share of each size class projection
	yr := res.Years[0]
	require.Len(t, yr.Entities, 2)
	sales := make(map[string]float64)
	for _, ey := range yr.Entities {
		sales[ey.EntityID] = ey.Decision.TotalSales
	}
	testutil.AssertFloat64Equal(t, "OEM_A", 350000, sales["OEM_A"], 1e-9)
	testutil.AssertFloat64Equal(t, "OEM_B", 350000+300000, sales["OEM_B"], 1e-9)
	testutil.AssertFloat64Equal(t, "total", 1000000, yr.TotalSales, 1e-6)
}
