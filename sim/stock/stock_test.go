package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

func tables() (*AgeTable, *AgeTable) {
	rereg := NewAgeTable("reregistration_fixed_by_age")
	vmt := NewAgeTable("annual_vmt_fixed_by_age")
	survival := []float64{1, 0.98, 0.95, 0.9, 0.85, 0.8}
	miles := []float64{15000, 14000, 13000, 12500, 12000, 11000}
	for age := range survival {
		rereg.Set("ICE", age, 2000, survival[age])
		vmt.Set("ICE", age, 2000, miles[age])
	}
	return rereg, vmt
}

func TestStock_RollForward_AgesFiveYearOldVehicle(t *testing.T) {
	// GIVEN a 2020 vehicle with 1000 initial registrations
	s := New(tables())
	_, err := s.RollForward(2020, []NewVehicle{{Handle: 0, MarketClassID: "ICE", ModelYear: 2020, InitialRegisteredCount: 1000}})
	require.NoError(t, err)
	var prior sim.VehicleAnnualData
	for y := 2021; y <= 2024; y++ {
		rows, err := s.RollForward(y, nil)
		require.NoError(t, err)
		prior = rows[0]
	}

	// WHEN rolled to calendar 2025
	rows, err := s.RollForward(2025, nil)
	require.NoError(t, err)

	// THEN registrations, VMT and odometer follow the age-5 parameters
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, 5, r.Age)
	assert.InDelta(t, 800, r.RegisteredCount, 1e-9)
	assert.InDelta(t, 8.8e6, r.VMT, 1e-6)
	assert.Equal(t, prior.Odometer+11000, r.Odometer)
	assert.Equal(t, 15000.0+14000+13000+12500+12000+11000, r.Odometer)
}

func TestStock_NewVehiclesEnterAtAgeZero(t *testing.T) {
	s := New(tables())
	_, err := s.RollForward(2024, []NewVehicle{{Handle: 3, MarketClassID: "ICE", ModelYear: 2024, InitialRegisteredCount: 10}})
	require.NoError(t, err)
	rows, err := s.RollForward(2025, []NewVehicle{{Handle: 1, MarketClassID: "ICE", ModelYear: 2025, InitialRegisteredCount: 20}})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, sim.VehicleHandle(3), rows[0].Vehicle)
	assert.Equal(t, 1, rows[0].Age)
	assert.Equal(t, 0, rows[1].Age)
	assert.Equal(t, 20.0, rows[1].RegisteredCount)

	registered, vmt := s.Totals(2025)
	assert.InDelta(t, 9.8+20, registered, 1e-9)
	assert.InDelta(t, 9.8*14000+20*15000, vmt, 1e-6)
}

func TestStock_MissingParameterIsFatal(t *testing.T) {
	s := New(tables())
	_, err := s.RollForward(2025, []NewVehicle{{Handle: 0, MarketClassID: "BEV", ModelYear: 2025, InitialRegisteredCount: 1}})
	assert.ErrorIs(t, err, sim.ErrMissingStockParameter)

	s = New(tables())
	_, err = s.RollForward(2019, []NewVehicle{{Handle: 0, MarketClassID: "ICE", ModelYear: 2019, InitialRegisteredCount: 1}})
	require.NoError(t, err)
	_, err = s.RollForward(2026, nil)
	assert.ErrorIs(t, err, sim.ErrMissingStockParameter, "age 7 has no entry")
}

func TestStock_RollBackwardsRejected(t *testing.T) {
	s := New(tables())
	_, err := s.RollForward(2025, []NewVehicle{{MarketClassID: "ICE", ModelYear: 2025, InitialRegisteredCount: 1}})
	require.NoError(t, err)
	_, err = s.RollForward(2025, nil)
	assert.Error(t, err)
}

func TestAgeTable_StartModelYear(t *testing.T) {
	tbl := NewAgeTable("t")
	tbl.Set("ICE", 1, 2000, 0.9)
	tbl.Set("ICE", 1, 2025, 0.95)
	v, err := tbl.Lookup("ICE", 1, 2024)
	require.NoError(t, err)
	assert.Equal(t, 0.9, v)
	v, err = tbl.Lookup("ICE", 1, 2030)
	require.NoError(t, err)
	assert.Equal(t, 0.95, v)
	_, err = tbl.Lookup("ICE", 1, 1999)
	assert.ErrorIs(t, err, sim.ErrMissingStockParameter)
}
