package costcurve

// GeneralizedCostParams prices the non-manufacturing terms of generalized cost.
type GeneralizedCostParams struct {
	LiquidFuelPrice   float64 // $ per unit of liquid fuel (e.g. gallon)
	CarbonIntensity   float64 // CO2e grams per unit of liquid fuel; 0 disables the liquid term
	RefuelEfficiency  float64 // fraction of dispensed fuel reaching the tank (default 1)
	ElectricityPrice  float64 // $ per kWh
	AnnualVMT         float64 // miles per year
	Years             float64 // amortization horizon
	PriceModification float64 // policy-defined $ adjustment (e.g. purchase incentives, negative)
	FootprintFt2      float64
	FootprintWTP      float64 // consumer willingness to pay, $ per ft²
}

// FuelCostPerMile returns the liquid plus electric fuel cost per mile.
// The liquid term is zero for vehicles with no tailpipe CO2e or when the
// fuel has no carbon intensity (all-electric parents).
func (p GeneralizedCostParams) FuelCostPerMile(gpmi, kwhPMI float64) float64 {
	liquid := 0.0
	if gpmi > 0 && p.CarbonIntensity > 0 {
		eff := p.RefuelEfficiency
		if eff <= 0 {
			eff = 1
		}
		liquid = p.LiquidFuelPrice * gpmi / p.CarbonIntensity / eff
	}
	electric := 0.0
	if kwhPMI > 0 {
		electric = p.ElectricityPrice * kwhPMI
	}
	return liquid + electric
}

// GeneralizedCost combines vehicle cost with amortized fuel cost, policy price
// modifications and footprint willingness-to-pay.
func (p GeneralizedCostParams) GeneralizedCost(vehicleCost, gpmi, kwhPMI float64) float64 {
	fuel := p.FuelCostPerMile(gpmi, kwhPMI) * p.AnnualVMT * p.Years
	return vehicleCost + fuel + p.PriceModification - p.FootprintFt2*p.FootprintWTP
}
