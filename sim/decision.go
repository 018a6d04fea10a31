package sim

import "sort"

// MarketClassDecision is the producer's choice for one market class.
type MarketClassDecision struct {
	MarketClassID string
	AbsShare      float64 // share of total manufacturer sales
	// NoAltFloor is the absolute share already committed by vehicles that are
	// not up for redesign this year.
	NoAltFloor             float64
	Sales                  float64
	AverageCost            float64 // sales-weighted composite cost
	AverageGeneralizedCost float64
	AverageCO2eGPMI        float64
	AverageKWhPMI          float64
	LiquidFuelPrice        float64
	ElectricityPrice       float64
}

// CompositeDecision is the producer's choice for one composite vehicle.
type CompositeDecision struct {
	CompositeID     string
	MarketClassID   string
	CO2eGPMI        float64
	KWhPMI          float64
	Sales           float64
	Cost            float64
	GeneralizedCost float64
	TargetCO2eMg    float64
	CertCO2eMg      float64
}

// ProducerDecision is one producer candidate. Slices are sorted by ID so
// every reduction over them has a fixed order.
type ProducerDecision struct {
	ManufacturerID string
	ModelYear      int
	TotalSales     float64

	MarketClasses []MarketClassDecision
	Composites    []CompositeDecision

	TotalTargetCO2eMg    float64
	TotalCertCO2eMg      float64
	TotalCost            float64
	TotalGeneralizedCost float64
	StrategicOffsetMg    float64
	// ComplianceRatio is (cert − offset) / max(1, target).
	ComplianceRatio      float64
	CreditBalanceDeltaMg float64 // target − cert
	SearchIteration      int
	// ShareShift is Σ|Δ abs share| against the previous iteration's best.
	ShareShift float64
}

// Compliant reports whether the candidate meets its target after the offset.
func (d *ProducerDecision) Compliant() bool { return d.ComplianceRatio <= 1 }

// MarketClass returns the decision for id.
func (d *ProducerDecision) MarketClass(id string) (MarketClassDecision, bool) {
	i := sort.Search(len(d.MarketClasses), func(i int) bool { return d.MarketClasses[i].MarketClassID >= id })
	if i < len(d.MarketClasses) && d.MarketClasses[i].MarketClassID == id {
		return d.MarketClasses[i], true
	}
	return MarketClassDecision{}, false
}

// AbsShares returns the absolute share per market class.
func (d *ProducerDecision) AbsShares() map[string]float64 {
	out := make(map[string]float64, len(d.MarketClasses))
	for _, m := range d.MarketClasses {
		out[m.MarketClassID] = m.AbsShare
	}
	return out
}

// Composite returns the decision for composite id.
func (d *ProducerDecision) Composite(id string) (CompositeDecision, bool) {
	i := sort.Search(len(d.Composites), func(i int) bool { return d.Composites[i].CompositeID >= id })
	if i < len(d.Composites) && d.Composites[i].CompositeID == id {
		return d.Composites[i], true
	}
	return CompositeDecision{}, false
}

// MarketClassResponse is the consumer's response for one market class.
type MarketClassResponse struct {
	MarketClassID        string
	AbsShare             float64
	RelShare             float64 // share of the parent
	CostMultiplier       float64
	AverageCost          float64
	CrossSubsidizedPrice float64
	ModifiedPrice        float64 // cross-subsidized price plus price modification
	GeneralizedCost      float64
	NoAltAbsShare        float64
	AltAbsShare          float64
	Constrained          bool
}

// ConsumerResponse is the cross-subsidy result for one producer candidate.
type ConsumerResponse struct {
	MarketClasses       []MarketClassResponse // sorted by MarketClassID
	PriceCostRatioTotal float64
	ShareDeltaTotal     float64
	ConvergenceScore    float64
	Converged           bool
	Iterations          int
}

// MarketClass returns the response for id.
func (r *ConsumerResponse) MarketClass(id string) (MarketClassResponse, bool) {
	i := sort.Search(len(r.MarketClasses), func(i int) bool { return r.MarketClasses[i].MarketClassID >= id })
	if i < len(r.MarketClasses) && r.MarketClasses[i].MarketClassID == id {
		return r.MarketClasses[i], true
	}
	return MarketClassResponse{}, false
}

// AbsShares returns the consumer absolute share per market class.
func (r *ConsumerResponse) AbsShares() map[string]float64 {
	out := make(map[string]float64, len(r.MarketClasses))
	for _, m := range r.MarketClasses {
		out[m.MarketClassID] = m.AbsShare
	}
	return out
}

// AveragePrice is the share-weighted average modified price.
func (r *ConsumerResponse) AveragePrice() float64 {
	num, den := 0.0, 0.0
	for _, m := range r.MarketClasses {
		num += m.ModifiedPrice * m.AbsShare
		den += m.AbsShare
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ManufacturerAnnualData is the per (manufacturer, model year) compliance record.
type ManufacturerAnnualData struct {
	ManufacturerID string
	ModelYear      int
	TargetCO2eMg   float64
	// CalendarYearCertCO2eMg is the pre-trading cert Mg.
	CalendarYearCertCO2eMg float64
	// ModelYearCertCO2eMg is mutated by credit transfers.
	ModelYearCertCO2eMg float64
	TotalCost           float64
	TotalSales          float64
	StrategicOffsetMg   float64
	ComplianceRatio     float64
	NonConvergence      bool
}

// VehicleAnnualData is one vehicle's stock state in a calendar year.
type VehicleAnnualData struct {
	Vehicle         VehicleHandle
	CalendarYear    int
	Age             int
	RegisteredCount float64
	AnnualVMT       float64
	Odometer        float64
	VMT             float64
}
