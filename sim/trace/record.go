// Package trace records producer search and cross-subsidy iterations for
// diagnostic iteration logs.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// ClassValue is a value keyed by market class, kept in sorted slices so
// records serialize deterministically.
type ClassValue struct {
	MarketClassID string
	Value         float64
}

// ProducerIterationRecord captures one evaluated producer candidate.
type ProducerIterationRecord struct {
	ManufacturerID       string
	CalendarYear         int
	OuterIteration       int
	SearchIteration      int
	Candidate            int
	AbsShares            []ClassValue
	TotalTargetCO2eMg    float64
	TotalCertCO2eMg      float64
	StrategicOffsetMg    float64
	ComplianceRatio      float64
	TotalCost            float64
	TotalGeneralizedCost float64
	// Selected is "compliant", "non_compliant" or "" for unselected candidates.
	Selected string
}

// ConsumerIterationRecord captures one cross-subsidy iteration winner for a parent.
type ConsumerIterationRecord struct {
	ManufacturerID   string
	CalendarYear     int
	OuterIteration   int
	PricingIteration int
	ParentID         string
	Multipliers      []ClassValue
	ProducerShares   []ClassValue
	ConsumerShares   []ClassValue
	ShareDelta       float64
	PriceCostRatio   float64
	ConvergenceScore float64
}

// OuterIterationRecord captures one producer/consumer outer iteration.
type OuterIterationRecord struct {
	ManufacturerID      string
	CalendarYear        int
	OuterIteration      int
	ShareDeltaTotal     float64
	PriceCostRatioTotal float64
	ConvergenceScore    float64
	ComplianceRatio     float64
	Converged           bool
}
