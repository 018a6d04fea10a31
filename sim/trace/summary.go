package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	ProducerRecords   int
	ConsumerRecords   int
	OuterIterations   int
	CompliantSelected int
	NonCompliantPicks int
	MaxShareDelta     float64
	MeanShareDelta    float64
	ConvergedOuter    int
	ManufacturerCount int
	RecordsByYear     map[int]int // calendar year → producer + consumer records
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		RecordsByYear: make(map[int]int),
	}
	if st == nil {
		return summary
	}

	manufacturers := make(map[string]bool)
	summary.ProducerRecords = len(st.Producer)
	for _, r := range st.Producer {
		manufacturers[r.ManufacturerID] = true
		summary.RecordsByYear[r.CalendarYear]++
		switch r.Selected {
		case "compliant":
			summary.CompliantSelected++
		case "non_compliant":
			summary.NonCompliantPicks++
		}
	}

	summary.ConsumerRecords = len(st.Consumer)
	if len(st.Consumer) > 0 {
		total := 0.0
		for _, r := range st.Consumer {
			manufacturers[r.ManufacturerID] = true
			summary.RecordsByYear[r.CalendarYear]++
			total += r.ShareDelta
			if r.ShareDelta > summary.MaxShareDelta {
				summary.MaxShareDelta = r.ShareDelta
			}
		}
		summary.MeanShareDelta = total / float64(len(st.Consumer))
	}

	summary.OuterIterations = len(st.Outer)
	for _, r := range st.Outer {
		manufacturers[r.ManufacturerID] = true
		if r.Converged {
			summary.ConvergedOuter++
		}
	}

	summary.ManufacturerCount = len(manufacturers)
	return summary
}
