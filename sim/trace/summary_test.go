package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{ProducerYears: AllYears, ConsumerYears: AllYears})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.ProducerRecords != 0 || summary.ConsumerRecords != 0 {
		t.Errorf("expected 0 records, got %d producer %d consumer", summary.ProducerRecords, summary.ConsumerRecords)
	}
	if summary.MeanShareDelta != 0 || summary.MaxShareDelta != 0 {
		t.Error("expected 0 share delta values")
	}
	if len(summary.RecordsByYear) != 0 {
		t.Error("expected empty per-year counts")
	}
}

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.ManufacturerCount != 0 {
		t.Errorf("expected 0 manufacturers, got %d", summary.ManufacturerCount)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with producer, consumer and outer records
	st := NewSimulationTrace(TraceConfig{ProducerYears: AllYears, ConsumerYears: AllYears})
	st.RecordProducer(ProducerIterationRecord{ManufacturerID: "a", CalendarYear: 2020, Selected: "compliant"})
	st.RecordProducer(ProducerIterationRecord{ManufacturerID: "a", CalendarYear: 2020, Selected: "non_compliant"})
	st.RecordProducer(ProducerIterationRecord{ManufacturerID: "b", CalendarYear: 2021})
	st.RecordConsumer(ConsumerIterationRecord{ManufacturerID: "a", CalendarYear: 2020, ShareDelta: 0.1})
	st.RecordConsumer(ConsumerIterationRecord{ManufacturerID: "a", CalendarYear: 2020, ShareDelta: 0.3})
	st.RecordOuter(OuterIterationRecord{ManufacturerID: "a", CalendarYear: 2020, Converged: true})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.ProducerRecords != 3 {
		t.Errorf("expected 3 producer records, got %d", summary.ProducerRecords)
	}
	if summary.CompliantSelected != 1 || summary.NonCompliantPicks != 1 {
		t.Errorf("expected 1 compliant and 1 non-compliant pick, got %d and %d", summary.CompliantSelected, summary.NonCompliantPicks)
	}
	if summary.ManufacturerCount != 2 {
		t.Errorf("expected 2 manufacturers, got %d", summary.ManufacturerCount)
	}
	if summary.RecordsByYear[2020] != 4 {
		t.Errorf("expected 4 records in 2020, got %d", summary.RecordsByYear[2020])
	}
	if summary.ConvergedOuter != 1 {
		t.Errorf("expected 1 converged outer iteration, got %d", summary.ConvergedOuter)
	}

	// THEN mean share delta = (0.1 + 0.3) / 2, max = 0.3
	if summary.MeanShareDelta < 0.199 || summary.MeanShareDelta > 0.201 {
		t.Errorf("expected mean share delta ~0.2, got %.4f", summary.MeanShareDelta)
	}
	if summary.MaxShareDelta != 0.3 {
		t.Errorf("expected max share delta 0.3, got %.4f", summary.MaxShareDelta)
	}
}
