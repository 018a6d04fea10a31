package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSimulationTrace_RecordProducer_OnlySelectedYears(t *testing.T) {
	// GIVEN a trace selecting producer year 2025 only
	st := NewSimulationTrace(TraceConfig{ProducerYears: YearSelection{Years: []int{2025}}})

	// WHEN records for two years are recorded
	st.RecordProducer(ProducerIterationRecord{ManufacturerID: "oem_a", CalendarYear: 2024})
	st.RecordProducer(ProducerIterationRecord{ManufacturerID: "oem_a", CalendarYear: 2025, Selected: "compliant"})

	// THEN only the selected year is kept
	require.Len(t, st.Producer, 1)
	assert.Equal(t, 2025, st.Producer[0].CalendarYear)
	assert.Equal(t, []int{2025}, st.ProducerYears())
}

func TestSimulationTrace_RecordConsumer_AllYears_PreservesOrder(t *testing.T) {
	// GIVEN a trace selecting every consumer year
	st := NewSimulationTrace(TraceConfig{ConsumerYears: AllYears})

	// WHEN multiple records are added
	st.RecordConsumer(ConsumerIterationRecord{CalendarYear: 2021, PricingIteration: 0})
	st.RecordConsumer(ConsumerIterationRecord{CalendarYear: 2020, PricingIteration: 1})
	st.RecordOuter(OuterIterationRecord{CalendarYear: 2022})

	// THEN order is preserved and years are reported sorted
	require.Len(t, st.Consumer, 2)
	assert.Equal(t, 0, st.Consumer[0].PricingIteration)
	assert.Equal(t, 1, st.Consumer[1].PricingIteration)
	assert.Equal(t, []int{2020, 2021, 2022}, st.ConsumerYears())
}

func TestSimulationTrace_NilTrace_RecordIsNoop(t *testing.T) {
	var st *SimulationTrace
	assert.NotPanics(t, func() {
		st.RecordProducer(ProducerIterationRecord{})
		st.RecordConsumer(ConsumerIterationRecord{})
		st.RecordOuter(OuterIterationRecord{})
	})
}

func TestYearSelection_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  YearSelection
	}{
		{"all", "sel: all", YearSelection{All: true}},
		{"list sorted", "sel: [2030, 2025]", YearSelection{Years: []int{2025, 2030}}},
		{"single year", "sel: 2027", YearSelection{Years: []int{2027}}},
		{"null", "sel:", YearSelection{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc struct {
				Sel YearSelection `yaml:"sel"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.input), &doc))
			assert.Equal(t, tt.want, doc.Sel)
		})
	}
}

func TestYearSelection_UnmarshalYAML_RejectsGarbage(t *testing.T) {
	var doc struct {
		Sel YearSelection `yaml:"sel"`
	}
	assert.Error(t, yaml.Unmarshal([]byte("sel: sometimes"), &doc))
}

func TestYearSelection_Includes(t *testing.T) {
	assert.True(t, AllYears.Includes(1999))
	sel := YearSelection{Years: []int{2020, 2022}}
	assert.True(t, sel.Includes(2022))
	assert.False(t, sel.Includes(2021))
	assert.True(t, YearSelection{}.Empty())
}
