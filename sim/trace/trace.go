package trace

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// YearSelection picks the calendar years whose iterations are logged.
// In YAML it is either the scalar "all" or a list of years.
type YearSelection struct {
	All   bool
	Years []int
}

// AllYears selects every year.
var AllYears = YearSelection{All: true}

// Includes reports whether year is selected.
func (s YearSelection) Includes(year int) bool {
	if s.All {
		return true
	}
	for _, y := range s.Years {
		if y == year {
			return true
		}
	}
	return false
}

// Empty reports whether nothing is selected.
func (s YearSelection) Empty() bool { return !s.All && len(s.Years) == 0 }

// UnmarshalYAML accepts "all", a single year or a list of years.
func (s *YearSelection) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "all" {
			*s = AllYears
			return nil
		}
		if node.Value == "" || node.Tag == "!!null" {
			*s = YearSelection{}
			return nil
		}
		var y int
		if err := node.Decode(&y); err != nil {
			return fmt.Errorf("year selection must be \"all\" or a list of years, got %q", node.Value)
		}
		*s = YearSelection{Years: []int{y}}
		return nil
	case yaml.SequenceNode:
		var years []int
		if err := node.Decode(&years); err != nil {
			return fmt.Errorf("year selection list: %w", err)
		}
		sort.Ints(years)
		*s = YearSelection{Years: years}
		return nil
	}
	return fmt.Errorf("year selection must be \"all\" or a list of years")
}

// MarshalYAML writes the selection back in its input form.
func (s YearSelection) MarshalYAML() (interface{}, error) {
	if s.All {
		return "all", nil
	}
	return s.Years, nil
}

// TraceConfig controls which years are traced.
type TraceConfig struct {
	ProducerYears YearSelection
	ConsumerYears YearSelection
}

// SimulationTrace collects iteration records during a session.
type SimulationTrace struct {
	Config   TraceConfig
	Producer []ProducerIterationRecord
	Consumer []ConsumerIterationRecord
	Outer    []OuterIterationRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		Producer: make([]ProducerIterationRecord, 0),
		Consumer: make([]ConsumerIterationRecord, 0),
		Outer:    make([]OuterIterationRecord, 0),
	}
}

// RecordProducer appends a producer search record if its year is selected.
// Safe on a nil trace.
func (st *SimulationTrace) RecordProducer(record ProducerIterationRecord) {
	if st == nil || !st.Config.ProducerYears.Includes(record.CalendarYear) {
		return
	}
	st.Producer = append(st.Producer, record)
}

// RecordConsumer appends a cross-subsidy record if its year is selected.
// Safe on a nil trace.
func (st *SimulationTrace) RecordConsumer(record ConsumerIterationRecord) {
	if st == nil || !st.Config.ConsumerYears.Includes(record.CalendarYear) {
		return
	}
	st.Consumer = append(st.Consumer, record)
}

// RecordOuter appends an outer producer/consumer iteration record. Outer
// records follow the consumer year selection. Safe on a nil trace.
func (st *SimulationTrace) RecordOuter(record OuterIterationRecord) {
	if st == nil || !st.Config.ConsumerYears.Includes(record.CalendarYear) {
		return
	}
	st.Outer = append(st.Outer, record)
}

// ProducerYears returns the distinct years with producer records, sorted.
func (st *SimulationTrace) ProducerYears() []int {
	seen := make(map[int]bool)
	for _, r := range st.Producer {
		seen[r.CalendarYear] = true
	}
	return sortedYears(seen)
}

// ConsumerYears returns the distinct years with consumer or outer records, sorted.
func (st *SimulationTrace) ConsumerYears() []int {
	seen := make(map[int]bool)
	for _, r := range st.Consumer {
		seen[r.CalendarYear] = true
	}
	for _, r := range st.Outer {
		seen[r.CalendarYear] = true
	}
	return sortedYears(seen)
}

func sortedYears(seen map[int]bool) []int {
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}
