package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

func TestDefaultSessionOptions_Valid(t *testing.T) {
	opts := DefaultSessionOptions()
	assert.NoError(t, opts.Validate())
}

func TestParseSessionOptions_OverridesDefaults(t *testing.T) {
	// GIVEN a session file setting a few keys
	data := []byte(`
analysis_initial_year: 2027
analysis_final_year: 2030
iterate_producer_consumer: false
consolidate_manufacturers: true
credit_consolidation_order: credit_before_consolidation
log_producer_iteration_years: all
log_consumer_iteration_years: [2028]
`)

	// WHEN parsed
	opts, err := ParseSessionOptions(data)
	require.NoError(t, err)

	// THEN file values win and omitted keys keep defaults
	assert.Equal(t, 2027, opts.AnalysisInitialYear)
	assert.Equal(t, 2030, opts.AnalysisFinalYear)
	assert.Equal(t, 1, opts.OuterIterations())
	assert.Equal(t, CreditBeforeConsolidation, opts.ConsolidationOrder())
	assert.Equal(t, DefaultSessionOptions().ProducerConvergenceFactor, opts.ProducerConvergenceFactor)
	assert.Equal(t, trace.AllYears, opts.LogProducerIterationYears)
	assert.True(t, opts.LogConsumerIterationYears.Includes(2028))
	assert.NoError(t, opts.Validate())
}

func TestParseSessionOptions_UnknownKey_Rejected(t *testing.T) {
	// GIVEN a misspelled key
	_, err := ParseSessionOptions([]byte("analysis_inital_year: 2027\n"))

	// THEN strict parsing fails
	assert.Error(t, err)
}

func TestLoadSessionOptions_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session_name: smoke\n"), 0o644))
	opts, err := LoadSessionOptions(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", opts.SessionName)

	_, err = LoadSessionOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSessionOptions_Validate_ReportsEveryProblem(t *testing.T) {
	// GIVEN options with three independent problems
	opts := DefaultSessionOptions()
	opts.AnalysisFinalYear = opts.AnalysisInitialYear - 1
	opts.ProducerConvergenceFactor = 1.5
	opts.CreditTransferPolicy = "sometimes"

	// WHEN validated
	err := opts.Validate()

	// THEN all three are reported as input validation errors
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputValidation)
	assert.Len(t, multierr.Errors(unwrapValidation(err)), 3)
}

func unwrapValidation(err error) error {
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		errs := u.Unwrap()
		return errs[len(errs)-1]
	}
	return err
}

func TestSessionOptions_ContextYear(t *testing.T) {
	opts := DefaultSessionOptions()
	assert.Equal(t, 2030, opts.ContextYear(2030))
	opts.FlatContext = true
	opts.FlatContextYear = 2021
	assert.Equal(t, 2021, opts.ContextYear(2030))
}
