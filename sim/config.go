package sim

import (
	"bytes"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// Credit consolidation orders for consolidated manufacturers.
const (
	CreditBeforeConsolidation = "credit_before_consolidation"
	ConsolidationBeforeCredit = "consolidation_before_credit"
)

// Credit transfer policies for the strategic offset.
const (
	TransferNone     = "none"
	TransferExpiring = "expiring"
	TransferAll      = "all"
)

// ConsolidatedManufacturerID names the single compliance entity when
// manufacturers are consolidated.
const ConsolidatedManufacturerID = "consolidated_OEM"

// ValidCreditConsolidationOrders is the set of recognized consolidation orders.
var ValidCreditConsolidationOrders = map[string]bool{"": true, CreditBeforeConsolidation: true, ConsolidationBeforeCredit: true}

// ValidCreditTransferPolicies is the set of recognized transfer policies.
var ValidCreditTransferPolicies = map[string]bool{"": true, TransferNone: true, TransferExpiring: true, TransferAll: true}

// SessionOptions configures one simulation session. It is passed by value
// through the session; there is no global configuration.
type SessionOptions struct {
	SessionName string `yaml:"session_name"`
	InputDir    string `yaml:"input_dir"`
	OutputDir   string `yaml:"output_dir"`
	// OutputSQLite optionally mirrors every output table into a SQLite file.
	OutputSQLite string `yaml:"output_sqlite"`
	ContextID    string `yaml:"context_id"`
	CaseID       string `yaml:"case_id"`

	AnalysisInitialYear int `yaml:"analysis_initial_year"`
	AnalysisFinalYear   int `yaml:"analysis_final_year"`
	AnalysisDollarBasis int `yaml:"analysis_dollar_basis"`

	IterateProducerConsumer            bool    `yaml:"iterate_producer_consumer"`
	ProducerConsumerMaxIterations      int     `yaml:"producer_consumer_max_iterations"`
	ProducerConsumerIterationTolerance float64 `yaml:"producer_consumer_iteration_tolerance"`

	ProducerNumTechOptionsPerICEVehicle int     `yaml:"producer_num_tech_options_per_ice_vehicle"`
	ProducerNumTechOptionsPerBEVVehicle int     `yaml:"producer_num_tech_options_per_bev_vehicle"`
	ProducerNumMarketShareOptions       int     `yaml:"producer_num_market_share_options"`
	ProducerConvergenceFactor           float64 `yaml:"producer_convergence_factor"`
	ProducerMaxIterations               int     `yaml:"producer_max_iterations"`
	ProducerIterationTolerance          float64 `yaml:"producer_iteration_tolerance"`
	ProducerMaxCandidates               int     `yaml:"producer_max_candidates"`

	ConsumerPricingMultiplierMin      float64 `yaml:"consumer_pricing_multiplier_min"`
	ConsumerPricingMultiplierMax      float64 `yaml:"consumer_pricing_multiplier_max"`
	ConsumerPricingNumOptions         int     `yaml:"consumer_pricing_num_options"`
	ConsumerPricingMaxIterations      int     `yaml:"consumer_pricing_max_iterations"`
	ConsumerPriceTolerance            float64 `yaml:"consumer_price_tolerance"`
	ConsumerShareTolerance            float64 `yaml:"consumer_share_tolerance"`
	NewVehiclePriceElasticityOfDemand float64 `yaml:"new_vehicle_price_elasticity_of_demand"`

	AllowBacksliding bool `yaml:"allow_backsliding"`
	FlatContext      bool `yaml:"flat_context"`
	FlatContextYear  int  `yaml:"flat_context_year"`

	ConsolidateManufacturers bool   `yaml:"consolidate_manufacturers"`
	CreditConsolidationOrder string `yaml:"credit_consolidation_order"`
	CreditTransferPolicy     string `yaml:"credit_transfer_policy"`
	CreditLifeYears          int    `yaml:"credit_life_years"`
	DebitLifeYears           int    `yaml:"debit_life_years"`

	ElectricityFuelID         string  `yaml:"electricity_fuel_id"`
	RechargeEfficiency        float64 `yaml:"recharge_efficiency"`
	CostCurveSamples          int     `yaml:"cost_curve_samples"`
	GeneralizedCostYears      float64 `yaml:"generalized_cost_years"`
	FootprintWTPDollarsPerFt2 float64 `yaml:"footprint_wtp_dollars_per_ft2"`

	LogProducerIterationYears trace.YearSelection `yaml:"log_producer_iteration_years"`
	LogConsumerIterationYears trace.YearSelection `yaml:"log_consumer_iteration_years"`
}

// DefaultSessionOptions returns the options used for keys a session file omits.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		SessionName:                         "session",
		InputDir:                            ".",
		OutputDir:                           "out",
		ContextID:                           "reference",
		CaseID:                              "reference",
		AnalysisInitialYear:                 2021,
		AnalysisFinalYear:                   2025,
		IterateProducerConsumer:             true,
		ProducerConsumerMaxIterations:       5,
		ProducerConsumerIterationTolerance:  0.003,
		ProducerNumTechOptionsPerICEVehicle: 5,
		ProducerNumTechOptionsPerBEVVehicle: 3,
		ProducerNumMarketShareOptions:       5,
		ProducerConvergenceFactor:           0.5,
		ProducerMaxIterations:               10,
		ProducerIterationTolerance:          0.003,
		ProducerMaxCandidates:               20000,
		ConsumerPricingMultiplierMin:        0.8,
		ConsumerPricingMultiplierMax:        1.2,
		ConsumerPricingNumOptions:           5,
		ConsumerPricingMaxIterations:        20,
		ConsumerPriceTolerance:              1e-4,
		ConsumerShareTolerance:              0.003,
		ConsolidateManufacturers:            false,
		CreditConsolidationOrder:            ConsolidationBeforeCredit,
		CreditTransferPolicy:                TransferAll,
		CreditLifeYears:                     5,
		DebitLifeYears:                      3,
		ElectricityFuelID:                   "US electricity",
		RechargeEfficiency:                  0.9,
		CostCurveSamples:                    DefaultCostCurveSamples,
		GeneralizedCostYears:                5,
	}
}

// LoadSessionOptions reads a YAML session file over the defaults.
// Unknown keys are rejected.
func LoadSessionOptions(path string) (SessionOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SessionOptions{}, fmt.Errorf("reading session config: %w", err)
	}
	return ParseSessionOptions(data)
}

// ParseSessionOptions decodes YAML over the defaults with strict field checking.
func ParseSessionOptions(data []byte) (SessionOptions, error) {
	opts := DefaultSessionOptions()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&opts); err != nil {
		return SessionOptions{}, fmt.Errorf("parsing session config: %w", err)
	}
	return opts, nil
}

// Validate checks ranges and enumerations, reporting every problem found.
func (o *SessionOptions) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, args...))
		}
	}
	check(o.AnalysisInitialYear > 0, "analysis_initial_year must be positive, got %d", o.AnalysisInitialYear)
	check(o.AnalysisFinalYear >= o.AnalysisInitialYear, "analysis_final_year %d is before analysis_initial_year %d", o.AnalysisFinalYear, o.AnalysisInitialYear)
	check(o.ProducerConsumerMaxIterations >= 1, "producer_consumer_max_iterations must be >= 1, got %d", o.ProducerConsumerMaxIterations)
	check(o.ProducerConsumerIterationTolerance >= 0, "producer_consumer_iteration_tolerance must be non-negative, got %g", o.ProducerConsumerIterationTolerance)
	check(o.ProducerNumTechOptionsPerICEVehicle >= 1, "producer_num_tech_options_per_ice_vehicle must be >= 1, got %d", o.ProducerNumTechOptionsPerICEVehicle)
	check(o.ProducerNumTechOptionsPerBEVVehicle >= 1, "producer_num_tech_options_per_bev_vehicle must be >= 1, got %d", o.ProducerNumTechOptionsPerBEVVehicle)
	check(o.ProducerNumMarketShareOptions >= 2, "producer_num_market_share_options must be >= 2, got %d", o.ProducerNumMarketShareOptions)
	check(o.ProducerConvergenceFactor > 0 && o.ProducerConvergenceFactor < 1, "producer_convergence_factor must be in (0, 1), got %g", o.ProducerConvergenceFactor)
	check(o.ProducerMaxIterations >= 1, "producer_max_iterations must be >= 1, got %d", o.ProducerMaxIterations)
	check(o.ProducerIterationTolerance >= 0, "producer_iteration_tolerance must be non-negative, got %g", o.ProducerIterationTolerance)
	check(o.ProducerMaxCandidates >= 1, "producer_max_candidates must be >= 1, got %d", o.ProducerMaxCandidates)
	check(o.ConsumerPricingMultiplierMin > 0, "consumer_pricing_multiplier_min must be positive, got %g", o.ConsumerPricingMultiplierMin)
	check(o.ConsumerPricingMultiplierMax >= o.ConsumerPricingMultiplierMin, "consumer_pricing_multiplier_max %g is below consumer_pricing_multiplier_min %g", o.ConsumerPricingMultiplierMax, o.ConsumerPricingMultiplierMin)
	check(o.ConsumerPricingNumOptions >= 1, "consumer_pricing_num_options must be >= 1, got %d", o.ConsumerPricingNumOptions)
	check(o.ConsumerPricingMaxIterations >= 1, "consumer_pricing_max_iterations must be >= 1, got %d", o.ConsumerPricingMaxIterations)
	check(o.ConsumerPriceTolerance >= 0, "consumer_price_tolerance must be non-negative, got %g", o.ConsumerPriceTolerance)
	check(o.ConsumerShareTolerance >= 0, "consumer_share_tolerance must be non-negative, got %g", o.ConsumerShareTolerance)
	check(!o.FlatContext || o.FlatContextYear > 0, "flat_context requires flat_context_year")
	check(ValidCreditConsolidationOrders[o.CreditConsolidationOrder], "unknown credit_consolidation_order %q", o.CreditConsolidationOrder)
	check(ValidCreditTransferPolicies[o.CreditTransferPolicy], "unknown credit_transfer_policy %q", o.CreditTransferPolicy)
	check(o.CreditLifeYears >= 1, "credit_life_years must be >= 1, got %d", o.CreditLifeYears)
	check(o.DebitLifeYears >= 1, "debit_life_years must be >= 1, got %d", o.DebitLifeYears)
	check(o.RechargeEfficiency > 0 && o.RechargeEfficiency <= 1, "recharge_efficiency must be in (0, 1], got %g", o.RechargeEfficiency)
	check(o.CostCurveSamples >= 2, "cost_curve_samples must be >= 2, got %d", o.CostCurveSamples)
	check(o.GeneralizedCostYears >= 0, "generalized_cost_years must be non-negative, got %g", o.GeneralizedCostYears)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInputValidation, err)
	}
	return nil
}

// OuterIterations is the number of producer/consumer iterations to run.
func (o *SessionOptions) OuterIterations() int {
	if !o.IterateProducerConsumer {
		return 1
	}
	return o.ProducerConsumerMaxIterations
}

// ContextYear maps a calendar year to the year used for context lookups.
func (o *SessionOptions) ContextYear(year int) int {
	if o.FlatContext {
		return o.FlatContextYear
	}
	return year
}

// TransferPolicy returns the configured policy, defaulting to all.
func (o *SessionOptions) TransferPolicy() string {
	if o.CreditTransferPolicy == "" {
		return TransferAll
	}
	return o.CreditTransferPolicy
}

// ConsolidationOrder returns the configured order, defaulting to
// consolidation before credit.
func (o *SessionOptions) ConsolidationOrder() string {
	if o.CreditConsolidationOrder == "" {
		return ConsolidationBeforeCredit
	}
	return o.CreditConsolidationOrder
}
