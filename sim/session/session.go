// Package session drives a simulation over the analysis years: per
// compliance entity it runs the producer/consumer loop, finalizes vehicles,
// records credits and rolls the registered stock forward.
package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/consumer"
	"github.com/vehicle-sim/vehicle-sim/sim/credits"
	"github.com/vehicle-sim/vehicle-sim/sim/inputs"
	"github.com/vehicle-sim/vehicle-sim/sim/stock"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// EntityYear is one compliance entity's outcome in a model year.
type EntityYear struct {
	EntityID string
	Decision *sim.ProducerDecision
	Response *sim.ConsumerResponse
	// Multipliers are the cross-subsidy cost multipliers by market class.
	Multipliers     map[string]float64
	OuterIterations int
	Converged       bool
	// NonConvergence is set when the outer loop hit its cap unconverged.
	NonConvergence bool
	// Compliant reports whether the producer found a compliant candidate.
	Compliant bool
}

// YearResult is one row of the session summary.
type YearResult struct {
	Year            int
	TotalSales      float64
	AveragePrice    float64
	AverageCost     float64
	TargetCO2eMg    float64
	CertCO2eMg      float64
	OuterIterations int
	NonConvergence  bool
	// SalesByMarketClass holds finalized sales keyed by market class.
	SalesByMarketClass map[string]float64
	RegisteredCount    float64
	StockVMT           float64
	ContextStockVMT    float64
	// StockVMTRatio is simulated over context stock VMT, zero without context.
	StockVMTRatio float64
	CreditBalance float64
	Entities      []EntityYear
}

// Result holds everything a session produced. After a runtime failure it
// holds the years completed before the failure.
type Result struct {
	RunID              string
	Options            sim.SessionOptions
	Arena              *sim.VehicleArena
	Years              []YearResult
	ManufacturerAnnual []sim.ManufacturerAnnualData
	VehicleAnnual      []sim.VehicleAnnualData
	// Produced lists the finalized model-year vehicles in production order.
	Produced []sim.VehicleHandle
	// Banks are the credit banks keyed by ledger ID; BankIDs is their order.
	Banks   map[string]*credits.Bank
	BankIDs []string
	Trace   *trace.SimulationTrace
}

// NonConvergenceYears returns the years whose outer loop did not converge.
func (r *Result) NonConvergenceYears() []int {
	var out []int
	for _, y := range r.Years {
		if y.NonConvergence {
			out = append(out, y.Year)
		}
	}
	return out
}

// RunOption customizes Run.
type RunOption func(*runConfig)

type runConfig struct {
	onYear func(year int)
	runID  string
}

// WithYearCallback calls fn after every completed year.
func WithYearCallback(fn func(year int)) RunOption {
	return func(c *runConfig) { c.onYear = fn }
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// ledger is one credit account: its bank and the manufacturers whose
// vehicles count toward it.
type ledger struct {
	id            string
	bank          *credits.Bank
	manufacturers map[string]bool
}

// entity is one compliance decision maker: a manufacturer, or every
// manufacturer when consolidated.
type entity struct {
	id            string
	manufacturers []string
	base          []sim.VehicleHandle
	ledgers       []*ledger
	// previousShares are last year's final absolute shares.
	previousShares map[string]float64
	// referencePrice is last year's sales-weighted price for the demand response.
	referencePrice float64
}

type session struct {
	opts   sim.SessionOptions
	tables *inputs.Tables
	tree   *sim.MarketTree
	arena  *sim.VehicleArena
	stock  *stock.Stock
	shares *consumer.ShareModel
	result *Result
	// sizeClassBase is the base-year sales of every manufacturer by context
	// size class.
	sizeClassBase map[string]float64

	entities []*entity
	ledgers  []*ledger
	// latest maps a base-year vehicle to its most recent model-year vehicle.
	latest map[sim.VehicleHandle]sim.VehicleHandle
	// madIndex locates manufacturer annual rows by ledger and model year.
	madIndex map[madKey]int
	log      *logrus.Entry
}

type madKey struct {
	ledger string
	year   int
}

// Run simulates every analysis year in order. Input tables must already be
// loaded and validated. On a runtime failure the partial result is returned
// with the error.
func Run(ctx context.Context, opts sim.SessionOptions, tables *inputs.Tables, options ...RunOption) (*Result, error) {
	cfg := runConfig{}
	for _, o := range options {
		o(&cfg)
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s, err := newSession(opts, tables, cfg.runID)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"first_year": opts.AnalysisInitialYear,
		"last_year":  opts.AnalysisFinalYear,
		"entities":   len(s.entities),
	}).Info("session starting")

	for year := opts.AnalysisInitialYear; year <= opts.AnalysisFinalYear; year++ {
		if err := ctx.Err(); err != nil {
			return s.result, err
		}
		if err := s.runYear(ctx, year); err != nil {
			return s.result, fmt.Errorf("year %d: %w", year, err)
		}
		if cfg.onYear != nil {
			cfg.onYear(year)
		}
	}
	if years := s.result.NonConvergenceYears(); len(years) > 0 {
		s.log.WithField("years", years).Warn("producer/consumer loop did not converge in some years")
	}
	s.log.Info("session complete")
	return s.result, nil
}

func newSession(opts sim.SessionOptions, tables *inputs.Tables, runID string) (*session, error) {
	tree, err := tables.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sim.ErrInputValidation, err)
	}
	s := &session{
		opts:     opts,
		tables:   tables,
		tree:     tree,
		arena:    sim.NewVehicleArena(),
		stock:    stock.New(tables.Reregistration, tables.AnnualVMT),
		shares:   &consumer.ShareModel{Calibrations: tables.Calibrations, RechargeEfficiency: opts.RechargeEfficiency},
		latest:   make(map[sim.VehicleHandle]sim.VehicleHandle),
		madIndex: make(map[madKey]int),
		log:      logrus.WithFields(logrus.Fields{"session": opts.SessionName, "run_id": runID}),
	}
	s.result = &Result{
		RunID:   runID,
		Options: opts,
		Arena:   s.arena,
		Banks:   make(map[string]*credits.Bank),
		Trace: trace.NewSimulationTrace(trace.TraceConfig{
			ProducerYears: opts.LogProducerIterationYears,
			ConsumerYears: opts.LogConsumerIterationYears,
		}),
	}

	s.sizeClassBase = tables.SizeClassBaseYearSales()
	byManufacturer := make(map[string][]sim.VehicleHandle)
	for _, v := range tables.Vehicles {
		h := s.arena.Add(v.Clone())
		byManufacturer[v.ManufacturerID] = append(byManufacturer[v.ManufacturerID], h)
	}
	mfrs := append([]string(nil), tables.Manufacturers...)
	sort.Strings(mfrs)
	s.buildEntities(mfrs, byManufacturer)
	for _, l := range s.ledgers {
		s.result.Banks[l.id] = l.bank
		s.result.BankIDs = append(s.result.BankIDs, l.id)
	}
	if err := s.seedCredits(); err != nil {
		return nil, err
	}
	return s, nil
}

// buildEntities creates the compliance entities and their credit ledgers.
// Consolidated manufacturers share one entity; their credits are kept in one
// consolidated bank, or per manufacturer when credits come before
// consolidation.
func (s *session) buildEntities(mfrs []string, byManufacturer map[string][]sim.VehicleHandle) {
	policy := credits.PolicyFrom(s.opts)
	newLedger := func(id string, members ...string) *ledger {
		l := &ledger{id: id, bank: credits.NewBank(id, policy), manufacturers: make(map[string]bool)}
		for _, m := range members {
			l.manufacturers[m] = true
		}
		s.ledgers = append(s.ledgers, l)
		return l
	}

	if !s.opts.ConsolidateManufacturers {
		for _, m := range mfrs {
			s.entities = append(s.entities, &entity{
				id:            m,
				manufacturers: []string{m},
				base:          byManufacturer[m],
				ledgers:       []*ledger{newLedger(m, m)},
			})
		}
		return
	}

	e := &entity{id: sim.ConsolidatedManufacturerID, manufacturers: mfrs}
	for _, m := range mfrs {
		e.base = append(e.base, byManufacturer[m]...)
	}
	sort.Slice(e.base, func(i, j int) bool { return e.base[i] < e.base[j] })
	if s.opts.ConsolidationOrder() == sim.ConsolidationBeforeCredit {
		e.ledgers = []*ledger{newLedger(e.id, mfrs...)}
	} else {
		for _, m := range mfrs {
			e.ledgers = append(e.ledgers, newLedger(m, m))
		}
	}
	s.entities = []*entity{e}
}

func (s *session) ledgerFor(manufacturer string) *ledger {
	for _, l := range s.ledgers {
		if l.manufacturers[manufacturer] {
			return l
		}
	}
	return nil
}

func (s *session) seedCredits() error {
	for _, seed := range s.tables.CreditSeeds {
		l := s.ledgerFor(seed.ManufacturerID)
		if l == nil {
			return fmt.Errorf("%w: credit seed for unknown manufacturer %q", sim.ErrInputValidation, seed.ManufacturerID)
		}
		l.bank.Seed(seed.Year, seed.Mg, seed.Life)
	}
	return nil
}
