package sim

import (
	"errors"

	"github.com/vehicle-sim/vehicle-sim/sim/costcurve"
)

// Error kinds. Callers test with errors.Is; lower layers wrap these with
// the offending key.
var (
	// ErrInputValidation marks schema, template version and cross-table failures.
	ErrInputValidation = errors.New("input validation failed")
	// ErrMissingCostCurve is returned when a cost-curve class has no cloud for a model year.
	ErrMissingCostCurve = costcurve.ErrMissingCostCurve
	// ErrMissingStockParameter is returned for an absent (market class, age) stock entry.
	ErrMissingStockParameter = errors.New("missing stock parameter")
	// ErrMissingCalibration is returned when a market class has no share model calibration.
	ErrMissingCalibration = errors.New("missing share model calibration")
	// ErrNonConvergence marks a loop that hit its iteration cap. It is recorded, never fatal.
	ErrNonConvergence = errors.New("iteration cap reached without convergence")
	// ErrCreditAccountingInconsistency is returned when a credit bank invariant fails.
	ErrCreditAccountingInconsistency = errors.New("credit accounting inconsistency")
)
