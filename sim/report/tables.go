// Package report turns a session result into output tables and writes them
// as CSV files or into a SQLite database.
package report

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vehicle-sim/vehicle-sim/sim/session"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// Kind is the storage type of a column.
type Kind int

// Column kinds.
const (
	Text Kind = iota
	Int
	Real
	Bool
	Decimal
)

// Column is one named, typed output column.
type Column struct {
	Name string
	Kind Kind
}

// Table is one output table. Row values match Columns by position and kind.
type Table struct {
	Name    string
	Columns []Column
	Rows    [][]any
}

func (t *Table) col(name string, kind Kind) {
	t.Columns = append(t.Columns, Column{Name: name, Kind: kind})
}

func (t *Table) add(values ...any) {
	t.Rows = append(t.Rows, values)
}

// Header returns the column names.
func (t *Table) Header() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// format renders one cell for CSV.
func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Build returns every output table of res in a fixed order: summary,
// vehicles, vehicle annual data, manufacturer annual data, the credit
// tables of each bank, then the iteration logs by year.
func Build(res *session.Result) []Table {
	out := []Table{
		Summary(res),
		Vehicles(res),
		VehicleAnnual(res),
		ManufacturerAnnual(res),
	}
	for _, id := range res.BankIDs {
		out = append(out, CreditBalances(res, id), CreditTransactions(res, id))
	}
	if res.Trace != nil {
		for _, y := range res.Trace.ProducerYears() {
			out = append(out, ProducerLog(res.Trace, y))
		}
		for _, y := range res.Trace.ConsumerYears() {
			out = append(out, ConsumerLog(res.Trace, y))
		}
		if len(res.Trace.Outer) > 0 {
			out = append(out, OuterLog(res.Trace))
		}
	}
	return out
}

// Summary is one row per analysis year with per market class sales columns.
func Summary(res *session.Result) Table {
	t := Table{Name: "summary"}
	t.col("calendar_year", Int)
	t.col("total_sales", Real)
	t.col("average_price_dollars", Real)
	t.col("average_cost_dollars", Real)
	t.col("target_co2e_Mg", Real)
	t.col("cert_co2e_Mg", Real)
	t.col("credit_balance_Mg", Real)
	t.col("registered_count", Real)
	t.col("stock_vmt", Real)
	t.col("context_stock_vmt", Real)
	t.col("stock_vmt_ratio", Real)
	t.col("outer_iterations", Int)
	t.col("non_convergence", Bool)

	classSet := make(map[string]bool)
	for _, y := range res.Years {
		for mc := range y.SalesByMarketClass {
			classSet[mc] = true
		}
	}
	classes := sortedKeys(classSet)
	for _, mc := range classes {
		t.col("sales:"+mc, Real)
	}

	for _, y := range res.Years {
		row := []any{
			y.Year, y.TotalSales, y.AveragePrice, y.AverageCost, y.TargetCO2eMg, y.CertCO2eMg,
			y.CreditBalance, y.RegisteredCount, y.StockVMT, y.ContextStockVMT, y.StockVMTRatio,
			y.OuterIterations, y.NonConvergence,
		}
		for _, mc := range classes {
			row = append(row, y.SalesByMarketClass[mc])
		}
		t.add(row...)
	}
	return t
}

// Vehicles is one row per finalized model-year vehicle, with a column per
// keyed attribute seen on any of them.
func Vehicles(res *session.Result) Table {
	t := Table{Name: "vehicles"}
	for _, c := range []Column{
		{"vehicle_id", Int}, {"base_vehicle_id", Int}, {"vehicle_name", Text}, {"manufacturer_id", Text},
		{"model_year", Int}, {"composite_id", Text}, {"market_class_id", Text}, {"reg_class_id", Text},
		{"fueling_class", Text}, {"redesigned", Bool}, {"sales", Real}, {"co2e_grams_per_mile", Real},
		{"kwh_per_mile", Real}, {"cost_dollars", Real}, {"price_dollars", Real},
		{"generalized_cost_dollars", Real}, {"target_co2e_grams_per_mile", Real}, {"lifetime_vmt", Real},
		{"target_co2e_Mg", Real}, {"cert_co2e_Mg", Real}, {"production_multiplier", Real},
		{"initial_registered_count", Real},
	} {
		t.col(c.Name, c.Kind)
	}

	attrSet := make(map[string]bool)
	for _, h := range res.Produced {
		for _, k := range res.Arena.Get(h).AttributeKeys() {
			attrSet[k] = true
		}
	}
	attrs := sortedKeys(attrSet)
	for _, k := range attrs {
		t.col(k, Real)
	}

	for _, h := range res.Produced {
		v := res.Arena.Get(h)
		row := []any{
			int(h), int(v.BaseHandle), v.Name, v.ManufacturerID,
			v.ModelYear, v.CompositeID, v.MarketClassID, v.RegClassID,
			string(v.FuelingClass), v.Redesigned, v.Sales, v.CO2eGPMI,
			v.KWhPMI, v.Cost, v.Price,
			v.GeneralizedCost, v.TargetCO2eGPMI, v.LifetimeVMT,
			v.TargetCO2eMg, v.CertCO2eMg, v.ProductionMultiplier,
			v.InitialRegisteredCount,
		}
		for _, k := range attrs {
			row = append(row, v.Attribute(k))
		}
		t.add(row...)
	}
	return t
}

// VehicleAnnual is the registered stock by vehicle and calendar year.
func VehicleAnnual(res *session.Result) Table {
	t := Table{Name: "vehicle_annual_data"}
	t.col("vehicle_id", Int)
	t.col("calendar_year", Int)
	t.col("age", Int)
	t.col("registered_count", Real)
	t.col("annual_vmt", Real)
	t.col("odometer", Real)
	t.col("vmt", Real)
	for _, r := range res.VehicleAnnual {
		t.add(int(r.Vehicle), r.CalendarYear, r.Age, r.RegisteredCount, r.AnnualVMT, r.Odometer, r.VMT)
	}
	return t
}

// ManufacturerAnnual is the compliance record per credit ledger and model year.
func ManufacturerAnnual(res *session.Result) Table {
	t := Table{Name: "manufacturer_annual_data"}
	t.col("manufacturer_id", Text)
	t.col("model_year", Int)
	t.col("target_co2e_Mg", Real)
	t.col("calendar_year_cert_co2e_Mg", Real)
	t.col("model_year_cert_co2e_Mg", Real)
	t.col("total_cost_dollars", Real)
	t.col("total_sales", Real)
	t.col("strategic_offset_Mg", Real)
	t.col("compliance_ratio", Real)
	t.col("non_convergence", Bool)
	for _, r := range res.ManufacturerAnnual {
		t.add(r.ManufacturerID, r.ModelYear, r.TargetCO2eMg, r.CalendarYearCertCO2eMg, r.ModelYearCertCO2eMg,
			r.TotalCost, r.TotalSales, r.StrategicOffsetMg, r.ComplianceRatio, r.NonConvergence)
	}
	return t
}

// CreditBalances is the end-of-year tranche history of bank id.
func CreditBalances(res *session.Result, id string) Table {
	t := Table{Name: id + "_credit_balances"}
	t.col("calendar_year", Int)
	t.col("origin_year", Int)
	t.col("balance_Mg", Decimal)
	t.col("remaining_life", Int)
	t.col("past_due", Bool)
	if b, ok := res.Banks[id]; ok {
		for _, r := range b.Balances() {
			t.add(r.CalendarYear, r.OriginYear, r.BalanceMg, r.RemainingLife, r.PastDue)
		}
	}
	return t
}

// CreditTransactions is the transaction log of bank id.
func CreditTransactions(res *session.Result, id string) Table {
	t := Table{Name: id + "_credit_transactions"}
	t.col("calendar_year", Int)
	t.col("type", Text)
	t.col("from_year", Int)
	t.col("to_year", Int)
	t.col("amount_Mg", Decimal)
	if b, ok := res.Banks[id]; ok {
		for _, r := range b.Transactions() {
			t.add(r.CalendarYear, string(r.Type), r.FromYear, r.ToYear, r.AmountMg)
		}
	}
	return t
}

// ProducerLog is every traced producer candidate of one year.
func ProducerLog(st *trace.SimulationTrace, year int) Table {
	var recs []trace.ProducerIterationRecord
	for _, r := range st.Producer {
		if r.CalendarYear == year {
			recs = append(recs, r)
		}
	}
	classes := make(map[string]bool)
	for _, r := range recs {
		for _, cv := range r.AbsShares {
			classes[cv.MarketClassID] = true
		}
	}
	ids := sortedKeys(classes)

	t := Table{Name: fmt.Sprintf("%d_producer_iteration_log", year)}
	t.col("manufacturer_id", Text)
	t.col("outer_iteration", Int)
	t.col("search_iteration", Int)
	t.col("candidate", Int)
	for _, id := range ids {
		t.col("abs_share:"+id, Real)
	}
	t.col("total_target_co2e_Mg", Real)
	t.col("total_cert_co2e_Mg", Real)
	t.col("strategic_offset_Mg", Real)
	t.col("compliance_ratio", Real)
	t.col("total_cost_dollars", Real)
	t.col("total_generalized_cost_dollars", Real)
	t.col("selected", Text)
	for _, r := range recs {
		row := []any{r.ManufacturerID, r.OuterIteration, r.SearchIteration, r.Candidate}
		row = append(row, classValues(r.AbsShares, ids)...)
		row = append(row, r.TotalTargetCO2eMg, r.TotalCertCO2eMg, r.StrategicOffsetMg, r.ComplianceRatio,
			r.TotalCost, r.TotalGeneralizedCost, r.Selected)
		t.add(row...)
	}
	return t
}

// ConsumerLog is every traced cross-subsidy iteration of one year.
func ConsumerLog(st *trace.SimulationTrace, year int) Table {
	var recs []trace.ConsumerIterationRecord
	for _, r := range st.Consumer {
		if r.CalendarYear == year {
			recs = append(recs, r)
		}
	}
	classes := make(map[string]bool)
	for _, r := range recs {
		for _, cv := range r.Multipliers {
			classes[cv.MarketClassID] = true
		}
	}
	ids := sortedKeys(classes)

	t := Table{Name: fmt.Sprintf("%d_consumer_iteration_log", year)}
	t.col("manufacturer_id", Text)
	t.col("outer_iteration", Int)
	t.col("pricing_iteration", Int)
	t.col("parent_id", Text)
	for _, prefix := range []string{"cost_multiplier:", "producer_abs_share:", "consumer_abs_share:"} {
		for _, id := range ids {
			t.col(prefix+id, Real)
		}
	}
	t.col("share_delta", Real)
	t.col("price_cost_ratio", Real)
	t.col("convergence_score", Real)
	for _, r := range recs {
		row := []any{r.ManufacturerID, r.OuterIteration, r.PricingIteration, r.ParentID}
		row = append(row, classValues(r.Multipliers, ids)...)
		row = append(row, classValues(r.ProducerShares, ids)...)
		row = append(row, classValues(r.ConsumerShares, ids)...)
		row = append(row, r.ShareDelta, r.PriceCostRatio, r.ConvergenceScore)
		t.add(row...)
	}
	return t
}

// OuterLog is the producer/consumer outer iteration history.
func OuterLog(st *trace.SimulationTrace) Table {
	t := Table{Name: "outer_iteration_log"}
	t.col("manufacturer_id", Text)
	t.col("calendar_year", Int)
	t.col("outer_iteration", Int)
	t.col("share_delta_total", Real)
	t.col("price_cost_ratio_total", Real)
	t.col("convergence_score", Real)
	t.col("compliance_ratio", Real)
	t.col("converged", Bool)
	for _, r := range st.Outer {
		t.add(r.ManufacturerID, r.CalendarYear, r.OuterIteration, r.ShareDeltaTotal,
			r.PriceCostRatioTotal, r.ConvergenceScore, r.ComplianceRatio, r.Converged)
	}
	return t
}

// classValues lays out values in ids order; absent classes are nil.
func classValues(values []trace.ClassValue, ids []string) []any {
	byID := make(map[string]float64, len(values))
	for _, v := range values {
		byID[v.MarketClassID] = v.Value
	}
	out := make([]any, len(ids))
	for i, id := range ids {
		if v, ok := byID[id]; ok {
			out[i] = v
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
