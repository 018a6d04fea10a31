package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/credits"
	"github.com/vehicle-sim/vehicle-sim/sim/session"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

// sampleResult is a two-year, one-vehicle result with a credit bank and a
// traced outer loop.
func sampleResult(t *testing.T) *session.Result {
	t.Helper()
	arena := sim.NewVehicleArena()
	base := arena.Add(&sim.Vehicle{Name: "ice_sedan", ManufacturerID: "OEM_A", ModelYear: 2020, BaseHandle: sim.NoVehicle})
	var produced []sim.VehicleHandle
	for _, y := range []int{2021, 2022} {
		v := &sim.Vehicle{
			Name: "ice_sedan", ManufacturerID: "OEM_A", ModelYear: y, MarketClassID: "ICE",
			RegClassID: "car", FuelingClass: sim.FuelingICE, BaseHandle: base,
			Sales: 1000, CO2eGPMI: 210, Cost: 27000, Price: 27500, InitialRegisteredCount: 1000,
		}
		v.SetAttribute("offcycle:ac", 5)
		produced = append(produced, arena.Add(v))
	}

	bank := credits.NewBank("OEM_A", credits.Policy{CreditLifeYears: 5, DebitLifeYears: 3, Transfer: sim.TransferAll})
	bank.Age(2021)
	_, err := bank.Handle(2021, 100, 80)
	require.NoError(t, err)
	bank.Age(2022)
	_, err = bank.Handle(2022, 100, 110)
	require.NoError(t, err)

	tr := trace.NewSimulationTrace(trace.TraceConfig{ConsumerYears: trace.YearSelection{All: true}})
	tr.RecordOuter(trace.OuterIterationRecord{ManufacturerID: "OEM_A", CalendarYear: 2021, ShareDeltaTotal: 0.01})
	tr.RecordConsumer(trace.ConsumerIterationRecord{
		ManufacturerID: "OEM_A", CalendarYear: 2021, ParentID: "",
		Multipliers:    []trace.ClassValue{{MarketClassID: "BEV", Value: 0.9}, {MarketClassID: "ICE", Value: 1.1}},
		ProducerShares: []trace.ClassValue{{MarketClassID: "ICE", Value: 0.8}},
	})

	opts := sim.DefaultSessionOptions()
	opts.AnalysisInitialYear, opts.AnalysisFinalYear = 2021, 2022
	return &session.Result{
		RunID:   "run-1",
		Options: opts,
		Arena:   arena,
		Years: []session.YearResult{
			{Year: 2021, TotalSales: 1000, SalesByMarketClass: map[string]float64{"ICE": 1000}},
			{Year: 2022, TotalSales: 1000, NonConvergence: true, SalesByMarketClass: map[string]float64{"ICE": 900, "BEV": 100}},
		},
		ManufacturerAnnual: []sim.ManufacturerAnnualData{
			{ManufacturerID: "OEM_A", ModelYear: 2021, TargetCO2eMg: 100, CalendarYearCertCO2eMg: 80, ModelYearCertCO2eMg: 90},
			{ManufacturerID: "OEM_A", ModelYear: 2022, TargetCO2eMg: 100, CalendarYearCertCO2eMg: 110, ModelYearCertCO2eMg: 100},
		},
		VehicleAnnual: []sim.VehicleAnnualData{{Vehicle: produced[0], CalendarYear: 2021, RegisteredCount: 1000}},
		Produced:      produced,
		Banks:         map[string]*credits.Bank{"OEM_A": bank},
		BankIDs:       []string{"OEM_A"},
		Trace:         tr,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func tableNamed(tables []Table, name string) *Table {
	for i := range tables {
		if tables[i].Name == name {
			return &tables[i]
		}
	}
	return nil
}

func TestBuild_TableSet(t *testing.T) {
	tables := Build(sampleResult(t))

	var names []string
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{
		"summary", "vehicles", "vehicle_annual_data", "manufacturer_annual_data",
		"OEM_A_credit_balances", "OEM_A_credit_transactions",
		"2021_consumer_iteration_log", "outer_iteration_log",
	}, names)
}

func TestSummary_ClassColumnsAndNonConvergence(t *testing.T) {
	// GIVEN years with different market classes sold
	s := Summary(sampleResult(t))

	// THEN every class gets a sales column and missing classes read zero
	header := s.Header()
	assert.Equal(t, []string{"sales:BEV", "sales:ICE"}, header[len(header)-2:])
	require.Len(t, s.Rows, 2)
	first := s.Rows[0]
	assert.Equal(t, 0.0, first[len(first)-2])
	assert.Equal(t, 1000.0, first[len(first)-1])
	assert.Equal(t, true, s.Rows[1][12], "non_convergence column")
}

func TestVehicles_AttributeColumns(t *testing.T) {
	v := Vehicles(sampleResult(t))

	header := v.Header()
	assert.Equal(t, "offcycle:ac", header[len(header)-1])
	require.Len(t, v.Rows, 2)
	assert.Equal(t, 5.0, v.Rows[0][len(header)-1])
	assert.Equal(t, 0, v.Rows[0][1], "base vehicle handle")
}

func TestConsumerLog_SparseClassValues(t *testing.T) {
	res := sampleResult(t)
	l := ConsumerLog(res.Trace, 2021)

	require.Len(t, l.Rows, 1)
	row := l.Rows[0]
	idx := map[string]int{}
	for i, name := range l.Header() {
		idx[name] = i
	}
	assert.Equal(t, 1.1, row[idx["cost_multiplier:ICE"]])
	assert.Equal(t, 0.8, row[idx["producer_abs_share:ICE"]])
	assert.Nil(t, row[idx["producer_abs_share:BEV"]], "absent class is blank")
}

func TestWriteCSV_WritesEveryTable(t *testing.T) {
	// GIVEN a result
	res := sampleResult(t)
	dir := filepath.Join(t.TempDir(), "out")

	// WHEN its tables are written
	require.NoError(t, WriteCSV(dir, Build(res)))
	require.NoError(t, WriteOptions(dir, res.Options))

	// THEN each file has its header and rows
	summary := readCSV(t, filepath.Join(dir, "summary.csv"))
	require.Len(t, summary, 3)
	assert.Equal(t, "calendar_year", summary[0][0])
	assert.Equal(t, "2022", summary[2][0])

	mad := readCSV(t, filepath.Join(dir, "manufacturer_annual_data.csv"))
	require.Len(t, mad, 3)
	assert.Equal(t, "90", mad[1][4])

	tx := readCSV(t, filepath.Join(dir, "OEM_A_credit_transactions.csv"))
	assert.Equal(t, []string{"calendar_year", "type", "from_year", "to_year", "amount_Mg"}, tx[0])
	assert.Equal(t, []string{"2021", "CREATE", "2021", "2021", "20"}, tx[1])

	data, err := os.ReadFile(filepath.Join(dir, OptionsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "analysis_final_year: 2022")
}

func TestWriteCSV_RejectsRaggedRows(t *testing.T) {
	tbl := Table{Name: "bad"}
	tbl.col("a", Int)
	tbl.add(1, 2)
	err := WriteCSV(t.TempDir(), []Table{tbl})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 values for 1 columns")
}

func TestWriteSQLite_MirrorsTables(t *testing.T) {
	// GIVEN a result written to a SQLite file
	res := sampleResult(t)
	path := filepath.Join(t.TempDir(), "db", "results.sqlite")
	tables := Build(res)
	require.NoError(t, WriteSQLite(context.Background(), path, res, tables))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	// THEN the run is recorded
	var name, years string
	require.NoError(t, db.QueryRow(`SELECT session_name, non_convergence_years FROM runs WHERE run_id = ?`, "run-1").Scan(&name, &years))
	assert.Equal(t, "session", name)
	assert.Equal(t, "2022", years)

	// AND every table holds its rows keyed by run
	for _, tbl := range tables {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "`+tbl.Name+`" WHERE run_id = 'run-1'`).Scan(&n))
		assert.Equal(t, len(tbl.Rows), n, tbl.Name)
	}
	var cert float64
	require.NoError(t, db.QueryRow(`SELECT model_year_cert_co2e_Mg FROM manufacturer_annual_data WHERE model_year = 2022`).Scan(&cert))
	assert.Equal(t, 100.0, cert)
	assert.NotNil(t, tableNamed(tables, "summary"))
}
