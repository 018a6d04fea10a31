package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vehicle-sim/vehicle-sim/sim/session"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const createRuns = `CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	session_name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	analysis_initial_year INTEGER NOT NULL,
	analysis_final_year INTEGER NOT NULL,
	non_convergence_years TEXT NOT NULL,
	options_yaml TEXT NOT NULL
)`

// WriteSQLite mirrors tables into the SQLite database at path. Every table
// gains a leading run_id column so several runs can share one file; the
// runs table records each run's options.
func WriteSQLite(ctx context.Context, path string, res *session.Result, tables []Table) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing database: %w", cerr)
		}
	}()
	db.SetMaxOpenConns(1)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := insertRun(ctx, tx, res); err != nil {
		return err
	}
	for i := range tables {
		if err := insertTable(ctx, tx, res.RunID, &tables[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing outputs: %w", err)
	}
	logrus.WithFields(logrus.Fields{"path": path, "run_id": res.RunID, "tables": len(tables)}).Info("SQLite outputs written")
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, res *session.Result) error {
	if _, err := tx.ExecContext(ctx, createRuns); err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}
	opts, err := yaml.Marshal(res.Options)
	if err != nil {
		return fmt.Errorf("marshaling session options: %w", err)
	}
	years := make([]string, 0)
	for _, y := range res.NonConvergenceYears() {
		years = append(years, fmt.Sprint(y))
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_name, created_at, analysis_initial_year, analysis_final_year, non_convergence_years, options_yaml)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Options.SessionName, time.Now().UTC().Format(time.RFC3339),
		res.Options.AnalysisInitialYear, res.Options.AnalysisFinalYear, strings.Join(years, ","), string(opts))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", res.RunID, err)
	}
	return nil
}

func insertTable(ctx context.Context, tx *sql.Tx, runID string, t *Table) error {
	cols := []string{quote("run_id") + " TEXT NOT NULL"}
	names := []string{quote("run_id")}
	for _, c := range t.Columns {
		cols = append(cols, quote(c.Name)+" "+sqlType(c.Kind))
		names = append(names, quote(c.Name))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("creating table %s: %w", t.Name, err)
	}
	if len(t.Rows) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.Name), strings.Join(names, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", t.Name, err)
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(names))
	args[0] = runID
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%s row %d has %d values for %d columns", t.Name, i, len(row), len(t.Columns))
		}
		for j, v := range row {
			args[j+1] = sqlValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting %s row %d: %w", t.Name, i, err)
		}
	}
	return nil
}

func sqlType(k Kind) string {
	switch k {
	case Int, Bool:
		return "INTEGER"
	case Real, Decimal:
		return "REAL"
	}
	return "TEXT"
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return v
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
