package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// OptionsFile is the session options snapshot written beside the outputs.
const OptionsFile = "session_options.yaml"

// WriteCSV writes each table to dir/{name}.csv, creating dir if needed.
func WriteCSV(dir string, tables []Table) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for i := range tables {
		if err := writeTable(filepath.Join(dir, tables[i].Name+".csv"), &tables[i]); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"dir": dir, "tables": len(tables)}).Info("CSV outputs written")
	return nil
}

func writeTable(path string, t *Table) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.Write(t.Header()); err != nil {
		return fmt.Errorf("writing %s header: %w", t.Name, err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("%s row %d has %d values for %d columns", t.Name, i, len(row), len(t.Columns))
		}
		for j, v := range row {
			record[j] = format(v)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("writing %s row %d: %w", t.Name, i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", t.Name, err)
	}
	return nil
}

// WriteOptions writes the session options as YAML so a run can be repeated.
func WriteOptions(dir string, opts sim.SessionOptions) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshaling session options: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, OptionsFile), data, 0o644); err != nil {
		return fmt.Errorf("writing session options: %w", err)
	}
	return nil
}
