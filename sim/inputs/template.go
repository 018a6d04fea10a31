// Package inputs reads and validates the session's CSV input templates.
//
// Every template starts with a metadata row
//
//	input_template_name:,<name>,input_template_version:,<version>
//
// followed by a column header row and data rows.
package inputs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Table is one parsed input template.
type Table struct {
	Name    string
	Version string
	Path    string
	Header  []string
	Rows    [][]string
	index   map[string]int
}

// ReadTemplate opens path and parses it as template name at version.
func ReadTemplate(path, name, version string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()
	return ParseTemplate(file, path, name, version)
}

// ParseTemplate parses template data from r.
func ParseTemplate(r io.Reader, path, name, version string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: reading CSV: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: template header and column header rows required", path)
	}
	meta := records[0]
	if len(meta) < 4 || strings.TrimSpace(meta[0]) != "input_template_name:" || strings.TrimSpace(meta[2]) != "input_template_version:" {
		return nil, fmt.Errorf("%s: first row must be input_template_name:,<name>,input_template_version:,<version>", path)
	}
	t := &Table{
		Name:    strings.TrimSpace(meta[1]),
		Version: strings.TrimSpace(meta[3]),
		Path:    path,
		index:   make(map[string]int),
	}
	if t.Name != name {
		return nil, fmt.Errorf("%s: template name %q, expected %q", path, t.Name, name)
	}
	if !versionAtLeast(t.Version, version) {
		return nil, fmt.Errorf("%s: template version %q, need %s or later", path, t.Version, version)
	}
	for i, h := range records[1] {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, dup := t.index[h]; dup {
			return nil, fmt.Errorf("%s: duplicate column %q", path, h)
		}
		t.index[h] = i
		t.Header = append(t.Header, h)
	}
	for _, rec := range records[2:] {
		if isBlank(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func versionAtLeast(have, want string) bool {
	h, err1 := strconv.ParseFloat(have, 64)
	w, err2 := strconv.ParseFloat(want, 64)
	if err1 != nil || err2 != nil {
		return have == want
	}
	return h >= w
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Has reports whether the table has column col.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Require returns one error per missing column.
func (t *Table) Require(cols ...string) error {
	var err error
	for _, c := range cols {
		if !t.Has(c) {
			err = multierr.Append(err, fmt.Errorf("%s: missing required column %q", t.Name, c))
		}
	}
	return err
}

// ColumnsWithSuffix returns the columns ending in suffix, sorted.
func (t *Table) ColumnsWithSuffix(suffix string) []string {
	var out []string
	for _, h := range t.Header {
		if strings.HasSuffix(h, suffix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// ColumnsWithPrefix returns the columns starting with prefix, sorted.
func (t *Table) ColumnsWithPrefix(prefix string) []string {
	var out []string
	for _, h := range t.Header {
		if strings.HasPrefix(h, prefix) {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

// Row returns an accessor for data row i. Conversion errors accumulate in
// errs so a whole table can be checked in one pass.
func (t *Table) Row(i int, errs *error) Row {
	return Row{t: t, i: i, errs: errs}
}

// Row reads typed fields of one data row.
type Row struct {
	t    *Table
	i    int
	errs *error
}

func (r Row) fail(col, format string, args ...any) {
	// data rows start on line 3 of the file
	prefix := fmt.Sprintf("%s line %d column %q: ", r.t.Name, r.i+3, col)
	multierr.AppendInto(r.errs, fmt.Errorf(prefix+format, args...))
}

// Raw returns the trimmed cell, "" when the column or cell is absent.
func (r Row) Raw(col string) string {
	j, ok := r.t.index[col]
	row := r.t.Rows[r.i]
	if !ok || j >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[j])
}

// String returns a required text cell.
func (r Row) String(col string) string {
	s := r.Raw(col)
	if s == "" {
		r.fail(col, "value required")
	}
	return s
}

// Float returns a required numeric cell.
func (r Row) Float(col string) float64 {
	s := r.Raw(col)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, "invalid number %q", s)
		return 0
	}
	return v
}

// OptFloat returns a numeric cell, or def when empty.
func (r Row) OptFloat(col string, def float64) float64 {
	if r.Raw(col) == "" {
		return def
	}
	return r.Float(col)
}

// Int returns a required integer cell. Whole-valued floats such as "2020.0"
// are accepted.
func (r Row) Int(col string) int {
	s := r.Raw(col)
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		r.fail(col, "invalid integer %q", s)
		return 0
	}
	return int(f)
}

// OptInt returns an integer cell, or def when empty.
func (r Row) OptInt(col string, def int) int {
	if r.Raw(col) == "" {
		return def
	}
	return r.Int(col)
}

// Share returns a required number in [0, 1].
func (r Row) Share(col string) float64 {
	v := r.Float(col)
	if v < 0 || v > 1 {
		r.fail(col, "%v outside [0, 1]", v)
	}
	return v
}
