package inputs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemplate_ReadsHeaderAndRows(t *testing.T) {
	data := "input_template_name:,reg_classes,input_template_version:,0.2\n" +
		"reg_class_id, description\n" +
		"car,passenger car\n" +
		",\n" +
		"truck,light truck\n"

	tbl, err := ParseTemplate(strings.NewReader(data), "reg_classes.csv", "reg_classes", "0.1")

	require.NoError(t, err)
	assert.Equal(t, "0.2", tbl.Version)
	assert.Equal(t, []string{"reg_class_id", "description"}, tbl.Header)
	require.Len(t, tbl.Rows, 2, "blank rows are skipped")
	var errs error
	assert.Equal(t, "truck", tbl.Row(1, &errs).String("reg_class_id"))
	assert.NoError(t, errs)
}

func TestParseTemplate_RejectsBadMetadata(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"no metadata", "reg_class_id\ncar\n", "first row"},
		{"wrong name", "input_template_name:,vehicles,input_template_version:,0.1\nx\n", "expected \"reg_classes\""},
		{"old version", "input_template_name:,reg_classes,input_template_version:,0.05\nx\n", "need 0.1"},
		{"duplicate column", "input_template_name:,reg_classes,input_template_version:,0.1\nx,x\n", "duplicate column"},
		{"header only", "input_template_name:,reg_classes,input_template_version:,0.1\n", "required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTemplate(strings.NewReader(tc.data), "f.csv", "reg_classes", "0.1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRow_ConversionErrorsAccumulate(t *testing.T) {
	// GIVEN a row with two bad cells
	data := "input_template_name:,t,input_template_version:,0.1\n" +
		"year,share,name,opt\n" +
		"20x1,1.5,,\n"
	tbl, err := ParseTemplate(strings.NewReader(data), "t.csv", "t", "0.1")
	require.NoError(t, err)

	// WHEN every column is read
	var errs error
	r := tbl.Row(0, &errs)
	r.Int("year")
	r.Share("share")
	r.String("name")
	assert.Equal(t, 7.0, r.OptFloat("opt", 7))

	// THEN each problem is reported with its line
	require.Error(t, errs)
	msg := errs.Error()
	assert.Contains(t, msg, `t line 3 column "year"`)
	assert.Contains(t, msg, "outside [0, 1]")
	assert.Contains(t, msg, `column "name": value required`)
}

func TestRow_IntAcceptsWholeFloats(t *testing.T) {
	data := "input_template_name:,t,input_template_version:,0.1\nyear\n2020.0\n"
	tbl, err := ParseTemplate(strings.NewReader(data), "t.csv", "t", "0.1")
	require.NoError(t, err)
	var errs error
	assert.Equal(t, 2020, tbl.Row(0, &errs).Int("year"))
	assert.NoError(t, errs)
}

func TestTable_ColumnSelection(t *testing.T) {
	data := "input_template_name:,t,input_template_version:,0.1\n" +
		"start_year,BEV:minimum_share,ICE:minimum_share,BEV:maximum_share\n1,0,0,1\n"
	tbl, err := ParseTemplate(strings.NewReader(data), "t.csv", "t", "0.1")
	require.NoError(t, err)

	assert.Equal(t, []string{"BEV:minimum_share", "ICE:minimum_share"}, tbl.ColumnsWithSuffix(":minimum_share"))
	assert.Equal(t, []string{"BEV:maximum_share", "BEV:minimum_share"}, tbl.ColumnsWithPrefix("BEV:"))
	assert.Equal(t, []string{"BEV", "ICE"}, classPrefixes(tbl, ":minimum_share", ":maximum_share"))

	err = tbl.Require("start_year", "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"a"`)
	assert.Contains(t, err.Error(), `"b"`)
}
