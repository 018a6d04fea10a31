package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/session"
	"github.com/vehicle-sim/vehicle-sim/sim/trace"
)

func writeSession(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOptions_ResolvesPathsAgainstSessionFile(t *testing.T) {
	path := writeSession(t, "session_name: s1\ninput_dir: inputs\noutput_dir: /tmp/abs\n")

	opts, err := loadOptions(path, nil)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "inputs"), opts.InputDir)
	assert.Equal(t, "/tmp/abs", opts.OutputDir)
	assert.Empty(t, opts.OutputSQLite)
}

func TestLoadOptions_FlagAndEnvOverrides(t *testing.T) {
	// GIVEN a session file for 2021-2025
	path := writeSession(t, "analysis_initial_year: 2021\nanalysis_final_year: 2025\n")
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addOverrideFlags(fs)

	// WHEN the final year comes from the environment and the output dir from a flag
	t.Setenv("VEHICLE_SIM_ANALYSIS_FINAL_YEAR", "2030")
	require.NoError(t, fs.Parse([]string{"--output-dir", "results"}))
	opts, err := loadOptions(path, fs)

	// THEN both override the file while unset keys keep the file values
	require.NoError(t, err)
	assert.Equal(t, 2021, opts.AnalysisInitialYear)
	assert.Equal(t, 2030, opts.AnalysisFinalYear)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "results"), opts.OutputDir)
}

func TestLoadOptions_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "analysis_final_yaer: 2030\n"},
		{"bad range", "analysis_initial_year: 2030\nanalysis_final_year: 2021\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadOptions(writeSession(t, tc.body), nil)
			require.Error(t, err)
		})
	}
}

func TestRunBatch_RunsEverySessionWithinLimit(t *testing.T) {
	// GIVEN three sessions, one of which fails, and a limit of two
	var inFlight, peak atomic.Int32
	run := func(ctx context.Context, path string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		if path == "b.yaml" {
			return "boom", errors.New("exit status 1")
		}
		return "", nil
	}

	// WHEN the batch runs
	statuses := runBatch(context.Background(), []string{"a.yaml", "b.yaml", "c.yaml"}, 2, run)

	// THEN every session reports in input order and the failure does not stop the rest
	require.Len(t, statuses, 3)
	assert.Equal(t, "a.yaml", statuses[0].Path)
	assert.NoError(t, statuses[0].Err)
	assert.Error(t, statuses[1].Err)
	assert.Equal(t, "boom", statuses[1].Stderr)
	assert.NoError(t, statuses[2].Err)
	assert.LessOrEqual(t, peak.Load(), int32(2))

	out := renderBatch(statuses)
	assert.Contains(t, out, "c.yaml")
	assert.Contains(t, out, "failed: exit status 1")
}

func TestRenderSummary_ListsYears(t *testing.T) {
	res := &session.Result{
		RunID:   "run-1",
		Options: sim.SessionOptions{SessionName: "demo"},
		Years: []session.YearResult{
			{Year: 2021, TotalSales: 1000, OuterIterations: 2},
			{Year: 2022, TotalSales: 1100, OuterIterations: 5, NonConvergence: true},
		},
	}

	out := renderSummary(res)

	assert.Contains(t, out, "demo (run run-1)")
	assert.Contains(t, out, "2021")
	assert.Contains(t, out, "1100")
	assert.Contains(t, out, "no")
	assert.NotContains(t, out, "trace:")
}

func TestRenderSummary_TraceFooter(t *testing.T) {
	// GIVEN a result whose trace holds two outer iterations, one converged
	st := trace.NewSimulationTrace(trace.TraceConfig{ConsumerYears: trace.AllYears})
	st.RecordConsumer(trace.ConsumerIterationRecord{ManufacturerID: "OEM_A", CalendarYear: 2021, ShareDelta: 0.25})
	st.RecordOuter(trace.OuterIterationRecord{ManufacturerID: "OEM_A", CalendarYear: 2021, OuterIteration: 0})
	st.RecordOuter(trace.OuterIterationRecord{ManufacturerID: "OEM_A", CalendarYear: 2021, OuterIteration: 1, Converged: true})
	res := &session.Result{
		RunID:   "run-2",
		Options: sim.SessionOptions{SessionName: "demo"},
		Years:   []session.YearResult{{Year: 2021, TotalSales: 1000, OuterIterations: 2}},
		Trace:   st,
	}

	// WHEN rendered
	out := renderSummary(res)

	// THEN the trace statistics follow the table
	assert.Contains(t, out, "0 producer / 1 consumer records")
	assert.Contains(t, out, "1/2 outer iterations converged")
	assert.Contains(t, out, "max share delta 0.2500")
}
