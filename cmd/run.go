package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vehicle-sim/vehicle-sim/sim"
	"github.com/vehicle-sim/vehicle-sim/sim/inputs"
	"github.com/vehicle-sim/vehicle-sim/sim/report"
	"github.com/vehicle-sim/vehicle-sim/sim/session"
)

var noProgress bool // Suppress the per-year progress bar

// runCmd simulates one session and writes its outputs
var runCmd = &cobra.Command{
	Use:   "run <session.yaml>",
	Short: "Run one simulation session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := loadOptions(args[0], cmd.Flags())
		if err != nil {
			logrus.Fatalf("Invalid session options: %v", err)
		}
		tables, err := inputs.Load(opts.InputDir, opts)
		if err != nil {
			printValidation(err)
			os.Exit(1)
		}

		startTime := time.Now()
		res, runErr := runSession(cmd.Context(), opts, tables, !noProgress)
		if res != nil {
			if err := writeOutputs(cmd.Context(), opts, res); err != nil {
				logrus.Fatalf("Writing outputs: %v", err)
			}
		}
		if runErr != nil {
			logrus.Fatalf("Session %s failed after %d years: %v", opts.SessionName, yearsDone(res), runErr)
		}

		fmt.Println(renderSummary(res))
		if years := res.NonConvergenceYears(); len(years) > 0 {
			fmt.Printf("Non-convergence in years %v\n", years)
		}
		logrus.WithFields(logrus.Fields{
			"run_id":  res.RunID,
			"elapsed": time.Since(startTime).Round(time.Millisecond),
			"outputs": opts.OutputDir,
		}).Info("Simulation complete.")
	},
}

// runSession runs the session, showing a per-year progress bar when asked.
func runSession(ctx context.Context, opts sim.SessionOptions, tables *inputs.Tables, progress bool) (*session.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var options []session.RunOption
	if progress {
		years := opts.AnalysisFinalYear - opts.AnalysisInitialYear + 1
		bar := progressbar.NewOptions(years,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", opts.SessionName)),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
		)
		options = append(options, session.WithYearCallback(func(year int) {
			bar.Describe(fmt.Sprintf("[cyan]%s[reset] %d", opts.SessionName, year))
			if err := bar.Add(1); err != nil {
				logrus.WithError(err).Debug("progress bar update failed")
			}
		}))
	}
	return session.Run(ctx, opts, tables, options...)
}

// writeOutputs writes the CSV outputs and, when configured, the SQLite copy.
func writeOutputs(ctx context.Context, opts sim.SessionOptions, res *session.Result) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tables := report.Build(res)
	if err := report.WriteCSV(opts.OutputDir, tables); err != nil {
		return err
	}
	if err := report.WriteOptions(opts.OutputDir, opts); err != nil {
		return err
	}
	if opts.OutputSQLite != "" {
		if err := report.WriteSQLite(ctx, opts.OutputSQLite, res, tables); err != nil {
			return err
		}
	}
	return nil
}

// printValidation writes every input problem to stderr.
func printValidation(err error) {
	var verr *inputs.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(os.Stderr, "%d input problem(s):\n", len(verr.Errors()))
		for _, e := range verr.Errors() {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return
	}
	fmt.Fprintln(os.Stderr, err)
}

func yearsDone(res *session.Result) int {
	if res == nil {
		return 0
	}
	return len(res.Years)
}

func init() {
	addOverrideFlags(runCmd.Flags())
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not show the per-year progress bar")
}
