package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// envPrefix prefixes environment overrides, e.g. VEHICLE_SIM_OUTPUT_DIR.
const envPrefix = "VEHICLE_SIM"

// overrideKeys are the session options a flag or environment variable may
// replace, keyed by option name with their flag name.
var overrideKeys = map[string]string{
	"analysis_initial_year": "analysis-initial-year",
	"analysis_final_year":   "analysis-final-year",
	"output_dir":            "output-dir",
	"output_sqlite":         "output-sqlite",
}

// addOverrideFlags registers the override flags on fs.
func addOverrideFlags(fs *pflag.FlagSet) {
	fs.Int("analysis-initial-year", 0, "First simulated model year (overrides the session file)")
	fs.Int("analysis-final-year", 0, "Last simulated model year (overrides the session file)")
	fs.String("output-dir", "", "Output directory (overrides the session file)")
	fs.String("output-sqlite", "", "SQLite result file (overrides the session file)")
}

// loadOptions reads a session file and layers flag and environment
// overrides on top. Relative input and output paths resolve against the
// session file's directory.
func loadOptions(path string, fs *pflag.FlagSet) (sim.SessionOptions, error) {
	opts, err := sim.LoadSessionOptions(path)
	if err != nil {
		return sim.SessionOptions{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for key, flag := range overrideKeys {
		if fs == nil {
			continue
		}
		if f := fs.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return sim.SessionOptions{}, fmt.Errorf("binding flag %s: %w", flag, err)
			}
		}
	}
	if v.IsSet("analysis_initial_year") {
		opts.AnalysisInitialYear = v.GetInt("analysis_initial_year")
	}
	if v.IsSet("analysis_final_year") {
		opts.AnalysisFinalYear = v.GetInt("analysis_final_year")
	}
	if v.IsSet("output_dir") {
		opts.OutputDir = v.GetString("output_dir")
	}
	if v.IsSet("output_sqlite") {
		opts.OutputSQLite = v.GetString("output_sqlite")
	}

	base := filepath.Dir(path)
	opts.InputDir = resolve(base, opts.InputDir)
	opts.OutputDir = resolve(base, opts.OutputDir)
	if opts.OutputSQLite != "" {
		opts.OutputSQLite = resolve(base, opts.OutputSQLite)
	}
	if err := opts.Validate(); err != nil {
		return sim.SessionOptions{}, err
	}
	return opts, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
