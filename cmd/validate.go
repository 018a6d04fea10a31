package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vehicle-sim/vehicle-sim/sim/inputs"
)

// validateCmd checks a session file and its inputs without simulating
var validateCmd = &cobra.Command{
	Use:   "validate <session.yaml>",
	Short: "Check session options and input templates",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		opts, err := loadOptions(args[0], cmd.Flags())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		tables, err := inputs.Load(opts.InputDir, opts)
		if err != nil {
			printValidation(err)
			os.Exit(1)
		}
		fmt.Printf("%s: %d manufacturers, %d vehicles, %d market classes, years %d-%d OK\n",
			opts.SessionName, len(tables.Manufacturers), len(tables.Vehicles), len(tables.MarketClasses),
			opts.AnalysisInitialYear, opts.AnalysisFinalYear)
	},
}

func init() {
	addOverrideFlags(validateCmd.Flags())
}
