package cli

import (
	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/availability"
)

var (
	availabilityMock        bool
	availabilitySeed        int64
	availabilityOutput      string
	availabilityConcurrency int
)

var availabilityCmd = &cobra.Command{
	Use:   "availability <detailed.csv>",
	Short: "Refresh availability counts in a product table",
	Long: `Re-checks stock for every product in the table and rewrites it with
fresh availability and last_update columns. Rows whose check fails keep
their previous values.

With --mock the checks are random instead of live, useful for testing
downstream consumers of the table.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var checker availability.Checker
		if availabilityMock {
			checker = availability.NewMockChecker(availabilitySeed)
		} else {
			checker = availability.NewPageChecker(newClient(nil))
		}

		r := availability.NewRunner(checker, log)
		return r.Run(cmd.Context(), args[0], availability.Options{
			Concurrency: workerCount(availabilityConcurrency),
			OutputPath:  availabilityOutput,
		})
	},
}

// workerCount resolves a per-command concurrency flag against the config.
func workerCount(flag int) int {
	if flag > 0 {
		return flag
	}
	return cfg.Concurrency
}

func init() {
	f := availabilityCmd.Flags()
	f.BoolVar(&availabilityMock, "mock", false, "use random counts instead of live checks")
	f.Int64Var(&availabilitySeed, "seed", 0, "seed for --mock, 0 seeds from the clock")
	f.StringVar(&availabilityOutput, "output", "", "also write a url/availability table to this path")
	f.IntVar(&availabilityConcurrency, "concurrency", 0, "worker count, 0 uses the configured value")
}
