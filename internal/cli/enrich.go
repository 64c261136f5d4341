package cli

import (
	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/enrich"
)

var (
	enrichForce       bool
	enrichSaveEvery   int
	enrichConcurrency int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <detailed.csv>",
	Short: "Add derived enrich_* columns to a product table",
	Long: `Runs the analyzer over every row of the table and folds the nested
result into flat enrich_-prefixed columns. Rows already enriched are
skipped unless --force; rows that failed to fetch are never analyzed.

The table is saved periodically (--save-every) so an interrupted run
keeps its progress.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := enrich.NewRunner(enrich.MockAnalyzer{}, log)
		return r.Run(cmd.Context(), args[0], enrich.Options{
			Concurrency: workerCount(enrichConcurrency),
			Force:       enrichForce,
			SaveEvery:   enrichSaveEvery,
			Retry:       retryPolicy(),
		})
	},
}

func init() {
	f := enrichCmd.Flags()
	f.BoolVar(&enrichForce, "force", false, "re-analyze rows that already carry enrichment columns")
	f.IntVar(&enrichSaveEvery, "save-every", 25, "persist the table after this many analyses, 0 saves only at the end")
	f.IntVar(&enrichConcurrency, "concurrency", 0, "worker count, 0 uses the configured value")
}
