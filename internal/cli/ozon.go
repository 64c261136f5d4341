package cli

import (
	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/ozon"
)

var (
	ozonCategoryURL  string
	ozonSingleURL    string
	ozonGenerateURLs bool
	ozonUpdateURLs   bool
	ozonConcurrency  int
)

var ozonCmd = &cobra.Command{
	Use:   "ozon",
	Short: "Scrape product data from ozon.ru",
	Long: `Scrapes an ozon.ru category through the composer JSON API into
data/<category>/. Product pages are not cached as HTML: the API responses
are extracted directly into the detailed CSV table.

A valid session cookie bundle is usually required; capture one in a
browser and pass it with --cookies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		api := ozon.NewAPI(newClient(ozon.DefaultHeaders()), log)
		scraper := ozon.NewScraper(cfg, api, log)
		return scraper.Run(cmd.Context(), ozon.Options{
			CategoryURL:  ozonCategoryURL,
			SingleURL:    ozonSingleURL,
			GenerateURLs: ozonGenerateURLs,
			UpdateURLs:   ozonUpdateURLs,
			Concurrency:  ozonConcurrency,
		})
	},
}

func init() {
	f := ozonCmd.Flags()
	f.StringVar(&ozonCategoryURL, "category-url", "", "category catalog URL to scrape")
	f.StringVar(&ozonSingleURL, "url", "", "scrape a single product page and log its fields")
	f.BoolVar(&ozonGenerateURLs, "generate-urls", false, "rebuild the URL list from the category listing")
	f.BoolVar(&ozonUpdateURLs, "update-urls", false, "merge freshly discovered URLs into the stored list")
	f.IntVar(&ozonConcurrency, "concurrency", 0, "worker count, 0 uses the configured value")

	ozonCmd.MarkFlagsMutuallyExclusive("generate-urls", "update-urls")
	ozonCmd.MarkFlagsMutuallyExclusive("category-url", "url")
}
