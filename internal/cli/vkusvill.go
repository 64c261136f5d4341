package cli

import (
	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/vkusvill"
)

var (
	vkusvillCategoryURL  string
	vkusvillSingleURL    string
	vkusvillGenerateURLs bool
	vkusvillUpdateURLs   bool
	vkusvillForceRefetch bool
	vkusvillForceReparse bool
	vkusvillConcurrency  int
)

var vkusvillCmd = &cobra.Command{
	Use:   "vkusvill",
	Short: "Scrape product data from vkusvill.ru",
	Long: `Scrapes a vkusvill.ru category into data/<category>/: the product URL
list, the per-page HTML cache and the detailed CSV table. Reruns skip
cached pages and parsed rows unless forced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scraper := vkusvill.NewScraper(cfg, newClient(nil), sess, log)
		return scraper.Run(cmd.Context(), vkusvill.Options{
			CategoryURL:  vkusvillCategoryURL,
			SingleURL:    vkusvillSingleURL,
			GenerateURLs: vkusvillGenerateURLs,
			UpdateURLs:   vkusvillUpdateURLs,
			ForceRefetch: vkusvillForceRefetch,
			ForceReparse: vkusvillForceReparse,
			Concurrency:  vkusvillConcurrency,
		})
	},
}

func init() {
	f := vkusvillCmd.Flags()
	f.StringVar(&vkusvillCategoryURL, "category-url", "", "category listing URL to scrape")
	f.StringVar(&vkusvillSingleURL, "url", "", "scrape a single product page and log its fields")
	f.BoolVar(&vkusvillGenerateURLs, "generate-urls", false, "rebuild the URL list from the category listing")
	f.BoolVar(&vkusvillUpdateURLs, "update-urls", false, "merge freshly discovered URLs into the stored list")
	f.BoolVar(&vkusvillForceRefetch, "force-refetch", false, "refetch pages even when a cached copy exists")
	f.BoolVar(&vkusvillForceReparse, "force-reparse", false, "reparse pages already present in the detailed table")
	f.IntVar(&vkusvillConcurrency, "concurrency", 0, "worker count, 0 uses the configured value")

	vkusvillCmd.MarkFlagsMutuallyExclusive("generate-urls", "update-urls")
	vkusvillCmd.MarkFlagsMutuallyExclusive("category-url", "url")
}
