package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/session"
)

var cookiesOutput string

var cookiesCmd = &cobra.Command{
	Use:   "cookies <bundle.json>",
	Short: "Inspect a captured session cookie bundle",
	Long: `Parses a cookie bundle (a bare cookie list or a storage_state file)
and reports what it contains. With --output the bundle is rewritten in
the storage_state format the scrapers read, which normalizes whichever
shape the capture tool produced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		bundle, err := session.Parse(data, args[0])
		if err != nil {
			return err
		}

		if bundle.Empty() {
			log.Warnf("%s contains no cookies", args[0])
		} else {
			log.Infof("%s: %d cookies, %d localStorage entries",
				args[0], len(bundle.Cookies), len(bundle.LocalStorage))
			for _, c := range bundle.Cookies {
				log.Debugf("cookie %s (domain %s)", c.Name, c.Domain)
			}
		}

		if cookiesOutput != "" {
			if err := session.Save(cookiesOutput, bundle); err != nil {
				return err
			}
			log.Infof("Wrote normalized bundle to %s", cookiesOutput)
		}
		return nil
	},
}

func init() {
	cookiesCmd.Flags().StringVar(&cookiesOutput, "output", "", "rewrite the bundle in storage_state format to this path")
}
