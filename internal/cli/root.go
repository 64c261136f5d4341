// Package cli provides the command-line interface for freshscrape.
package cli

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/config"
	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/session"
	"github.com/adubovik/freshscrape/internal/version"
)

var (
	// Global flags
	configPath string
	cookiePath string
	noLogging  bool
	logLevel   string

	// Loaded in PersistentPreRunE, shared by all commands
	cfg  config.Config
	sess *session.Bundle
	log  *logrus.Entry
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "freshscrape",
	Short: "Grocery store scraper toolkit",
	Long: `Freshscrape collects product data from online grocery stores into CSV
tables: per-category URL lists, detailed product records with nutrition
columns, availability refreshes and enrichment passes.

Scrape runs are incremental: pages already cached and rows already parsed
are skipped unless forced, so an interrupted run resumes where it left off.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = *loaded

		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if noLogging {
			logrus.SetOutput(io.Discard)
		} else {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
		}
		log = logrus.WithField("version", version.Version)

		path := cookiePath
		if path == "" {
			path = cfg.CookieFile
		}
		sess, err = session.Load(path)
		if err != nil {
			return err
		}
		if !sess.Empty() {
			log.Infof("Loaded session with %d cookies from %s", len(sess.Cookies), path)
		}
		return nil
	},
}

// newClient builds the page fetcher from the loaded config and session,
// with optional extra headers for API endpoints.
func newClient(headers map[string]string) *fetcher.Client {
	opts := []fetcher.Option{
		fetcher.WithRetryPolicy(retryPolicy()),
		fetcher.WithUserAgent(cfg.UserAgent),
		fetcher.WithTimeout(time.Duration(cfg.RequestTimeoutMs) * time.Millisecond),
		fetcher.WithSession(sess),
	}
	if headers != nil {
		opts = append(opts, fetcher.WithHeaders(headers))
	}
	return fetcher.NewClient(log, opts...)
}

func retryPolicy() fetcher.RetryPolicy {
	return fetcher.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		Multiplier:  cfg.RetryMultiplier,
	}
}

// Execute runs the root command. The context is cancelled on shutdown
// signals so in-flight runs can stop cooperatively.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "freshscrape.json", "path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&cookiePath, "cookies", "", "path to a session cookie bundle (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noLogging, "no-logging", false, "disable log output (progress lines still print)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(vkusvillCmd)
	rootCmd.AddCommand(ozonCmd)
	rootCmd.AddCommand(availabilityCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cookiesCmd)
}
