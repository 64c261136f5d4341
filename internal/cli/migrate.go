package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adubovik/freshscrape/internal/migrate"
)

var (
	migrateReplace   bool
	migrateUpdate    bool
	migrateDB        string
	migrateBackupDir string
	migrateCfgDir    string
)

// knownShops lists the shops a migration covers. Shops whose mapping file is
// absent under the cfg directory are skipped with a warning.
var knownShops = []migrate.ShopConfig{
	{Code: "vkusvill", Display: "Вкусвилл"},
	{Code: "ozon", Display: "Озон"},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Load scraper output into the product database",
	Long: `Copies detailed CSV tables into the sqlite product database, backing
the database up first. --replace rebuilds each shop from scratch;
--update refreshes only the categories already present.

Each shop needs a <shop>_cfg.csv mapping file under the cfg directory
translating category slugs into display names.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := migrate.ModeUpdate
		if migrateReplace {
			mode = migrate.ModeReplace
		}

		var shops []migrate.ShopConfig
		for _, shop := range knownShops {
			shop.DataDir = cfg.DataDir
			shop.CfgPath = filepath.Join(migrateCfgDir, shop.Code+"_cfg.csv")
			if _, err := os.Stat(shop.CfgPath); err != nil {
				log.Warnf("Skipping shop %s: no mapping file at %s", shop.Code, shop.CfgPath)
				continue
			}
			shops = append(shops, shop)
		}
		if len(shops) == 0 {
			log.Warn("No shops to migrate")
			return nil
		}

		m := migrate.NewMigrator(migrateDB, migrateBackupDir, log)
		return m.Run(mode, shops)
	},
}

func init() {
	f := migrateCmd.Flags()
	f.BoolVar(&migrateReplace, "replace", false, "wipe each shop's rows and rebuild from scraper output")
	f.BoolVar(&migrateUpdate, "update", false, "refresh only categories already in the database")
	f.StringVar(&migrateDB, "db", "./products.db", "path to the sqlite product database")
	f.StringVar(&migrateBackupDir, "backup-dir", "./backups", "directory for pre-migration database backups")
	f.StringVar(&migrateCfgDir, "cfg-dir", ".", "directory with <shop>_cfg.csv mapping files")

	migrateCmd.MarkFlagsMutuallyExclusive("replace", "update")
	migrateCmd.MarkFlagsOneRequired("replace", "update")
}
