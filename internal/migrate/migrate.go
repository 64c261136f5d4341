// Package migrate moves scraper output into the sqlite database that powers
// the web interface. Each shop has a mapping file translating category slugs
// into display names; the database is backed up before any change.
package migrate

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/table"
)

// Mode selects how a migration treats existing data.
type Mode string

const (
	// ModeReplace wipes a shop's rows and rebuilds them from scraper output.
	ModeReplace Mode = "replace"
	// ModeUpdate refreshes only the categories already present.
	ModeUpdate Mode = "update"
)

// ShopConfig names one shop's scraper output and its category mapping file.
type ShopConfig struct {
	// Code is the machine name, e.g. "vkusvill".
	Code string
	// Display is the human name stored with each row, e.g. "Вкусвилл".
	Display string
	// DataDir is the scraper's data directory with per-category subdirs.
	DataDir string
	// CfgPath is the <shop>_cfg.csv mapping file.
	CfgPath string
}

// LoadMapping reads a slug -> display-name mapping file. The header must be
// exactly "category_name,migrated_csv_name"; incomplete rows are skipped.
func LoadMapping(cfgPath string) (map[string]string, error) {
	f, err := os.Open(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping %s: %w", cfgPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping header: %w", err)
	}
	if len(header) != 2 || header[0] != "category_name" || header[1] != "migrated_csv_name" {
		return nil, fmt.Errorf("unexpected header in %s: %v, expected [category_name migrated_csv_name]", cfgPath, header)
	}

	mapping := make(map[string]string)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read mapping row: %w", err)
		}
		slug := strings.TrimSpace(row[0])
		display := strings.TrimSpace(row[1])
		if slug == "" || display == "" {
			continue
		}
		mapping[slug] = display
	}
	return mapping, nil
}

// Migrator copies detailed tables into the product database.
type Migrator struct {
	dbPath    string
	backupDir string
	log       *logrus.Entry
}

// NewMigrator creates a migrator for the database at dbPath. Backups land in
// backupDir before any change.
func NewMigrator(dbPath, backupDir string, log *logrus.Entry) *Migrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Migrator{dbPath: dbPath, backupDir: backupDir, log: log}
}

// Run migrates every configured shop in the given mode.
func (m *Migrator) Run(mode Mode, shops []ShopConfig) error {
	if mode != ModeReplace && mode != ModeUpdate {
		return fmt.Errorf("unknown migration mode %q", mode)
	}

	if err := m.backup(); err != nil {
		return err
	}

	store, err := NewStore(m.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, shop := range shops {
		if err := m.migrateShop(store, mode, shop); err != nil {
			return fmt.Errorf("migration of shop %s failed: %w", shop.Code, err)
		}
	}
	return nil
}

// backup copies the database file to backups/backup_<timestamp> before any
// write. A missing database is fine on first run.
func (m *Migrator) backup() error {
	src, err := os.Open(m.dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			m.log.Warnf("database %s does not exist, nothing to backup", m.dbPath)
			return nil
		}
		return fmt.Errorf("failed to open database for backup: %w", err)
	}
	defer src.Close()

	timestamp := time.Now().Format("20060102_150405")
	backupPath := filepath.Join(m.backupDir, fmt.Sprintf("backup_%s_%s", timestamp, filepath.Base(m.dbPath)))
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy database to backup: %w", err)
	}
	m.log.Infof("Backed up database to %s", backupPath)
	return nil
}

func (m *Migrator) migrateShop(store *Store, mode Mode, shop ShopConfig) error {
	mapping, err := LoadMapping(shop.CfgPath)
	if err != nil {
		return err
	}

	var existing map[string]bool
	switch mode {
	case ModeReplace:
		if err := store.DeleteShop(shop.Display); err != nil {
			return err
		}
	case ModeUpdate:
		categories, err := store.Categories(shop.Display)
		if err != nil {
			return err
		}
		existing = make(map[string]bool, len(categories))
		for _, c := range categories {
			existing[c] = true
		}
	}

	for slug, display := range mapping {
		if mode == ModeUpdate && !existing[display] {
			continue
		}

		srcPath := filepath.Join(shop.DataDir, slug, slug+"_detailed.csv")
		records, err := table.Load(srcPath)
		if err != nil {
			return err
		}
		if records == nil {
			m.log.Warnf("Source table missing: %s", srcPath)
			continue
		}

		if err := store.UpsertProducts(shop.Display, display, records); err != nil {
			return err
		}
		m.log.Infof("Migrated %d records: %s/%s -> %s/%s",
			len(records), shop.Code, slug, shop.Display, display)
	}
	return nil
}
