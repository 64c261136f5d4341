package migrate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adubovik/freshscrape/internal/pipeline"
)

// Store is the sqlite product database the web interface reads from.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the product database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		product_id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		shop TEXT NOT NULL,
		category TEXT NOT NULL,
		name TEXT,
		price TEXT,
		weight TEXT,
		availability TEXT,
		extras TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_products_url ON products(url);
	CREATE INDEX IF NOT EXISTS idx_products_shop_category ON products(shop, category);
	`

	_, err := s.db.Exec(schema)
	return err
}

// promoted columns get their own fields; everything else lands in extras.
var promotedColumns = map[string]bool{
	"name":         true,
	"price":        true,
	"weight":       true,
	"availability": true,
}

// UpsertProducts writes records under a shop/category pair, replacing any
// previous row with the same url. The whole batch runs in one transaction.
func (s *Store) UpsertProducts(shop, category string, records []pipeline.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO products (url, shop, category, name, price, weight, availability, extras, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			shop = EXCLUDED.shop,
			category = EXCLUDED.category,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			weight = EXCLUDED.weight,
			availability = EXCLUDED.availability,
			extras = EXCLUDED.extras,
			updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		extras := make(map[string]string, len(rec.Fields))
		for k, v := range rec.Fields {
			if !promotedColumns[k] {
				extras[k] = v
			}
		}
		extrasJSON, err := json.Marshal(extras)
		if err != nil {
			return fmt.Errorf("failed to encode extras for %s: %w", rec.URL, err)
		}

		_, err = stmt.Exec(rec.URL, shop, category,
			rec.Field("name"), rec.Field("price"), rec.Field("weight"),
			rec.Field("availability"), string(extrasJSON), now)
		if err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", rec.URL, err)
		}
	}

	return tx.Commit()
}

// DeleteShop removes every product of a shop.
func (s *Store) DeleteShop(shop string) error {
	if _, err := s.db.Exec("DELETE FROM products WHERE shop = ?", shop); err != nil {
		return fmt.Errorf("failed to delete shop %s: %w", shop, err)
	}
	return nil
}

// Categories lists the categories present for a shop.
func (s *Store) Categories(shop string) ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT category FROM products WHERE shop = ? ORDER BY category", shop)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CountProducts returns the number of rows for a shop/category pair.
func (s *Store) CountProducts(shop, category string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM products WHERE shop = ? AND category = ?",
		shop, category,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// GetProduct loads one row by url, nil when absent. Extras are folded back
// into the record's field map.
func (s *Store) GetProduct(url string) (*pipeline.Record, error) {
	var (
		rec        pipeline.Record
		extrasJSON string
		name       string
		price      string
		weight     string
		avail      string
	)
	err := s.db.QueryRow(`
		SELECT url, name, price, weight, availability, extras
		FROM products WHERE url = ?
	`, url).Scan(&rec.URL, &name, &price, &weight, &avail, &extrasJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	rec.Fields = make(map[string]string)
	if err := json.Unmarshal([]byte(extrasJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode extras for %s: %w", url, err)
	}
	rec.Set("name", name)
	rec.Set("price", price)
	rec.Set("weight", weight)
	rec.Set("availability", avail)
	return &rec, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
