package ozon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/config"
	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/table"
)

func TestCategoryID(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://www.ozon.ru/category/supermarket-gotovye-blyuda-9521000", "supermarket-gotovye-blyuda-9521000", false},
		{"https://www.ozon.ru/highlight/produktsiya-ozon-express-199745", "produktsiya-ozon-express-199745", false},
		{"https://www.ozon.ru/product/humus-1/", "", true},
		{"https://www.ozon.ru/", "", true},
	}
	for _, tt := range tests {
		got, err := CategoryID(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("CategoryID(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CategoryID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCategoryName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.ozon.ru/category/supermarket-gotovye-blyuda-9521000", "supermarket-gotovye-blyuda"},
		{"https://www.ozon.ru/category/frukty", "frukty"},
	}
	for _, tt := range tests {
		got, err := CategoryName(tt.url)
		if err != nil {
			t.Fatalf("CategoryName(%q) error = %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("CategoryName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

// composerServer emulates the entrypoint API: two listing pages chained via
// nextPage, and per-product main + second layout pages.
func composerServer(t *testing.T) *httptest.Server {
	t.Helper()

	listing := func(stateID string, links []string, nextPage string) map[string]interface{} {
		items := make([]map[string]interface{}, 0, len(links))
		for _, link := range links {
			items = append(items, map[string]interface{}{
				"action": map[string]string{"link": link},
			})
		}
		tile, _ := json.Marshal(map[string]interface{}{"items": items})
		doc := map[string]interface{}{
			"layout":       []map[string]string{{"component": "tileGridDesktop", "stateId": stateID}},
			"widgetStates": map[string]string{stateID: string(tile)},
		}
		if nextPage != "" {
			doc["nextPage"] = nextPage
		}
		return doc
	}

	product := func(name string) map[string]interface{} {
		heading, _ := json.Marshal(map[string]string{"title": name})
		return map[string]interface{}{
			"widgetStates": map[string]string{"webProductHeading-1-default-1": string(heading)},
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagePath := r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasPrefix(pagePath, "/category/gotovaya-eda-100/") && !strings.Contains(pagePath, "page=2"):
			json.NewEncoder(w).Encode(listing("tile-1",
				[]string{"/product/humus-1/?advert=x", "/product/salat-2/"},
				"/category/gotovaya-eda-100/?page=2"))
		case strings.Contains(pagePath, "page=2"):
			json.NewEncoder(w).Encode(listing("tile-2", []string{"/product/sup-3/"}, ""))
		case strings.Contains(pagePath, "layout_page_index=2"):
			json.NewEncoder(w).Encode(map[string]interface{}{"widgetStates": map[string]string{}})
		case strings.HasPrefix(pagePath, "/product/humus-1/"):
			json.NewEncoder(w).Encode(product("Хумус"))
		case strings.HasPrefix(pagePath, "/product/salat-2/"):
			json.NewEncoder(w).Encode(product("Салат"))
		case strings.HasPrefix(pagePath, "/product/sup-3/"):
			json.NewEncoder(w).Encode(product("Суп"))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestScraper(t *testing.T, srv *httptest.Server, dataDir string) *Scraper {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	client := fetcher.NewClient(log,
		fetcher.WithRetryPolicy(fetcher.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1}))
	api := NewAPI(client, log)
	api.SetEndpoints(srv.URL+"/composer", srv.URL)

	cfg := config.Config{
		DataDir:           dataDir,
		Concurrency:       2,
		CategoryPageLimit: 10,
	}
	return NewScraper(cfg, api, log)
}

func TestDiscoverCategoryChainsPages(t *testing.T) {
	srv := composerServer(t)
	defer srv.Close()

	s := newTestScraper(t, srv, t.TempDir())
	items, err := s.DiscoverCategory(context.Background(), "https://www.ozon.ru/category/gotovaya-eda-100")
	if err != nil {
		t.Fatalf("DiscoverCategory() error = %v", err)
	}

	want := []string{
		srv.URL + "/product/humus-1/",
		srv.URL + "/product/salat-2/",
		srv.URL + "/product/sup-3/",
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items %v, want %d", len(items), items, len(want))
	}
	for i, u := range want {
		if items[i].URL != u {
			t.Errorf("item %d = %s, want %s", i, items[i].URL, u)
		}
	}
}

func TestDiscoverCategoryHonorsPageLimit(t *testing.T) {
	srv := composerServer(t)
	defer srv.Close()

	s := newTestScraper(t, srv, t.TempDir())
	s.cfg.CategoryPageLimit = 1

	items, err := s.DiscoverCategory(context.Background(), "https://www.ozon.ru/category/gotovaya-eda-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2 (first page only)", len(items))
	}
}

func TestScraperRunCategory(t *testing.T) {
	srv := composerServer(t)
	defer srv.Close()

	dataDir := t.TempDir()
	s := newTestScraper(t, srv, dataDir)

	opts := Options{
		CategoryURL:  "https://www.ozon.ru/category/gotovaya-eda-100",
		GenerateURLs: true,
	}
	if err := s.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	urls, err := table.LoadWorkItems(filepath.Join(dataDir, "gotovaya-eda", "gotovaya-eda_product_urls.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 3 {
		t.Errorf("URL store has %d entries, want 3", len(urls))
	}

	detailed, err := table.Load(filepath.Join(dataDir, "gotovaya-eda", "gotovaya-eda_detailed.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(detailed) != 3 {
		t.Fatalf("detailed table has %d records, want 3", len(detailed))
	}

	names := make(map[string]bool)
	for _, rec := range detailed {
		if rec.Field("fetchErr") != "" {
			t.Errorf("record %s has fetchErr %q", rec.URL, rec.Field("fetchErr"))
		}
		names[rec.Field("name")] = true
	}
	for _, want := range []string{"Хумус", "Салат", "Суп"} {
		if !names[want] {
			t.Errorf("missing record named %q (got %v)", want, names)
		}
	}
}

func TestScraperRunRecordsFetchErr(t *testing.T) {
	srv := composerServer(t)
	defer srv.Close()

	dataDir := t.TempDir()
	s := newTestScraper(t, srv, dataDir)

	// Seed the store with one good and one unknown product.
	urlsPath := filepath.Join(dataDir, "gotovaya-eda", "gotovaya-eda_product_urls.csv")
	missing := srv.URL + "/product/net-takogo-9/"
	err := table.SaveWorkItems(urlsPath, []pipeline.WorkItem{
		{URL: srv.URL + "/product/humus-1/"},
		{URL: missing},
	})
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{CategoryURL: "https://www.ozon.ru/category/gotovaya-eda-100"}
	if err := s.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	detailed, err := table.Load(filepath.Join(dataDir, "gotovaya-eda", "gotovaya-eda_detailed.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(detailed) != 2 {
		t.Fatalf("detailed table has %d records, want 2", len(detailed))
	}
	for _, rec := range detailed {
		if rec.URL == missing && rec.Field("fetchErr") == "" {
			t.Error("missing product has no fetchErr")
		}
		if rec.URL != missing && rec.Field("fetchErr") != "" {
			t.Errorf("good product has fetchErr %q", rec.Field("fetchErr"))
		}
	}
}

func TestScraperRunRequiresCategory(t *testing.T) {
	srv := composerServer(t)
	defer srv.Close()
	s := newTestScraper(t, srv, t.TempDir())
	if err := s.Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run() accepted empty options")
	}
}
