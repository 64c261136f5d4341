package vkusvill

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/config"
	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/table"
)

func TestHTMLPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://vkusvill.ru/goods/tvorog-5.html", "tvorog-5.html.html"},
		{"https://vkusvill.ru/goods/syr/?utm=x#frag", "syr.html"},
		{"https://vkusvill.ru/goods/плохие*символы", "плохие_символы.html"},
		{"https://vkusvill.ru/", "vkusvill.ru.html"},
	}
	for _, tt := range tests {
		got := htmlPath("/cache", tt.url)
		if got != filepath.Join("/cache", tt.want) {
			t.Errorf("htmlPath(%q) = %q, want %q", tt.url, got, filepath.Join("/cache", tt.want))
		}
	}
}

func TestSortByProteinDensity(t *testing.T) {
	records := []pipeline.Record{
		{URL: "a", Fields: map[string]string{"pro/cal": "0.05"}},
		{URL: "b", Fields: map[string]string{"fetchErr": "timeout"}},
		{URL: "c", Fields: map[string]string{"pro/cal": "0.13"}},
		{URL: "d", Fields: map[string]string{"pro/cal": "0.08"}},
	}
	sortByProteinDensity(records)

	wantOrder := []string{"c", "d", "a", "b"}
	for i, want := range wantOrder {
		if records[i].URL != want {
			t.Fatalf("position %d: got %s, want %s (full order %v)", i, records[i].URL, want, records)
		}
	}
}

func TestScraperRunIncremental(t *testing.T) {
	var hits int64
	mux := http.NewServeMux()
	mux.HandleFunc("/goods/good-item.html", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		fmt.Fprint(w, `<html><body>
<h1 class="Product__title">Good Item</h1>
<div class="ProductCard__weight">200 г</div>
<meta itemprop="price" content="100">
<div id="product-quantity-block" data-quantity="5">В наличии 5 шт</div>
</body></html>`)
	})
	mux.HandleFunc("/goods/bad-item.html", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := config.Config{
		DataDir:           dataDir,
		Concurrency:       2,
		RequestTimeoutMs:  5000,
		RetryAttempts:     1,
		RetryDelayMs:      1,
		RetryMultiplier:   1,
		CategoryPageLimit: 1,
	}

	goodURL := srv.URL + "/goods/good-item.html"
	badURL := srv.URL + "/goods/bad-item.html"

	// Pre-seed the URL store so the run skips live discovery.
	urlsPath := filepath.Join(dataDir, "test-cat", "test-cat_product_urls.csv")
	err := table.SaveWorkItems(urlsPath, []pipeline.WorkItem{
		{URL: goodURL},
		{URL: badURL},
	})
	if err != nil {
		t.Fatal(err)
	}

	log := logrus.NewEntry(logrus.New())
	client := fetcher.NewClient(log,
		fetcher.WithRetryPolicy(fetcher.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1}))
	s := NewScraper(cfg, client, nil, log)

	opts := Options{CategoryURL: "https://vkusvill.ru/goods/test-cat/"}
	if err := s.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	detailed, err := table.Load(filepath.Join(dataDir, "test-cat", "test-cat_detailed.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(detailed) != 2 {
		t.Fatalf("detailed table has %d records, want 2", len(detailed))
	}

	byURL := make(map[string]pipeline.Record)
	for _, rec := range detailed {
		byURL[rec.URL] = rec
	}
	good := byURL[goodURL]
	if good.Field("name") != "Good Item" || good.Field("availability") != "5" {
		t.Errorf("good record = %+v", good.Fields)
	}
	if good.Field("fetchErr") != "" {
		t.Errorf("good record carries fetchErr %q", good.Field("fetchErr"))
	}
	bad := byURL[badURL]
	if bad.Field("fetchErr") == "" {
		t.Error("failed fetch produced no fetchErr field")
	}

	// A second run must fetch only the previously failed page: the good
	// page is cached and already parsed.
	before := atomic.LoadInt64(&hits)
	if err := s.Run(context.Background(), opts); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	delta := atomic.LoadInt64(&hits) - before
	if delta != 1 {
		t.Errorf("second run made %d requests, want 1 (only the failed page)", delta)
	}
}

func TestScraperRunRequiresCategory(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	s := NewScraper(config.Config{DataDir: t.TempDir(), Concurrency: 1}, fetcher.NewClient(log), nil, log)
	if err := s.Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run() accepted empty options")
	}
}
