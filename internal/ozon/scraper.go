package ozon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/config"
	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/metrics"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/table"
)

// Options selects what an Ozon run does. The composer API is always hit
// live: there is no page cache, so every run refreshes the records it
// processes.
type Options struct {
	CategoryURL  string
	SingleURL    string
	GenerateURLs bool
	UpdateURLs   bool
	Concurrency  int
}

// Scraper drives a category run against the composer API.
type Scraper struct {
	cfg   config.Config
	api   *API
	track *metrics.Tracker
	log   *logrus.Entry
}

// NewScraper wires an Ozon scraper.
func NewScraper(cfg config.Config, api *API, log *logrus.Entry) *Scraper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scraper{
		cfg:   cfg,
		api:   api,
		track: metrics.NewTracker(),
		log:   log,
	}
}

// CategoryID extracts the category slug from a catalog URL, e.g.
// ".../category/supermarket-gotovye-blyuda-9521000" -> the last segment.
// Highlight pages are accepted too.
func CategoryID(categoryURL string) (string, error) {
	parsed, err := url.Parse(categoryURL)
	if err != nil {
		return "", fmt.Errorf("invalid category URL %s: %w", categoryURL, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) >= 2 && (parts[0] == "category" || parts[0] == "highlight") {
		return parts[1], nil
	}
	return "", fmt.Errorf("cannot extract category id from URL: %s", categoryURL)
}

// CategoryName is the category id without its trailing numeric suffix,
// suitable for directory names.
func CategoryName(categoryURL string) (string, error) {
	id, err := CategoryID(categoryURL)
	if err != nil {
		return "", err
	}
	parts := strings.Split(id, "-")
	if len(parts) > 1 && isDigits(parts[len(parts)-1]) {
		return strings.Join(parts[:len(parts)-1], "-"), nil
	}
	return id, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DiscoverCategory walks the category listing page by page, chaining through
// nextPage tokens, and returns product URLs in discovery order. The page
// limit bounds runaway pagination.
func (s *Scraper) DiscoverCategory(ctx context.Context, categoryURL string) ([]pipeline.WorkItem, error) {
	categoryID, err := CategoryID(categoryURL)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/category/%s/?layout_container=categorySearchMegapagination", categoryID)
	referer := categoryURL

	pageLimit := s.cfg.CategoryPageLimit
	if pageLimit < 1 {
		pageLimit = 1
	}

	var items []pipeline.WorkItem
	for page := 1; page <= pageLimit; page++ {
		if ctx.Err() != nil {
			s.log.Warn("cancellation requested, stopping category walk")
			break
		}
		s.log.Infof("Fetching category page %d", page)

		body, err := s.api.FetchRaw(ctx, path, referer, page == 1)
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("failed to fetch first category page: %w", err)
			}
			s.log.Warnf("Category page %d failed, stopping walk: %v", page, err)
			break
		}

		data, err := parseComposerPage(body)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			s.log.Warnf("Category page %d unparseable, stopping walk: %v", page, err)
			break
		}

		pageURLs := productLinks(data, s.api.SiteRoot())
		s.log.Infof("Found %d products on page %d", len(pageURLs), page)
		for _, u := range pageURLs {
			items = append(items, pipeline.WorkItem{URL: u})
		}

		if data.NextPage == "" {
			break
		}
		path = data.NextPage
		referer = s.api.SiteRoot() + strings.SplitN(data.NextPage, "?", 2)[0]
	}

	return pipeline.DedupeWorkItems(items), nil
}

// productLinks pulls product URLs out of the tile grid widget named by the
// page layout.
func productLinks(page *composerPage, siteRoot string) []string {
	var stateID string
	for _, comp := range page.Layout {
		if comp.Component == "tileGridDesktop" {
			stateID = comp.StateID
			break
		}
	}
	if stateID == "" {
		return nil
	}

	raw, ok := page.widgetByStateID(stateID)
	if !ok {
		return nil
	}
	var grid struct {
		Items []struct {
			Action struct {
				Link string `json:"link"`
			} `json:"action"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(raw), &grid); err != nil {
		return nil
	}

	var urls []string
	for _, item := range grid.Items {
		link := item.Action.Link
		if !strings.HasPrefix(link, "/product/") {
			continue
		}
		urls = append(urls, siteRoot+strings.SplitN(link, "?", 2)[0])
	}
	return urls
}

// Run executes a scrape per the options. Per-product failures become
// fetchErr rows; the returned error covers unusable inputs and persistence
// failures only.
func (s *Scraper) Run(ctx context.Context, opts Options) error {
	if opts.SingleURL != "" {
		return s.runSingle(ctx, opts.SingleURL)
	}
	if opts.CategoryURL == "" {
		return errors.New("category URL is required")
	}

	catName, err := CategoryName(opts.CategoryURL)
	if err != nil {
		return err
	}
	log := s.log.WithField("category", catName)

	catDir := filepath.Join(s.cfg.DataDir, catName)
	urlsPath := filepath.Join(catDir, catName+"_product_urls.csv")
	detailedPath := filepath.Join(catDir, catName+"_detailed.csv")

	if err := os.MkdirAll(catDir, 0o755); err != nil {
		return fmt.Errorf("failed to create category directory: %w", err)
	}

	items, err := s.resolveURLs(ctx, opts, urlsPath, log)
	if err != nil {
		return err
	}
	s.track.AddURLsDiscovered(len(items))
	if len(items) == 0 {
		log.Warn("No product URLs to process")
		return nil
	}
	log.Infof("Processing %d products", len(items))

	existing, err := table.Load(detailedPath)
	if err != nil {
		return err
	}

	urls := make([]string, 0, len(items))
	for _, item := range items {
		urls = append(urls, item.URL)
	}

	var incoming []pipeline.Record
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = s.cfg.Concurrency
	}

	sched := pipeline.NewScheduler(concurrency, log)
	sched.Run(ctx, urls,
		func(ctx context.Context, productURL string) pipeline.FetchResult {
			start := time.Now()
			payload, err := s.fetchProduct(ctx, productURL)
			s.track.RecordFetchTime(time.Since(start))
			if err != nil {
				return pipeline.FetchResult{URL: productURL, Err: err}
			}
			body, err := json.Marshal(payload)
			return pipeline.FetchResult{URL: productURL, Payload: body, Err: err}
		},
		func(productURL string, res pipeline.FetchResult) {
			fmt.Println(productURL, fetcher.ResultCode(res.Err))
			if res.Err != nil {
				s.track.IncrementPagesFailed()
				s.track.IncrementRecordsFailed()
				log.Warnf("Fetch failed for %s: %v", productURL, res.Err)
				incoming = append(incoming, fetchErrRecord(productURL, res.Err))
				return
			}
			s.track.IncrementPagesFetched()

			var payload productPayload
			if err := json.Unmarshal(res.Payload, &payload); err != nil {
				s.track.IncrementRecordsFailed()
				incoming = append(incoming, fetchErrRecord(productURL, err))
				return
			}
			rec, err := extractProduct(payload, productURL, nil)
			if err != nil {
				s.track.IncrementRecordsFailed()
				incoming = append(incoming, fetchErrRecord(productURL, err))
				return
			}
			incoming = append(incoming, rec)
			s.track.IncrementRecordsParsed()
		})

	merged := pipeline.MergeRecords(existing, incoming)
	if err := table.Save(detailedPath, merged); err != nil {
		return err
	}
	log.Infof("Saved %d records to %s", len(merged), detailedPath)

	reason := "completed"
	if ctx.Err() != nil {
		reason = "cancelled"
	}
	if s.cfg.MetricsPath != "" {
		if err := s.track.WriteToFile(s.cfg.MetricsPath, reason); err != nil {
			log.Warnf("Failed to write metrics: %v", err)
		}
	}
	log.Info(s.track.LogProgress())
	return nil
}

// runSingle fetches and extracts one product, logging every field.
func (s *Scraper) runSingle(ctx context.Context, productURL string) error {
	payload, err := s.fetchProduct(ctx, productURL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", productURL, err)
	}
	rec, err := extractProduct(payload, productURL, nil)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.log.Infof("%s: %s", k, rec.Fields[k])
	}
	return nil
}

// fetchProduct fetches both composer pages for a product. The second page is
// best-effort: description and weight are nice to have, the main page is
// mandatory.
func (s *Scraper) fetchProduct(ctx context.Context, productURL string) (productPayload, error) {
	parsed, err := url.Parse(productURL)
	if err != nil {
		return productPayload{}, fmt.Errorf("invalid product URL %s: %w", productURL, err)
	}
	path := parsed.Path

	main, err := s.api.FetchRaw(ctx, path+"?oos_search=false&miniapp=supermarket", productURL, false)
	if err != nil {
		return productPayload{}, err
	}
	payload := productPayload{Main: main}

	secondPath := path + "?layout_container=pdpPage2column&layout_page_index=2&oos_search=false&miniapp=supermarket"
	second, err := s.api.FetchRaw(ctx, secondPath, productURL, false)
	if err != nil {
		s.log.Warnf("Second layout page failed for %s: %v", productURL, err)
	} else {
		payload.Second = second
	}

	return payload, nil
}

func (s *Scraper) resolveURLs(ctx context.Context, opts Options, urlsPath string, log *logrus.Entry) ([]pipeline.WorkItem, error) {
	existing, err := table.LoadWorkItems(urlsPath)
	if err != nil {
		return nil, err
	}

	needDiscovery := opts.GenerateURLs || opts.UpdateURLs || len(existing) == 0
	if !needDiscovery {
		log.Infof("Using %d stored product URLs", len(existing))
		return existing, nil
	}

	discovered, err := s.DiscoverCategory(ctx, opts.CategoryURL)
	if err != nil {
		return nil, err
	}

	var items []pipeline.WorkItem
	switch {
	case opts.GenerateURLs || len(existing) == 0:
		items = discovered
		log.Infof("Generated URL list: %d entries", len(items))
	default: // UpdateURLs
		items = pipeline.MergeWorkItems(existing, discovered)
		log.Infof("Updated URL list: %d existing + %d discovered = %d", len(existing), len(discovered), len(items))
	}

	if err := table.SaveWorkItems(urlsPath, items); err != nil {
		return nil, err
	}
	return items, nil
}

func fetchErrRecord(productURL string, err error) pipeline.Record {
	return pipeline.Record{URL: productURL, Fields: map[string]string{
		"fetchErr":      err.Error(),
		"last_upd_time": time.Now().Format("2006-01-02 15:04:05"),
	}}
}
