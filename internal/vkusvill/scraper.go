// Package vkusvill scrapes product data from the vkusvill.ru grocery store:
// category walking, incremental page caching and HTML extraction. Results
// land in per-category CSV tables under the data directory.
package vkusvill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/config"
	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/metrics"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/session"
	"github.com/adubovik/freshscrape/internal/table"
)

// Options selects what a scrape run does. Zero value means: reuse the stored
// URL list, fetch only uncached pages, parse only unparsed pages.
type Options struct {
	CategoryURL  string
	SingleURL    string // scrape one product and log its fields, no persistence
	GenerateURLs bool   // rebuild the URL list from the category listing
	UpdateURLs   bool   // merge freshly discovered URLs into the stored list
	ForceRefetch bool   // refetch pages even when a cached copy exists
	ForceReparse bool   // reparse pages already present in the detailed table
	Concurrency  int    // overrides the configured worker count when > 0
}

// Scraper drives a full category run: URL discovery, page fetching into the
// HTML cache and extraction into the detailed table.
type Scraper struct {
	cfg     config.Config
	client  *fetcher.Client
	sess    *session.Bundle
	extract *Extractor
	track   *metrics.Tracker
	log     *logrus.Entry
}

// NewScraper wires a scraper from its collaborators. A nil session means an
// anonymous run.
func NewScraper(cfg config.Config, client *fetcher.Client, sess *session.Bundle, log *logrus.Entry) *Scraper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scraper{
		cfg:     cfg,
		client:  client,
		sess:    sess,
		extract: &Extractor{},
		track:   metrics.NewTracker(),
		log:     log,
	}
}

// Run executes a scrape per the options. Per-page failures are recorded in
// the detailed table, not returned; the error covers unusable inputs and
// persistence failures only.
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
	htmlDir := filepath.Join(catDir, "htmls")
	urlsPath := filepath.Join(catDir, catName+"_product_urls.csv")
	detailedPath := filepath.Join(catDir, catName+"_detailed.csv")

	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return fmt.Errorf("failed to create category directory: %w", err)
	}

	items, err := s.resolveURLs(opts, urlsPath, log)
	if err != nil {
		return err
	}
	s.track.AddURLsDiscovered(len(items))
	log.Infof("Working with %d product URLs", len(items))

	fetched, failures := s.fetchPages(ctx, items, htmlDir, opts, log)
	log.Infof("Fetch stage done: %d pages fetched, %d failed", fetched, len(failures))

	if err := s.parsePages(ctx, items, htmlDir, detailedPath, failures, opts, log); err != nil {
		return err
	}

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

// runSingle fetches and extracts one product page, logging every field.
// Useful for checking selectors against a live page.
func (s *Scraper) runSingle(ctx context.Context, productURL string) error {
	body, err := s.client.Get(ctx, productURL)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", productURL, err)
	}

	rec := s.extract.Extract(body, productURL)

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

// resolveURLs loads, regenerates or updates the stored URL list per the run
// options. An absent list on disk always triggers discovery.
func (s *Scraper) resolveURLs(opts Options, urlsPath string, log *logrus.Entry) ([]pipeline.WorkItem, error) {
	existing, err := table.LoadWorkItems(urlsPath)
	if err != nil {
		return nil, err
	}

	needDiscovery := opts.GenerateURLs || opts.UpdateURLs || len(existing) == 0
	if !needDiscovery {
		return existing, nil
	}

	discovered, err := DiscoverCategory(opts.CategoryURL, WalkerConfig{
		UserAgent:   s.cfg.UserAgent,
		Parallelism: s.workerCount(opts),
		PageLimit:   s.cfg.CategoryPageLimit,
		Session:     s.sess,
	}, log)
	if err != nil {
		return nil, err
	}

	var items []pipeline.WorkItem
	switch {
	case opts.GenerateURLs || len(existing) == 0:
		items = pipeline.DedupeWorkItems(discovered)
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

// fetchPages downloads every product page that is not already cached and
// writes each body under htmlDir. Returns the success count and a map of
// url -> error message for failed fetches.
func (s *Scraper) fetchPages(ctx context.Context, items []pipeline.WorkItem, htmlDir string, opts Options, log *logrus.Entry) (int, map[string]string) {
	var pending []string
	for _, item := range items {
		path := htmlPath(htmlDir, item.URL)
		if !opts.ForceRefetch {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		pending = append(pending, item.URL)
	}
	log.Infof("Fetching %d pages (%d already cached)", len(pending), len(items)-len(pending))

	failures := make(map[string]string)
	fetched := 0

	sched := pipeline.NewScheduler(s.workerCount(opts), log)
	sched.Run(ctx, pending,
		func(ctx context.Context, url string) pipeline.FetchResult {
			start := time.Now()
			body, err := s.client.Get(ctx, url)
			s.track.RecordFetchTime(time.Since(start))
			return pipeline.FetchResult{URL: url, Payload: body, Err: err}
		},
		func(url string, res pipeline.FetchResult) {
			fmt.Println(url, fetcher.ResultCode(res.Err))
			if res.Err != nil {
				s.track.IncrementPagesFailed()
				failures[url] = res.Err.Error()
				log.Warnf("Fetch failed for %s: %v", url, res.Err)
				return
			}
			if err := os.WriteFile(htmlPath(htmlDir, url), res.Payload, 0o644); err != nil {
				s.track.IncrementPagesFailed()
				failures[url] = err.Error()
				log.Errorf("Failed to cache %s: %v", url, err)
				return
			}
			s.track.IncrementPagesFetched()
			fetched++
		})

	return fetched, failures
}

// parsePages extracts records from cached pages not yet present in the
// detailed table, folds in fetch failures as fetchErr rows and rewrites the
// table sorted by protein density.
func (s *Scraper) parsePages(ctx context.Context, items []pipeline.WorkItem, htmlDir, detailedPath string, failures map[string]string, opts Options, log *logrus.Entry) error {
	existing, err := table.Load(detailedPath)
	if err != nil {
		return err
	}

	parsed := make(map[string]bool, len(existing))
	if !opts.ForceReparse {
		for _, rec := range existing {
			if p := rec.Field("html_path"); p != "" {
				parsed[p] = true
			}
		}
	}

	pathByURL := make(map[string]string, len(items))
	var pending []string
	for _, item := range items {
		if _, failed := failures[item.URL]; failed {
			continue
		}
		path := htmlPath(htmlDir, item.URL)
		if parsed[path] {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		pathByURL[item.URL] = path
		pending = append(pending, item.URL)
	}
	log.Infof("Parsing %d pages", len(pending))

	var incoming []pipeline.Record

	sched := pipeline.NewScheduler(s.workerCount(opts), log)
	sched.Run(ctx, pending,
		func(_ context.Context, url string) pipeline.FetchResult {
			body, err := os.ReadFile(pathByURL[url])
			return pipeline.FetchResult{URL: url, Payload: body, Err: err}
		},
		func(url string, res pipeline.FetchResult) {
			if res.Err != nil {
				s.track.IncrementRecordsFailed()
				log.Errorf("Failed to read cached page for %s: %v", url, res.Err)
				return
			}
			rec := s.extract.Extract(res.Payload, url)
			rec.Set("html_path", pathByURL[url])
			incoming = append(incoming, rec)
			s.track.IncrementRecordsParsed()
		})

	for _, item := range items {
		msg, failed := failures[item.URL]
		if !failed {
			continue
		}
		rec := pipeline.Record{URL: item.URL, Fields: map[string]string{
			"fetchErr":      msg,
			"last_upd_time": time.Now().Format("2006-01-02 15:04:05"),
		}}
		incoming = append(incoming, rec)
		s.track.IncrementRecordsFailed()
	}

	merged := pipeline.MergeRecords(existing, incoming)
	sortByProteinDensity(merged)

	if err := table.Save(detailedPath, merged); err != nil {
		return err
	}
	log.Infof("Saved %d records to %s", len(merged), detailedPath)
	return nil
}

func (s *Scraper) workerCount(opts Options) int {
	if opts.Concurrency > 0 {
		return opts.Concurrency
	}
	return s.cfg.Concurrency
}

// sortByProteinDensity orders records by pro/cal descending so the most
// protein-dense products top the table. Rows without the metric sink.
func sortByProteinDensity(records []pipeline.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		vi, erri := strconv.ParseFloat(records[i].Field("pro/cal"), 64)
		vj, errj := strconv.ParseFloat(records[j].Field("pro/cal"), 64)
		if erri != nil {
			vi = -1
		}
		if errj != nil {
			vj = -1
		}
		return vi > vj
	})
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}_\-. ]`)

// htmlPath maps a product URL to its cache file: last path segment,
// sanitized, with query and fragment dropped.
func htmlPath(htmlDir, productURL string) string {
	name := productURL
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = strings.Trim(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeFileChars.ReplaceAllString(name, "_")
	if name == "" {
		name = "page"
	}
	return filepath.Join(htmlDir, name+".html")
}
