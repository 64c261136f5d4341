// Package availability refreshes the stock column of an existing product
// table. Each url is checked, the row's availability and last_update cells
// are rewritten and a progress line is printed per completion so downstream
// consumers can stream results.
package availability

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/table"
)

// Checker reports how many units of a product are in stock.
type Checker interface {
	Check(ctx context.Context, url string) (int, error)
}

// MockChecker returns random stock levels without touching the network,
// for exercising downstream consumers.
type MockChecker struct {
	rng *rand.Rand
}

// NewMockChecker creates a mock checker. seed 0 means time-based.
func NewMockChecker(seed int64) *MockChecker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockChecker{rng: rand.New(rand.NewSource(seed))}
}

func (m *MockChecker) Check(_ context.Context, _ string) (int, error) {
	return m.rng.Intn(11), nil
}

// PageChecker fetches the product page and reads the stock markers from it.
type PageChecker struct {
	client *fetcher.Client
}

// NewPageChecker creates a live checker on top of a page fetcher.
func NewPageChecker(client *fetcher.Client) *PageChecker {
	return &PageChecker{client: client}
}

func (p *PageChecker) Check(ctx context.Context, url string) (int, error) {
	body, err := p.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to parse page for %s: %w", url, err)
	}

	sel := doc.Find("#product-quantity-block").First()
	if sel.Length() == 0 {
		return 0, nil
	}
	if class, _ := sel.Attr("class"); strings.Contains(class, "not_avail") {
		return 0, nil
	}
	if qty, ok := sel.Attr("data-quantity"); ok && qty != "" {
		if f, err := strconv.ParseFloat(qty, 64); err == nil {
			return int(f), nil
		}
	}
	return 0, nil
}

// Options tunes an availability run.
type Options struct {
	Concurrency int
	// OutputPath, when set, additionally writes a url/availability table.
	OutputPath string
}

// Runner updates a product table in place.
type Runner struct {
	checker Checker
	log     *logrus.Entry
}

// NewRunner wires an availability runner.
func NewRunner(checker Checker, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{checker: checker, log: log}
}

// Run checks every url in the table at csvPath and rewrites the table with
// fresh availability and last_update columns, printing "<url> <count>" per
// completion. A check failure leaves the row's availability untouched.
func (r *Runner) Run(ctx context.Context, csvPath string, opts Options) error {
	records, err := table.Load(csvPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records found in %s", csvPath)
	}
	r.log.Infof("Checking availability for %d products", len(records))

	byURL := make(map[string]*pipeline.Record, len(records))
	urls := make([]string, 0, len(records))
	for i := range records {
		byURL[records[i].URL] = &records[i]
		urls = append(urls, records[i].URL)
	}

	checked := 0
	sched := pipeline.NewScheduler(opts.Concurrency, r.log)
	sched.Run(ctx, urls,
		func(ctx context.Context, url string) pipeline.FetchResult {
			count, err := r.checker.Check(ctx, url)
			return pipeline.FetchResult{URL: url, Payload: []byte(strconv.Itoa(count)), Err: err}
		},
		func(url string, res pipeline.FetchResult) {
			if res.Err != nil {
				r.log.Warnf("Availability check failed for %s: %v", url, res.Err)
				return
			}
			fmt.Println(url, string(res.Payload))
			rec := byURL[url]
			rec.Set("availability", string(res.Payload))
			rec.Set("last_update", time.Now().Format("2006-01-02 15:04:05"))
			checked++
		})

	if err := table.Save(csvPath, records); err != nil {
		return err
	}
	r.log.Infof("Updated %d of %d rows in %s", checked, len(records), csvPath)

	if opts.OutputPath != "" {
		out := make([]pipeline.Record, 0, len(records))
		for _, rec := range records {
			out = append(out, pipeline.Record{URL: rec.URL, Fields: map[string]string{
				"availability": rec.Field("availability"),
			}})
		}
		if err := table.Save(opts.OutputPath, out); err != nil {
			return err
		}
	}
	return nil
}
