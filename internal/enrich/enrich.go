// Package enrich adds derived nutrition-profile columns to a product table.
// An Analyzer produces a nested analysis per product; the runner flattens it
// into enrich_* columns and merges the result back, skipping rows that were
// already enriched in a previous run.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/table"
)

// columnPrefix marks every generated column so reruns can tell enriched rows
// from raw ones.
const columnPrefix = "enrich_"

// Analyzer produces a product analysis. Values may nest one level deep
// (maps flatten with underscore-joined keys, lists join with semicolons).
type Analyzer interface {
	Analyze(ctx context.Context, rec pipeline.Record) (map[string]interface{}, error)
}

// Flatten folds a nested analysis into prefixed CSV columns. Nested maps
// join key paths with underscores; lists become semicolon-joined strings.
func Flatten(analysis map[string]interface{}) map[string]string {
	flat := make(map[string]string)
	flattenInto(flat, analysis, columnPrefix)
	return flat
}

func flattenInto(flat map[string]string, value map[string]interface{}, prefix string) {
	for key, val := range value {
		column := prefix + key
		switch v := val.(type) {
		case map[string]interface{}:
			flattenInto(flat, v, column+"_")
		case []string:
			flat[column] = strings.Join(v, ";")
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			flat[column] = strings.Join(parts, ";")
		case nil:
			flat[column] = ""
		default:
			flat[column] = fmt.Sprint(v)
		}
	}
}

// Options tunes an enrichment run.
type Options struct {
	Concurrency int
	// Force re-analyzes rows that already carry enrichment columns.
	Force bool
	// SaveEvery persists the table after this many analyses, so a long run
	// interrupted halfway keeps its progress. 0 disables interim saves.
	SaveEvery int
	// Retry applies to failed analyses.
	Retry fetcher.RetryPolicy
}

// Runner enriches a product table in place.
type Runner struct {
	analyzer Analyzer
	log      *logrus.Entry
}

// NewRunner wires an enrichment runner.
func NewRunner(analyzer Analyzer, log *logrus.Entry) *Runner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{analyzer: analyzer, log: log}
}

// Run enriches every unenriched row of the table at csvPath and rewrites it.
// Rows whose analysis fails keep their raw columns; the error covers
// unusable inputs and persistence failures only.
func (r *Runner) Run(ctx context.Context, csvPath string, opts Options) error {
	records, err := table.Load(csvPath)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records found in %s", csvPath)
	}

	byURL := make(map[string]*pipeline.Record, len(records))
	var pending []string
	for i := range records {
		rec := &records[i]
		byURL[rec.URL] = rec
		if !opts.Force && isEnriched(*rec) {
			continue
		}
		if rec.Field("fetchErr") != "" {
			continue
		}
		pending = append(pending, rec.URL)
	}
	r.log.Infof("Enriching %d of %d rows", len(pending), len(records))
	if len(pending) == 0 {
		return nil
	}

	done, failed := 0, 0
	sched := pipeline.NewScheduler(opts.Concurrency, r.log)
	sched.Run(ctx, pending,
		func(ctx context.Context, url string) pipeline.FetchResult {
			var analysis map[string]interface{}
			err := opts.Retry.Do(ctx, func() error {
				var aerr error
				analysis, aerr = r.analyzer.Analyze(ctx, *byURL[url])
				return aerr
			}, nil)
			if err != nil {
				return pipeline.FetchResult{URL: url, Err: err}
			}
			payload, err := json.Marshal(analysis)
			return pipeline.FetchResult{URL: url, Payload: payload, Err: err}
		},
		func(url string, res pipeline.FetchResult) {
			if res.Err != nil {
				failed++
				r.log.Warnf("Analysis failed for %s: %v", url, res.Err)
				return
			}
			var analysis map[string]interface{}
			if err := json.Unmarshal(res.Payload, &analysis); err != nil {
				failed++
				r.log.Warnf("Unusable analysis for %s: %v", url, err)
				return
			}

			rec := byURL[url]
			flat := Flatten(analysis)
			keys := make([]string, 0, len(flat))
			for k := range flat {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				rec.Set(k, flat[k])
			}

			done++
			if opts.SaveEvery > 0 && done%opts.SaveEvery == 0 {
				if err := table.Save(csvPath, records); err != nil {
					r.log.Errorf("Interim save failed: %v", err)
				} else {
					r.log.Infof("Interim save after %d analyses", done)
				}
			}
		})

	if err := table.Save(csvPath, records); err != nil {
		return err
	}
	r.log.Infof("Enrichment complete: %d succeeded, %d failed", done, failed)
	return nil
}

// isEnriched reports whether a row already carries generated columns.
func isEnriched(rec pipeline.Record) bool {
	for key := range rec.Fields {
		if strings.HasPrefix(key, columnPrefix) {
			return true
		}
	}
	return false
}
