package pipeline

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// FetchFunc fetches one URL. It may block and it may fail; failures are
// reported through the FetchResult, never by panicking the batch.
type FetchFunc func(ctx context.Context, url string) FetchResult

// ResultFunc receives each result as it completes. It is always invoked from
// a single goroutine, so extractors behind it need no locking.
type ResultFunc func(url string, res FetchResult)

// Scheduler runs a bounded number of concurrent fetches over a URL batch.
// Workers only synchronize on channels; results funnel through one consumer.
type Scheduler struct {
	maxConcurrency int
	log            *logrus.Entry
}

// NewScheduler creates a scheduler. maxConcurrency below 1 is raised to 1,
// which degrades to strictly sequential, input-ordered processing.
func NewScheduler(maxConcurrency int, log *logrus.Entry) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{maxConcurrency: maxConcurrency, log: log}
}

// Run fetches every URL with at most maxConcurrency in flight and hands each
// result to onResult upon completion (arrival order is completion order).
// A failed fetch never aborts the batch. Cancelling ctx stops new fetches
// from starting; in-flight fetches finish and their results are delivered.
// Returns the number of URLs actually fetched.
func (s *Scheduler) Run(ctx context.Context, urls []string, fetch FetchFunc, onResult ResultFunc) int {
	if len(urls) == 0 {
		return 0
	}

	jobs := make(chan string)
	results := make(chan FetchResult, s.maxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for url := range jobs {
				res := s.fetchOne(ctx, fetch, url)
				results <- res
			}
			s.log.Debugf("worker %d: no more urls, exiting", id)
		}(i + 1)
	}

	// Feeder checks for cancellation before handing out each URL, so a stop
	// request lets in-flight fetches drain without starting new ones.
	go func() {
		defer close(jobs)
		for _, url := range urls {
			if ctx.Err() != nil {
				s.log.Warnf("cancellation requested, %s and later urls not started", url)
				return
			}
			select {
			case <-ctx.Done():
				s.log.Warnf("cancellation requested, %s and later urls not started", url)
				return
			case jobs <- url:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	for res := range results {
		processed++
		if onResult != nil {
			onResult(res.URL, res)
		}
	}
	return processed
}

// fetchOne shields the batch from a panicking fetch implementation by
// converting the panic into a failed result.
func (s *Scheduler) fetchOne(ctx context.Context, fetch FetchFunc, url string) (res FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("fetch panic for %s: %v", url, r)
			res = FetchResult{URL: url, Err: &PanicError{URL: url, Value: r}}
		}
	}()

	res = fetch(ctx, url)
	if res.URL == "" {
		res.URL = url
	}
	return res
}
