package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echoFetch(_ context.Context, url string) FetchResult {
	return FetchResult{URL: url, Payload: []byte("payload:" + url)}
}

func TestSchedulerSequentialPreservesInputOrder(t *testing.T) {
	urls := []string{"a", "b", "c", "d", "e"}
	s := NewScheduler(1, nil)

	var got []string
	n := s.Run(context.Background(), urls, echoFetch, func(url string, _ FetchResult) {
		got = append(got, url)
	})

	if n != len(urls) {
		t.Errorf("Run() = %d, want %d", n, len(urls))
	}
	if !reflect.DeepEqual(got, urls) {
		t.Errorf("sequential delivery order = %v, want input order %v", got, urls)
	}
}

func TestSchedulerConcurrentSameResultSet(t *testing.T) {
	urls := []string{"a", "b", "c"}

	collect := func(workers int) map[string]string {
		s := NewScheduler(workers, nil)
		results := make(map[string]string)
		s.Run(context.Background(), urls, echoFetch, func(url string, res FetchResult) {
			results[url] = string(res.Payload)
		})
		return results
	}

	sequential := collect(1)
	concurrent := collect(3)

	if !reflect.DeepEqual(sequential, concurrent) {
		t.Errorf("result sets differ:\nworkers=1: %v\nworkers=3: %v", sequential, concurrent)
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const maxWorkers = 3
	var inFlight, peak int32

	fetch := func(_ context.Context, url string) FetchResult {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return FetchResult{URL: url}
	}

	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("u%d", i)
	}

	s := NewScheduler(maxWorkers, nil)
	s.Run(context.Background(), urls, fetch, nil)

	if p := atomic.LoadInt32(&peak); p > maxWorkers {
		t.Errorf("peak concurrency = %d, want <= %d", p, maxWorkers)
	}
}

func TestSchedulerFailureDoesNotAbortBatch(t *testing.T) {
	timeout := errors.New("timeout")
	fetch := func(_ context.Context, url string) FetchResult {
		if url == "b" {
			return FetchResult{URL: url, Err: timeout}
		}
		return FetchResult{URL: url, Payload: []byte("ok")}
	}

	var mu sync.Mutex
	calls := 0
	var failed []string
	s := NewScheduler(3, nil)
	s.Run(context.Background(), []string{"a", "b", "c"}, fetch, func(url string, res FetchResult) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if res.Err != nil {
			if res.Payload != nil {
				t.Errorf("failed result for %s must carry nil payload", url)
			}
			failed = append(failed, url)
		}
	})

	if calls != 3 {
		t.Errorf("onResult called %d times, want 3", calls)
	}
	if !reflect.DeepEqual(failed, []string{"b"}) {
		t.Errorf("failed urls = %v, want [b]", failed)
	}
}

func TestSchedulerPanicBecomesResult(t *testing.T) {
	fetch := func(_ context.Context, url string) FetchResult {
		if url == "boom" {
			panic("extractor bug")
		}
		return FetchResult{URL: url}
	}

	var panicked *PanicError
	s := NewScheduler(2, nil)
	n := s.Run(context.Background(), []string{"ok", "boom"}, fetch, func(url string, res FetchResult) {
		if res.Err != nil {
			errors.As(res.Err, &panicked)
		}
	})

	if n != 2 {
		t.Errorf("Run() = %d, want 2", n)
	}
	if panicked == nil || panicked.URL != "boom" {
		t.Errorf("panic not surfaced as PanicError, got %v", panicked)
	}
}

func TestSchedulerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan string, 16)
	release := make(chan struct{})
	fetch := func(_ context.Context, url string) FetchResult {
		started <- url
		<-release
		return FetchResult{URL: url}
	}

	urls := []string{"a", "b", "c", "d", "e", "f"}
	s := NewScheduler(2, nil)

	var delivered []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, urls, fetch, func(url string, _ FetchResult) {
			delivered = append(delivered, url)
		})
	}()

	// Wait for the first two fetches to be in flight, then cancel. The pause
	// lets the feeder observe cancellation before workers are released.
	<-started
	<-started
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// In-flight fetches finish and are delivered; nothing new starts.
	sort.Strings(delivered)
	if !reflect.DeepEqual(delivered, []string{"a", "b"}) {
		t.Errorf("delivered = %v, want only the in-flight [a b]", delivered)
	}
}

func TestSchedulerEmptyInput(t *testing.T) {
	s := NewScheduler(4, nil)
	n := s.Run(context.Background(), nil, echoFetch, func(string, FetchResult) {
		t.Error("onResult must not be called for empty input")
	})
	if n != 0 {
		t.Errorf("Run() = %d, want 0", n)
	}
}
