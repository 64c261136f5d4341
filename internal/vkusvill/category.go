package vkusvill

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/adubovik/freshscrape/internal/pipeline"
	"github.com/adubovik/freshscrape/internal/session"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const siteRoot = "https://vkusvill.ru"

// WalkerConfig tunes the category walker.
type WalkerConfig struct {
	UserAgent   string
	Parallelism int
	PageLimit   int
	Session     *session.Bundle
	// AllowedDomains restricts the walk; empty means the production site.
	AllowedDomains []string
}

// CategoryName derives the directory-friendly category name from its URL
// (last path segment).
func CategoryName(categoryURL string) (string, error) {
	parsed, err := url.Parse(categoryURL)
	if err != nil {
		return "", fmt.Errorf("invalid category URL %s: %w", categoryURL, err)
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	name := parts[len(parts)-1]
	if name == "" {
		return "", fmt.Errorf("cannot derive category name from URL: %s", categoryURL)
	}
	return name, nil
}

// DiscoverCategory walks every page of a category listing and returns the
// product URLs found, in page order. Pagination uses the PAGEN_1 query
// parameter; the total page count comes from the pager on the first page.
func DiscoverCategory(categoryURL string, cfg WalkerConfig, log *logrus.Entry) ([]pipeline.WorkItem, error) {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.PageLimit < 1 {
		cfg.PageLimit = 1
	}

	domains := cfg.AllowedDomains
	if len(domains) == 0 {
		domains = []string{"vkusvill.ru", "www.vkusvill.ru"}
	}

	c := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.Async(true),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
	})
	if cfg.Session != nil && !cfg.Session.Empty() {
		if err := c.SetCookies(siteRoot, cfg.Session.HTTPCookies()); err != nil {
			log.Warnf("Failed to set session cookies on walker: %v", err)
		}
	}

	var mu sync.Mutex
	byPage := make(map[int][]string)
	var pagesQueued bool
	var walkErr error

	// Product card links carry the detail-page URL.
	c.OnHTML("a.js-product-detail-link[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		full := e.Request.AbsoluteURL(href)
		page := pageOf(e.Request.URL)

		mu.Lock()
		byPage[page] = append(byPage[page], full)
		mu.Unlock()
	})

	// The pager on page 1 tells us how many pages exist; queue the rest.
	c.OnHTML("div.VV_Pager a[data-page]", func(e *colly.HTMLElement) {
		if pageOf(e.Request.URL) != 1 {
			return
		}
		n, err := strconv.Atoi(e.Attr("data-page"))
		if err != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if pagesQueued {
			return
		}
		total := n
		if total > cfg.PageLimit {
			total = cfg.PageLimit
		}
		if total < 2 {
			return
		}
		pagesQueued = true
		log.Infof("Category has %d pages (visiting %d)", n, total)
		for i := 2; i <= total; i++ {
			if err := e.Request.Visit(pageURL(categoryURL, i)); err != nil {
				log.Warnf("Failed to queue page %d: %v", i, err)
			}
		}
	})

	c.OnRequest(func(r *colly.Request) {
		log.Debugf("Visiting listing page %s", r.URL)
	})

	c.OnError(func(r *colly.Response, err error) {
		log.Errorf("Listing page %s failed: %v (status %d)", r.Request.URL, err, r.StatusCode)
		mu.Lock()
		if pageOf(r.Request.URL) == 1 && walkErr == nil {
			walkErr = fmt.Errorf("failed to fetch first category page: %w", err)
		}
		mu.Unlock()
	})

	if err := c.Visit(pageURL(categoryURL, 1)); err != nil {
		return nil, fmt.Errorf("failed to visit category %s: %w", categoryURL, err)
	}
	c.Wait()

	if walkErr != nil {
		return nil, walkErr
	}

	// Flatten page -> urls in page order; within a page, document order.
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var items []pipeline.WorkItem
	for _, p := range pages {
		for _, u := range byPage[p] {
			items = append(items, pipeline.WorkItem{
				URL:      u,
				Metadata: map[string]string{"page": strconv.Itoa(p)},
			})
		}
	}

	log.Infof("Discovered %d product URLs across %d pages", len(items), len(pages))
	return items, nil
}

func pageURL(categoryURL string, page int) string {
	return fmt.Sprintf("%s?PAGEN_1=%d", strings.TrimRight(categoryURL, "?"), page)
}

func pageOf(u *url.URL) int {
	if u == nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("PAGEN_1"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
