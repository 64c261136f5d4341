// Package ozon scrapes the Ozon fresh-food catalog through the site's
// composer API, which returns page layouts as JSON widget maps instead of
// HTML. Category listings chain through nextPage tokens; product details
// come from two layout pages per product.
package ozon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/adubovik/freshscrape/internal/fetcher"
	"github.com/sirupsen/logrus"
)

const (
	defaultAPIBase  = "https://api.ozon.ru/entrypoint-api.bx/page/json/v2"
	defaultSiteRoot = "https://www.ozon.ru"
)

// Headers the composer API expects from a browser; requests without them get
// challenged far more often.
var apiHeaders = map[string]string{
	"Accept":             "application/json, text/plain, */*",
	"Accept-Language":    "en-US,en;q=0.9",
	"Sec-Ch-Ua":          `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
	"Sec-Ch-Ua-Mobile":   "?0",
	"Sec-Ch-Ua-Platform": `"Windows"`,
	"Sec-Fetch-Dest":     "empty",
	"Sec-Fetch-Mode":     "cors",
	"Sec-Fetch-Site":     "same-origin",
}

// DefaultHeaders returns the browser-ish header set for composer requests,
// for wiring into a fetcher.Client.
func DefaultHeaders() map[string]string {
	h := make(map[string]string, len(apiHeaders))
	for k, v := range apiHeaders {
		h[k] = v
	}
	return h
}

// API wraps the composer endpoint: it turns site paths into entrypoint
// requests and decodes the widget envelope.
type API struct {
	client   *fetcher.Client
	base     string
	siteRoot string
	log      *logrus.Entry
}

// NewAPI creates a composer API client on top of a page fetcher.
func NewAPI(client *fetcher.Client, log *logrus.Entry) *API {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &API{
		client:   client,
		base:     defaultAPIBase,
		siteRoot: defaultSiteRoot,
		log:      log,
	}
}

// SetEndpoints overrides the API base and site root, used by tests to point
// at a local server.
func (a *API) SetEndpoints(base, siteRoot string) {
	a.base = base
	a.siteRoot = siteRoot
}

// SiteRoot returns the configured site origin.
func (a *API) SiteRoot() string { return a.siteRoot }

// FetchRaw fetches the composer JSON for a site path. pageChanged mirrors
// the query flag the web client sends on pagination. The body is returned
// undecoded so callers can defer parsing to the result consumer.
func (a *API) FetchRaw(ctx context.Context, path, referer string, pageChanged bool) ([]byte, error) {
	reqURL := a.base + "?url=" + url.QueryEscape(path)
	if pageChanged {
		reqURL += "&page_changed=true"
	}

	a.log.Debugf("composer request: %s", reqURL)
	body, err := a.client.GetWithReferer(ctx, reqURL, referer)
	if err != nil {
		return nil, err
	}

	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("composer returned non-JSON for %s", path)
	}
	return body, nil
}

// composerPage is the envelope every composer response shares. Widget
// payloads arrive as JSON-in-strings keyed by generated state ids.
type composerPage struct {
	Layout             []layoutComponent `json:"layout"`
	WidgetStates       map[string]string `json:"widgetStates"`
	NextPage           string            `json:"nextPage"`
	LayoutTrackingInfo string            `json:"layoutTrackingInfo"`
	Seo                struct {
		Script []seoScript `json:"script"`
	} `json:"seo"`
}

type layoutComponent struct {
	Component string `json:"component"`
	StateID   string `json:"stateId"`
}

type seoScript struct {
	Type      string `json:"type"`
	InnerHTML string `json:"innerHTML"`
}

func parseComposerPage(data []byte) (*composerPage, error) {
	var page composerPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode composer page: %w", err)
	}
	return &page, nil
}

// widget returns the raw payload of the first widget whose state id starts
// with prefix. Keys are scanned in sorted order so lookups are stable.
func (p *composerPage) widget(prefix string) (string, bool) {
	keys := make([]string, 0, len(p.WidgetStates))
	for k := range p.WidgetStates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			return p.WidgetStates[k], true
		}
	}
	return "", false
}

// widgetByStateID returns the payload for an exact state id from the layout.
func (p *composerPage) widgetByStateID(stateID string) (string, bool) {
	v, ok := p.WidgetStates[stateID]
	return v, ok
}
