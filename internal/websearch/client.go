// Package websearch queries the SerpAPI Google engines with bounded
// retry/backoff, de-duplicates results across pages by normalized URL, and
// caps per-domain dominance before results reach the answering pipeline.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wakamiya-lab/grantbot/internal/domain"
)

const (
	defaultBaseURL        = "https://serpapi.com/search.json"
	defaultMaxAttempts    = 4
	defaultInitialBackoff = time.Second
	defaultMaxPerDomain   = 2
	defaultCallTimeout    = 15 * time.Second
)

// Params tunes one search. Zero values fall back to Japanese-locale defaults
// matching the deployment's audience.
type Params struct {
	Language string // hl
	Region   string // gl
	Safe     string
	PerPage  int
	Pages    int
	// TimeFilter is a tbs expression such as "qdr:w".
	TimeFilter string
}

func (p Params) withDefaults() Params {
	if p.Language == "" {
		p.Language = "ja"
	}
	if p.Region == "" {
		p.Region = "jp"
	}
	if p.Safe == "" {
		p.Safe = "active"
	}
	if p.PerPage <= 0 {
		p.PerPage = 10
	}
	if p.Pages <= 0 {
		p.Pages = 1
	}
	return p
}

// Client calls SerpAPI. Each API call is retried up to maxAttempts with
// exponential backoff; the sleep function only suspends the calling request.
type Client struct {
	apiKey         string
	baseURL        string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxPerDomain   int
	sleep          func(time.Duration)
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithMaxPerDomain(n int) Option {
	return func(c *Client) { c.maxPerDomain = n }
}

// WithSleep replaces the backoff sleep, used by tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: defaultCallTimeout},
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		maxPerDomain:   defaultMaxPerDomain,
		sleep:          time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type serpResponse struct {
	OrganicResults []organicItem `json:"organic_results"`
	NewsResults    []newsItem    `json:"news_results"`
}

type organicItem struct {
	Position int      `json:"position"`
	Title    string   `json:"title"`
	Link     string   `json:"link"`
	Snippet  string   `json:"snippet"`
	Score    *float64 `json:"score,omitempty"`
}

type newsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	NewsURL string `json:"news_url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
	Date    string `json:"date"`
}

// Search runs a paginated organic search. Results are de-duplicated by
// normalized (host, path) key across pages; pagination stops early once a
// page comes back under-filled; per-domain results are capped in rank order.
func (c *Client) Search(ctx context.Context, query string, params Params) ([]domain.WebHit, error) {
	if c.apiKey == "" {
		return nil, domain.ErrMissingSerpKey
	}
	p := params.withDefaults()

	var all []domain.WebHit
	seen := map[string]struct{}{}
	rank := 0

	for page := 0; page < p.Pages; page++ {
		values := url.Values{
			"engine":  {"google"},
			"q":       {query},
			"api_key": {c.apiKey},
			"hl":      {p.Language},
			"gl":      {p.Region},
			"safe":    {p.Safe},
			"num":     {strconv.Itoa(p.PerPage)},
			"start":   {strconv.Itoa(page * p.PerPage)},
		}
		if p.TimeFilter != "" {
			values.Set("tbs", p.TimeFilter)
		}

		resp, err := c.call(ctx, values)
		if err != nil {
			return nil, err
		}

		for _, item := range resp.OrganicResults {
			key := urlKey(item.Link)
			if key != "" {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			rank++
			all = append(all, domain.WebHit{
				Title:   item.Title,
				URL:     item.Link,
				Rank:    rank,
				Score:   item.Score,
				Snippet: item.Snippet,
			})
		}

		// An under-filled page means there is no next page worth asking for.
		if len(resp.OrganicResults) < p.PerPage {
			break
		}
	}

	return diversifyByDomain(all, c.maxPerDomain), nil
}

// News runs a google_news search. It shares the call/retry machinery but
// maps the news result shape (source, date).
func (c *Client) News(ctx context.Context, query string, params Params) ([]domain.WebHit, error) {
	if c.apiKey == "" {
		return nil, domain.ErrMissingSerpKey
	}
	p := params.withDefaults()

	values := url.Values{
		"engine":  {"google_news"},
		"q":       {query},
		"api_key": {c.apiKey},
		"hl":      {p.Language},
		"gl":      {p.Region},
		"num":     {strconv.Itoa(p.PerPage)},
	}

	resp, err := c.call(ctx, values)
	if err != nil {
		return nil, err
	}

	hits := make([]domain.WebHit, 0, len(resp.NewsResults))
	for i, item := range resp.NewsResults {
		link := item.Link
		if link == "" {
			link = item.NewsURL
		}
		hits = append(hits, domain.WebHit{
			Title:   item.Title,
			URL:     link,
			Rank:    i + 1,
			Snippet: item.Snippet,
			Source:  item.Source,
			Date:    item.Date,
		})
	}
	return hits, nil
}

// call performs one API request with bounded retry and exponential backoff
// starting at initialBackoff and doubling per attempt.
func (c *Client) call(ctx context.Context, values url.Values) (*serpResponse, error) {
	backoff := c.initialBackoff
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoff)
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, values)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}

	return nil, domain.NewDomainErrorWithCause(domain.ErrCodeSearchUnavailable,
		fmt.Sprintf("search API failed after %d attempts", c.maxAttempts), lastErr)
}

func (c *Client) doOnce(ctx context.Context, values url.Values) (*serpResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &parsed, nil
}

// urlKey normalizes a URL into a (host, path) de-duplication key. A trailing
// slash on the path does not make a distinct result.
func urlKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := u.Path
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return u.Host + path
}

// diversifyByDomain caps hits per host, keeping original rank order. Hits
// without a parseable host pass through uncapped.
func diversifyByDomain(hits []domain.WebHit, maxPerDomain int) []domain.WebHit {
	if maxPerDomain <= 0 {
		return hits
	}
	counts := map[string]int{}
	out := make([]domain.WebHit, 0, len(hits))
	for _, h := range hits {
		u, err := url.Parse(h.URL)
		if err != nil || u.Host == "" {
			out = append(out, h)
			continue
		}
		if counts[u.Host] < maxPerDomain {
			out = append(out, h)
			counts[u.Host]++
		}
	}
	return out
}
