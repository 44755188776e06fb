// Package brave is a client for the Brave Web Search API.
package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/zalahq/leadscout/internal/resilience"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1"

// Result count bounds accepted by the API.
const (
	MinCount     = 1
	MaxCount     = 20
	DefaultCount = 10
)

// NoResults is the text Format returns for an empty result set.
const NoResults = "No results found."

// Client runs web searches.
type Client interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Result is one web result with HTML stripped from the description.
type Result struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// Format renders results as "title\ndescription\nurl" blocks separated by
// blank lines, the shape handed back to the model as a tool result.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("%s\n%s\n%s", r.Title, r.Description, r.URL)
	}
	return strings.Join(blocks, "\n\n")
}

// ClampCount bounds n to [MinCount, MaxCount].
func ClampCount(n int) int {
	switch {
	case n < MinCount:
		return MinCount
	case n > MaxCount:
		return MaxCount
	default:
		return n
	}
}

type searchResponse struct {
	Web struct {
		Results []Result `json:"results"`
	} `json:"web"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithMinInterval sets the fixed delay enforced between requests.
func WithMinInterval(d time.Duration) Option {
	return func(c *httpClient) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Brave client limited to one request per second.
// Every attempt, retries included, waits on the limiter.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.RetryLogger("brave", "web_search")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retry:   retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, count int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("brave: query is required")
	}
	count = ClampCount(count)

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	q.Set("country", "US")
	endpoint := c.baseURL + "/web/search?" + q.Encode()

	sr, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*searchResponse, error) {
		return c.send(ctx, endpoint)
	})
	if err != nil {
		return nil, eris.Wrap(err, "brave: search")
	}

	results := sr.Web.Results
	if len(results) > count {
		results = results[:count]
	}
	for i := range results {
		results[i].Title = StripHTML(results[i].Title)
		results[i].Description = StripHTML(results[i].Description)
	}
	return results, nil
}

func (c *httpClient) send(ctx context.Context, endpoint string) (*searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := resilience.CheckResponse("brave", resp); err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	return &sr, nil
}

// StripHTML returns the text content of an HTML fragment with whitespace
// collapsed. Brave highlights matches with <strong> tags.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
