// Package rapidapi is a client for the Zillow agent directory served
// through RapidAPI.
package rapidapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/zalahq/leadscout/internal/resilience"
)

const (
	// DefaultHost is the RapidAPI host of the Zillow agent API.
	DefaultHost = "zillow-com4.p.rapidapi.com"

	// MaxPageSize is the largest page the agent search accepts.
	MaxPageSize = 50

	specialtyBuyersAgent = "BuyersAgent"
)

// Client searches the agent directory.
type Client interface {
	SearchAgents(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is one page of an agent search.
type SearchRequest struct {
	Location string
	Page     int // 1-based
	PageSize int
}

// SearchResponse is one page of professionals.
type SearchResponse struct {
	Professionals []Professional
}

// Professional is an agent listing as returned by the directory.
type Professional struct {
	EncodedZUID  string `json:"encodedZuid"`
	FullName     string `json:"fullName"`
	BusinessName string `json:"businessName"`
	PhoneNumber  string `json:"phoneNumber"`
	Location     string `json:"location"`
	ProfileLink  string `json:"profileLink"`
	ProfilePhoto string `json:"profilePhotoSrc"`
}

// Key is the identity used to drop repeats across pages: encoded ZUID,
// then profile link, then lower-cased name and business.
func (p Professional) Key() string {
	switch {
	case p.EncodedZUID != "":
		return "zuid:" + p.EncodedZUID
	case p.ProfileLink != "":
		return "link:" + p.ProfileLink
	default:
		return "name:" + strings.ToLower(strings.TrimSpace(p.FullName)) + "|" + strings.ToLower(strings.TrimSpace(p.BusinessName))
	}
}

type searchEnvelope struct {
	Data struct {
		Results struct {
			Professionals []Professional `json:"professionals"`
		} `json:"results"`
	} `json:"data"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL (default https://<host>).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHost overrides the x-rapidapi-host header.
func WithHost(host string) Option {
	return func(c *httpClient) {
		if host != "" {
			c.host = host
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) { c.retry = cfg }
}

type httpClient struct {
	apiKey  string
	host    string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a directory client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.RetryLogger("rapidapi", "agents_search")

	c := &httpClient{
		apiKey: apiKey,
		host:   DefaultHost,
		http:   &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
	for _, o := range opts {
		o(c)
	}
	if c.baseURL == "" {
		c.baseURL = "https://" + c.host
	}
	return c
}

func (c *httpClient) SearchAgents(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if strings.TrimSpace(req.Location) == "" {
		return nil, eris.New("rapidapi: location is required")
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}

	q := url.Values{}
	q.Set("location", req.Location)
	q.Set("specialty", specialtyBuyersAgent)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(size))
	endpoint := c.baseURL + "/agents/search?" + q.Encode()

	env, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*searchEnvelope, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		httpReq.Header.Set("x-rapidapi-key", c.apiKey)
		httpReq.Header.Set("x-rapidapi-host", c.host)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("rapidapi", resp); err != nil {
			return nil, err
		}
		var env searchEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, eris.Wrap(err, "decode response")
		}
		return &env, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "rapidapi: search agents page %d", page)
	}
	return &SearchResponse{Professionals: env.Data.Results.Professionals}, nil
}
