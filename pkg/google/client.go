// Package google is a client for the Google Places API (New): text search
// with location bias and place details.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/zalahq/leadscout/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	searchFieldMask  = "places.id,places.displayName,places.formattedAddress,places.location,places.types,nextPageToken"
	detailsFieldMask = "id,displayName,formattedAddress,location,nationalPhoneNumber,internationalPhoneNumber,websiteUri"
)

// Circle bias radius bounds accepted by the API, in meters.
const (
	MinRadiusMeters = 1.0
	MaxRadiusMeters = 50000.0
)

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*Place, error)
}

// SearchTextRequest is one places:searchText call. A zero Center sends no
// location bias.
type SearchTextRequest struct {
	TextQuery    string
	IncludedType string
	Center       LatLng
	RadiusMeters float64
	PageSize     int
	PageToken    string
}

// SearchTextResponse is one page of text search results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

// Place is a place as returned by search or details.
type Place struct {
	ID                       string      `json:"id"`
	DisplayName              DisplayName `json:"displayName"`
	FormattedAddress         string      `json:"formattedAddress"`
	Location                 *LatLng     `json:"location,omitempty"`
	Types                    []string    `json:"types,omitempty"`
	NationalPhoneNumber      string      `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string      `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string      `json:"websiteUri,omitempty"`
}

// Phone returns the national number, falling back to the international one.
func (p *Place) Phone() string {
	if p.NationalPhoneNumber != "" {
		return p.NationalPhoneNumber
	}
	return p.InternationalPhoneNumber
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// LatLng is a coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second across search and details.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 2
	retry.OnRetry = resilience.RetryLogger("google_places", "request")

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(10, 10),
		retry:   retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string        `json:"textQuery"`
	IncludedType string        `json:"includedType,omitempty"`
	PageSize     int           `json:"pageSize,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// ClampRadius bounds meters to the range the API accepts.
func ClampRadius(meters float64) float64 {
	switch {
	case meters < MinRadiusMeters:
		return MinRadiusMeters
	case meters > MaxRadiusMeters:
		return MaxRadiusMeters
	default:
		return meters
	}
}

func (c *httpClient) SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error) {
	payload := textSearchRequest{
		TextQuery:    req.TextQuery,
		IncludedType: req.IncludedType,
		PageSize:     req.PageSize,
		PageToken:    req.PageToken,
	}
	if req.Center != (LatLng{}) {
		payload.LocationBias = &locationBias{Circle: circle{
			Center: req.Center,
			Radius: ClampRadius(req.RadiusMeters),
		}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	var result SearchTextResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/places:searchText", body, searchFieldMask, &result); err != nil {
		return nil, eris.Wrap(err, "google: search text")
	}
	return &result, nil
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*Place, error) {
	if placeID == "" {
		return nil, eris.New("google: place id is required")
	}
	var place Place
	endpoint := c.baseURL + "/places/" + url.PathEscape(placeID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, detailsFieldMask, &place); err != nil {
		return nil, eris.Wrapf(err, "google: place details %s", placeID)
	}
	return &place, nil
}

func (c *httpClient) do(ctx context.Context, method, endpoint string, body []byte, fieldMask string, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limiter")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Goog-Api-Key", c.apiKey)
		req.Header.Set("X-Goog-FieldMask", fieldMask)

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if err := resilience.CheckResponse("google_places", resp); err != nil {
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return eris.Wrap(err, "decode response")
		}
		return nil
	})
}
