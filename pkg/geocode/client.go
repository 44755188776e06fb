// Package geocode resolves addresses and coordinates via the Google Geocoding API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client geocodes free text, zip codes and coordinates.
type Client interface {
	// Geocode resolves a free-text address.
	Geocode(ctx context.Context, address string) (*Result, error)

	// GeocodeZip resolves a 5-digit US postal code. Only the zip is sent.
	GeocodeZip(ctx context.Context, zip string) (*Result, error)

	// Reverse resolves coordinates to locality, state and postal code.
	Reverse(ctx context.Context, lat, lng float64) (*Result, error)
}

// Result holds the geocoding output. A non-match is not an error: Matched is
// false and Status carries the provider status.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	City             string
	State            string
	ZipCode          string
	Quality          string // "rooftop", "range", "centroid", "approximate"
	Status           string
	Matched          bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithBaseURL overrides the Geocoding API endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = u
	}
}

// WithRateLimit sets the requests-per-second rate limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type geocoder struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a new geocoding Client for the given Google API key.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    googleGeocodeURL,
		limiter:    rate.NewLimiter(25, 25),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}
