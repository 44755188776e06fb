package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	AddressComponents []addressComponent `json:"address_components"`
	Geometry          struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

type addressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// Geocode resolves a free-text address, biased to the US.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, eris.New("geocode: empty address")
	}
	return g.lookup(ctx, url.Values{
		"address": {address},
		"region":  {"us"},
	})
}

// GeocodeZip resolves a postal code through a component filter so the
// provider never sees anything but the zip.
func (g *geocoder) GeocodeZip(ctx context.Context, zip string) (*Result, error) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return nil, eris.New("geocode: empty zip")
	}
	return g.lookup(ctx, url.Values{
		"components": {"postal_code:" + zip + "|country:US"},
	})
}

func (g *geocoder) lookup(ctx context.Context, params url.Values) (*Result, error) {
	if g.apiKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	params.Set("key", g.apiKey)

	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts: 2,
		OnRetry:     resilience.RetryLogger("google_geocode", "lookup"),
	}, func(ctx context.Context) (*googleGeocodeResponse, error) {
		return g.send(ctx, params)
	})
	if err != nil {
		return nil, err
	}

	if resp.Status != "OK" || len(resp.Results) == 0 {
		zap.L().Debug("geocode: no match",
			zap.String("status", resp.Status),
			zap.String("error_message", resp.ErrorMessage),
		)
		return &Result{Matched: false, Status: resp.Status}, nil
	}

	return toResult(resp.Results[0], resp.Status), nil
}

func (g *geocoder) send(ctx context.Context, params url.Values) (*googleGeocodeResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	reqURL := g.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var out googleGeocodeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	return &out, nil
}

func toResult(r googleResult, status string) *Result {
	res := &Result{
		Latitude:         r.Geometry.Location.Lat,
		Longitude:        r.Geometry.Location.Lng,
		FormattedAddress: r.FormattedAddress,
		Quality:          googleLocationTypeToQuality(r.Geometry.LocationType),
		Status:           status,
		Matched:          true,
	}
	for _, c := range r.AddressComponents {
		switch {
		case hasType(c, "locality") && res.City == "":
			res.City = c.LongName
		case hasType(c, "postal_town") && res.City == "":
			res.City = c.LongName
		case hasType(c, "administrative_area_level_1"):
			res.State = c.ShortName
		case hasType(c, "postal_code"):
			res.ZipCode = c.LongName
		}
	}
	return res
}

func hasType(c addressComponent, t string) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}

func formatLatLng(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}
