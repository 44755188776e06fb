package geocode

import (
	"context"
	"net/url"
)

// Reverse converts a lat/lng to locality, state and postal code.
func (g *geocoder) Reverse(ctx context.Context, lat, lng float64) (*Result, error) {
	res, err := g.lookup(ctx, url.Values{
		"latlng": {formatLatLng(lat, lng)},
	})
	if err != nil {
		return nil, err
	}
	if res.Matched {
		// Keep the caller's point; the API returns the matched feature's.
		res.Latitude = lat
		res.Longitude = lng
	}
	return res, nil
}
