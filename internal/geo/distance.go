// Package geo holds distance math, bounding boxes, address parsing and the
// per-request location resolver.
package geo

import (
	"math"

	"github.com/twpayne/go-geom"
)

// EarthRadiusMiles is the mean Earth radius used for all distances.
const EarthRadiusMiles = 3958.8

const (
	milesPerDegreeLat = 69.0
	milesPerDegreeLon = 69.172
	minDegreeDelta    = 0.0001
)

// Haversine returns the great-circle distance in miles between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

// WithinRadius reports whether distance d falls inside radius r. The
// boundary is inclusive.
func WithinRadius(d, r float64) bool {
	return d <= r
}

// BoundingBox returns a coarse lon/lat box around a point, used as a cheap
// SQL prefilter before the exact haversine check. Axis 0 is longitude and
// axis 1 is latitude.
func BoundingBox(lat, lon, radiusMiles float64) *geom.Bounds {
	latDelta := radiusMiles / milesPerDegreeLat
	cosLat := math.Cos(radians(lat))
	lonDelta := radiusMiles / math.Max(math.Abs(cosLat)*milesPerDegreeLon, minDegreeDelta)
	if latDelta < minDegreeDelta {
		latDelta = minDegreeDelta
	}
	if lonDelta < minDegreeDelta {
		lonDelta = minDegreeDelta
	}
	return geom.NewBounds(geom.XY).Set(lon-lonDelta, lat-latDelta, lon+lonDelta, lat+latDelta)
}

// RoundMiles rounds a distance to two decimal places.
func RoundMiles(d float64) float64 {
	return math.Round(d*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
