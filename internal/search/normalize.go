package search

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
)

// geocodeConcurrency bounds candidate address lookups per provider batch.
const geocodeConcurrency = 5

// locator is the part of geo.Resolver the normalizer needs.
type locator interface {
	Resolve(ctx context.Context, query string) (*model.NormalizedLocation, error)
	Reverse(ctx context.Context, lat, lng float64) (*model.NormalizedLocation, error)
}

// normalizeCandidates geocodes candidate addresses, fills missing
// city/state/zip from coordinates, attaches distances from center, drops
// candidates outside the radius, sorts by distance with unknown distances
// last and caps the result. Candidates that cannot be located are kept
// with a nil distance.
func normalizeCandidates(ctx context.Context, loc locator, center model.NormalizedLocation, radiusMiles float64, max int, leads []model.CandidateLead) []model.CandidateLead {
	var g errgroup.Group
	g.SetLimit(geocodeConcurrency)
	for i := range leads {
		c := &leads[i]
		g.Go(func() error {
			locate(ctx, loc, c)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.CandidateLead, 0, len(leads))
	for _, c := range leads {
		c.DistanceMiles = nil
		if c.Address.HasCoordinates() {
			d := geo.Haversine(center.Latitude, center.Longitude, *c.Address.Lat, *c.Address.Long)
			if !geo.WithinRadius(d, radiusMiles) {
				continue
			}
			d = geo.RoundMiles(d)
			c.DistanceMiles = &d
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessDistance(out[i].DistanceMiles, out[j].DistanceMiles)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// locate fills coordinates and locality on c. A text-only address is split
// into parts first; blanks are then taken from the forward geocode and,
// failing that, from a reverse lookup of the coordinates. The address is
// copied before writing so provider data is never mutated in place.
func locate(ctx context.Context, loc locator, c *model.CandidateLead) {
	var addr model.CandidateAddress
	if c.Address != nil {
		addr = *c.Address
	}
	key := addr.OneLine()
	if key == "" {
		key = strings.TrimSpace(c.Notes)
	}
	if !addr.IsStructured() && strings.TrimSpace(addr.Text) != "" {
		p := geo.ParseAddress(addr.Text)
		addr.Street1, addr.City, addr.State, addr.Zipcode = p.Street, p.City, p.State, p.Zip
	}

	if !addr.HasCoordinates() {
		if key == "" {
			return
		}
		res, err := loc.Resolve(ctx, key)
		if err != nil {
			return
		}
		lat, lng := res.Latitude, res.Longitude
		addr.Lat, addr.Long = &lat, &lng
		fillLocality(&addr, res)
	}

	if addr.City == "" || addr.State == "" || addr.Zipcode == "" {
		if res, err := loc.Reverse(ctx, *addr.Lat, *addr.Long); err == nil {
			fillLocality(&addr, res)
		}
	}
	c.Address = &addr
}

func fillLocality(addr *model.CandidateAddress, res *model.NormalizedLocation) {
	addr.City = firstNonBlank(addr.City, res.City)
	addr.State = firstNonBlank(addr.State, res.State)
	addr.Zipcode = firstNonBlank(addr.Zipcode, res.Zip)
}

func lessDistance(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
