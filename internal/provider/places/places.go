// Package places finds real-estate agencies with the Google Places API
// and enriches each hit with its phone number and website.
package places

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/provider"
	"github.com/zalahq/leadscout/internal/quota"
	"github.com/zalahq/leadscout/pkg/geocode"
	"github.com/zalahq/leadscout/pkg/google"
)

// Quota keys.
const (
	SearchQuotaKey  = "google_places"
	DetailsQuotaKey = "google_places_details"
)

// Defaults.
const (
	DefaultMonthlyLimit        = 1000
	DefaultDetailsMonthlyLimit = 5000
	DefaultMaxPages            = 3
	DefaultPageSize            = 20
	DefaultEnrichConcurrency   = 8
	DefaultPageTokenDelay      = 2 * time.Second
	DefaultRadiusMiles         = 50

	includedType  = "real_estate_agency"
	metersPerMile = 1609.344
)

// Config tunes paging, enrichment and quota. A zero PageTokenDelay reuses
// continuation tokens immediately.
type Config struct {
	MonthlyLimit        int
	DetailsMonthlyLimit int
	MaxPages            int
	PageSize            int
	EnrichConcurrency   int
	PageTokenDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MonthlyLimit <= 0 {
		c.MonthlyLimit = DefaultMonthlyLimit
	}
	if c.DetailsMonthlyLimit <= 0 {
		c.DetailsMonthlyLimit = DefaultDetailsMonthlyLimit
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = DefaultEnrichConcurrency
	}
	return c
}

// Adapter implements provider.Provider over Google Places.
type Adapter struct {
	places   google.Client
	geocoder geocode.Client
	quota    quota.Reserver
	cfg      Config
	log      *zap.Logger
}

// New creates the places adapter. geocoder is only used when a query
// arrives without a resolved center.
func New(places google.Client, geocoder geocode.Client, q quota.Reserver, cfg Config) *Adapter {
	return &Adapter{
		places:   places,
		geocoder: geocoder,
		quota:    q,
		cfg:      cfg.withDefaults(),
		log:      zap.L().With(zap.String("provider", string(model.SourceGooglePlaces))),
	}
}

// Name implements provider.Provider.
func (a *Adapter) Name() model.DataSource { return model.SourceGooglePlaces }

// Search runs a biased text search around the query center, follows
// continuation tokens, then enriches every hit.
func (a *Adapter) Search(ctx context.Context, q provider.Query) ([]model.CandidateLead, error) {
	location := strings.TrimSpace(q.Location)
	center, err := a.center(ctx, q)
	if err != nil {
		return nil, provider.Fail(model.SourceGooglePlaces, err)
	}

	radius := q.RadiusMiles
	if radius <= 0 {
		radius = DefaultRadiusMiles
	}
	req := google.SearchTextRequest{
		TextQuery:    "real estate agents in " + location,
		IncludedType: includedType,
		Center:       google.LatLng{Latitude: center.Latitude, Longitude: center.Longitude},
		RadiusMeters: google.ClampRadius(radius * metersPerMile),
		PageSize:     a.cfg.PageSize,
	}

	found, err := a.collect(ctx, req, q.MaxResults)
	if err != nil {
		return nil, provider.Fail(model.SourceGooglePlaces, err)
	}

	if q.MaxResults > 0 && len(found) > q.MaxResults {
		found = found[:q.MaxResults]
	}
	a.enrich(ctx, found)

	leads := make([]model.CandidateLead, 0, len(found))
	for i := range found {
		leads = append(leads, toCandidate(&found[i]))
	}
	a.log.Debug("places: search complete",
		zap.String("location", location), zap.Int("leads", len(leads)))
	return leads, nil
}

func (a *Adapter) center(ctx context.Context, q provider.Query) (model.NormalizedLocation, error) {
	if !q.Center.IsZero() {
		return q.Center, nil
	}
	if a.geocoder == nil {
		return model.NormalizedLocation{}, eris.New("places: no center and no geocoder")
	}
	loc, err := geo.NewResolver(a.geocoder).Resolve(ctx, q.Location)
	if err != nil {
		return model.NormalizedLocation{}, err
	}
	return *loc, nil
}

// collect pages through search results. The first page must succeed; a
// later failure keeps what was already found.
func (a *Adapter) collect(ctx context.Context, req google.SearchTextRequest, max int) ([]google.Place, error) {
	seen := make(map[string]struct{})
	var found []google.Place

	for page := 1; page <= a.cfg.MaxPages; page++ {
		resp, err := a.searchPage(ctx, req)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			a.log.Warn("places: page failed, keeping earlier pages", zap.Int("page", page), zap.Error(err))
			break
		}
		for _, p := range resp.Places {
			if _, dup := seen[p.ID]; dup && p.ID != "" {
				continue
			}
			seen[p.ID] = struct{}{}
			found = append(found, p)
		}
		if resp.NextPageToken == "" || (max > 0 && len(found) >= max) {
			break
		}
		if err := sleep(ctx, a.cfg.PageTokenDelay); err != nil {
			break
		}
		req.PageToken = resp.NextPageToken
	}
	return found, nil
}

func (a *Adapter) searchPage(ctx context.Context, req google.SearchTextRequest) (*google.SearchTextResponse, error) {
	if _, err := a.quota.Reserve(ctx, SearchQuotaKey, a.cfg.MonthlyLimit); err != nil {
		return nil, eris.Wrap(err, "places: reserve search")
	}
	return a.places.SearchText(ctx, req)
}

// enrich fills phone and website in place. A failed lookup leaves the
// place as found.
func (a *Adapter) enrich(ctx context.Context, found []google.Place) {
	var g errgroup.Group
	g.SetLimit(a.cfg.EnrichConcurrency)
	for i := range found {
		p := &found[i]
		if p.ID == "" {
			continue
		}
		g.Go(func() error {
			if _, err := a.quota.Reserve(ctx, DetailsQuotaKey, a.cfg.DetailsMonthlyLimit); err != nil {
				a.log.Debug("places: details not reserved", zap.String("place_id", p.ID), zap.Error(err))
				return nil
			}
			details, err := a.places.PlaceDetails(ctx, p.ID)
			if err != nil {
				a.log.Debug("places: details failed", zap.String("place_id", p.ID), zap.Error(err))
				return nil
			}
			p.NationalPhoneNumber = details.NationalPhoneNumber
			p.InternationalPhoneNumber = details.InternationalPhoneNumber
			p.WebsiteURI = details.WebsiteURI
			return nil
		})
	}
	_ = g.Wait()
}

func toCandidate(p *google.Place) model.CandidateLead {
	name := strings.TrimSpace(p.DisplayName.Text)
	first, last := provider.SplitName(name)
	lead := model.CandidateLead{
		Business: name,
		Website:  strings.TrimSpace(p.WebsiteURI),
		Contact: model.CandidateContact{
			FirstName: first,
			LastName:  last,
			Phone:     strings.TrimSpace(p.Phone()),
		},
		Source: model.SourceGooglePlaces,
	}

	parsed := geo.ParseAddress(p.FormattedAddress)
	addr := &model.CandidateAddress{
		Street1: parsed.Street,
		City:    parsed.City,
		State:   parsed.State,
		Zipcode: parsed.Zip,
	}
	if p.Location != nil {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		addr.Lat, addr.Long = &lat, &lng
	}
	if !addr.IsStructured() && p.FormattedAddress != "" {
		addr.Text = strings.TrimSpace(p.FormattedAddress)
	}
	if !addr.IsEmpty() {
		lead.Address = addr
	}
	return lead
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
