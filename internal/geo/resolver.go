package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/pkg/geocode"
)

// Location resolution messages surfaced to API callers.
const (
	MsgNoLocation     = "No valid location input provided"
	MsgGeocodeFailed  = "Geocoding failed"
	sourceZip         = "zip"
	sourceText        = "text"
	sourceCoordinates = "coordinates"
)

// LocationResolutionError reports input that could not be turned into
// coordinates.
type LocationResolutionError struct {
	Query   string
	Message string
	Err     error
}

func (e *LocationResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LocationResolutionError) Unwrap() error {
	return e.Err
}

type resolved struct {
	loc *model.NormalizedLocation
	err error
}

// Resolver geocodes location text and memoizes every answer, including
// failures, for its own lifetime. Context cancellation is never memoized.
// Create one per search request.
type Resolver struct {
	client geocode.Client

	mu      sync.Mutex
	forward map[string]resolved
	reverse map[string]resolved
	group   singleflight.Group
}

// NewResolver creates a Resolver with an empty memo.
func NewResolver(client geocode.Client) *Resolver {
	return &Resolver{
		client:  client,
		forward: make(map[string]resolved),
		reverse: make(map[string]resolved),
	}
}

// Resolve turns free text or a 5-digit zip into a NormalizedLocation.
func (r *Resolver) Resolve(ctx context.Context, query string) (*model.NormalizedLocation, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, &LocationResolutionError{Query: query, Message: MsgNoLocation}
	}
	return r.memo(ctx, r.forward, "f:"+q, q, func() (*model.NormalizedLocation, error) {
		return r.lookup(ctx, q)
	})
}

// Reverse resolves coordinates to locality, state and zip.
func (r *Resolver) Reverse(ctx context.Context, lat, lng float64) (*model.NormalizedLocation, error) {
	key := fmt.Sprintf("%.6f,%.6f", lat, lng)
	return r.memo(ctx, r.reverse, "r:"+key, key, func() (*model.NormalizedLocation, error) {
		res, err := r.client.Reverse(ctx, lat, lng)
		if err != nil {
			return nil, &LocationResolutionError{Query: key, Message: MsgGeocodeFailed, Err: err}
		}
		if !res.Matched {
			return nil, &LocationResolutionError{Query: key, Message: MsgGeocodeFailed}
		}
		return toLocation(res, key, sourceCoordinates), nil
	})
}

func (r *Resolver) memo(ctx context.Context, cache map[string]resolved, flightKey, key string, fn func() (*model.NormalizedLocation, error)) (*model.NormalizedLocation, error) {
	r.mu.Lock()
	if hit, ok := cache[key]; ok {
		r.mu.Unlock()
		return copyLocation(hit.loc), hit.err
	}
	r.mu.Unlock()

	res := r.flight(cache, flightKey, key, fn)
	// A shared flight may have been cancelled by the caller that started it.
	if isContextErr(res.err) && ctx.Err() == nil {
		res = r.flight(cache, flightKey, key, fn)
	}
	return copyLocation(res.loc), res.err
}

func (r *Resolver) flight(cache map[string]resolved, flightKey, key string, fn func() (*model.NormalizedLocation, error)) resolved {
	v, _, _ := r.group.Do(flightKey, func() (any, error) {
		loc, err := fn()
		if isContextErr(err) {
			r.group.Forget(flightKey)
			return resolved{loc: loc, err: err}, nil
		}
		r.mu.Lock()
		cache[key] = resolved{loc: loc, err: err}
		r.mu.Unlock()
		return resolved{loc: loc, err: err}, nil
	})
	return v.(resolved)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) lookup(ctx context.Context, q string) (*model.NormalizedLocation, error) {
	var (
		res    *geocode.Result
		err    error
		source = sourceText
	)
	if IsZip(q) {
		source = sourceZip
		res, err = r.client.GeocodeZip(ctx, q)
	} else {
		res, err = r.client.Geocode(ctx, q)
	}
	if err != nil {
		zap.L().Warn("geo: geocode failed", zap.String("query", q), zap.Error(err))
		return nil, &LocationResolutionError{Query: q, Message: MsgGeocodeFailed, Err: err}
	}
	if !res.Matched {
		zap.L().Debug("geo: geocode no match", zap.String("query", q), zap.String("status", res.Status))
		return nil, &LocationResolutionError{Query: q, Message: MsgGeocodeFailed}
	}
	return toLocation(res, q, source), nil
}

func toLocation(res *geocode.Result, q, source string) *model.NormalizedLocation {
	return &model.NormalizedLocation{
		Latitude:  res.Latitude,
		Longitude: res.Longitude,
		City:      res.City,
		State:     res.State,
		Zip:       res.ZipCode,
		Query:     q,
		Source:    source,
	}
}

func copyLocation(l *model.NormalizedLocation) *model.NormalizedLocation {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
