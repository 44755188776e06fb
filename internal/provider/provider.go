// Package provider defines the contract every external lead source
// implements and a registry that runs them behind circuit breakers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/quota"
)

// Query is what the orchestrator asks every provider for.
type Query struct {
	// Location is the location text as the user wrote it.
	Location string
	// Center is the resolved location. Zero when resolution was skipped.
	Center model.NormalizedLocation
	// DynamicFilter is the qualifier before " in " in the user's text.
	DynamicFilter string
	RadiusMiles   float64
	MaxResults    int
}

// Provider is an external lead source.
type Provider interface {
	Name() model.DataSource
	// Search returns candidates in discovery order, at most q.MaxResults
	// when positive. It fails only when nothing could be fetched; bad
	// individual items are skipped.
	Search(ctx context.Context, q Query) ([]model.CandidateLead, error)
}

// ExternalProviderError reports that a provider failed as a whole.
type ExternalProviderError struct {
	Source  model.DataSource
	Message string
	Err     error
}

func (e *ExternalProviderError) Error() string {
	return e.Message
}

func (e *ExternalProviderError) Unwrap() error {
	return e.Err
}

// Fail wraps err as an ExternalProviderError for src. Quota errors keep
// their own message. An ExternalProviderError is returned unchanged.
func Fail(src model.DataSource, err error) error {
	if err == nil {
		return nil
	}
	var epe *ExternalProviderError
	if errors.As(err, &epe) {
		return err
	}
	msg := err.Error()
	var qe *quota.ExceededError
	if errors.As(err, &qe) {
		msg = qe.Error()
	}
	return &ExternalProviderError{Source: src, Message: msg, Err: err}
}

// Failf builds an ExternalProviderError from a format string.
func Failf(src model.DataSource, format string, args ...any) error {
	return &ExternalProviderError{Source: src, Message: fmt.Sprintf(format, args...)}
}

// Cap truncates leads to max when max is positive.
func Cap(leads []model.CandidateLead, max int) []model.CandidateLead {
	if max > 0 && len(leads) > max {
		return leads[:max]
	}
	return leads
}

// SplitName splits "First Middle Last" into "First" and "Middle Last".
func SplitName(full string) (first, last string) {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
