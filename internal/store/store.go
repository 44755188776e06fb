// Package store persists contacts, addresses and leads and answers radius
// searches over them. PostgresStore is the production backend; SQLiteStore
// serves local runs and tests.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/zalahq/leadscout/internal/model"
)

// ErrUniqueViolation is returned (wrapped) by InTx when a write collides with
// a unique index, e.g. two processes inserting the same email.
var ErrUniqueViolation = errors.New("unique constraint violation")

// BusinessAddressKey identifies a lead by business name and address. Blank
// address parts are not constrained. All values are matched case-insensitively.
type BusinessAddressKey struct {
	Business string
	Street1  string
	City     string
	State    string
}

// Normalized returns the key trimmed and lower-cased.
func (k BusinessAddressKey) Normalized() BusinessAddressKey {
	return BusinessAddressKey{
		Business: normalize(k.Business),
		Street1:  normalize(k.Street1),
		City:     normalize(k.City),
		State:    normalize(k.State),
	}
}

// Tx is the set of writes and lookups the dedup engine performs inside one
// transaction.
type Tx interface {
	// ContactEmailExists matches email case-insensitively.
	ContactEmailExists(ctx context.Context, email string) (bool, error)
	// ContactPhoneExists matches the digits-only form of stored phones.
	ContactPhoneExists(ctx context.Context, digits string) (bool, error)
	// LeadBusinessAddressExists matches a lead by business and address.
	LeadBusinessAddressExists(ctx context.Context, key BusinessAddressKey) (bool, error)

	InsertContact(ctx context.Context, c *model.Contact) (int64, error)
	InsertAddress(ctx context.Context, a *model.Address) (int64, error)
	InsertLead(ctx context.Context, l *model.Lead) (int64, error)
}

// Store is the persistence interface for lead aggregation.
type Store interface {
	// InTx runs fn in one transaction. Any error rolls it back. Unique index
	// conflicts surface as ErrUniqueViolation.
	InTx(ctx context.Context, fn func(Tx) error) error

	// SearchNearby returns leads whose own address or any property address
	// lies within radiusMiles of (lat, lon). Leads without coordinates are
	// never returned. Distances are rounded to two decimals.
	SearchNearby(ctx context.Context, lat, lon, radiusMiles float64) ([]model.LeadRecord, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
