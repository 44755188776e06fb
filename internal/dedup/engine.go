// Package dedup persists provider candidates as new leads, skipping any
// candidate that matches a known contact or lead.
package dedup

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
	"github.com/zalahq/leadscout/internal/store"
)

// Match identifies which rule flagged a candidate as already known.
type Match string

const (
	MatchNone            Match = ""
	MatchEmail           Match = "email"
	MatchPhone           Match = "phone"
	MatchBusinessAddress Match = "business_address"
	MatchConflict        Match = "unique_conflict"
)

// Engine applies the lookup order email > phone > business+address and
// inserts contact, address and lead for unmatched candidates. Each candidate
// runs in its own transaction so one failure never affects the others.
type Engine struct {
	store     store.Store
	createdBy string
	log       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCreatedBy stamps every inserted lead with the given creator.
func WithCreatedBy(who string) Option {
	return func(e *Engine) { e.createdBy = who }
}

// NewEngine creates an Engine over st.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{store: st, log: zap.L().With(zap.String("component", "dedup"))}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Persist stores every candidate that is not already known and reports the
// outcome counts. It never returns an error: failures are counted.
func (e *Engine) Persist(ctx context.Context, candidates []model.CandidateLead) model.PersistStats {
	var stats model.PersistStats
	for i := range candidates {
		match, err := e.persistOne(ctx, &candidates[i])
		switch {
		case err != nil:
			stats.Failed++
			e.log.Warn("dedup: persist candidate failed",
				zap.Int("index", i),
				zap.String("source", string(candidates[i].Source)),
				zap.Error(err),
			)
		case match != MatchNone:
			stats.Duplicates++
			e.log.Debug("dedup: duplicate candidate",
				zap.Int("index", i),
				zap.String("match", string(match)),
			)
		default:
			stats.Inserted++
		}
	}
	e.log.Info("dedup: batch persisted",
		zap.Int("candidates", len(candidates)),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failed", stats.Failed),
	)
	return stats
}

func (e *Engine) persistOne(ctx context.Context, c *model.CandidateLead) (Match, error) {
	match := MatchNone
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		m, err := findExisting(ctx, tx, c)
		if err != nil {
			return err
		}
		if m != MatchNone {
			match = m
			return nil
		}
		return e.insert(ctx, tx, c)
	})
	if eris.Is(err, store.ErrUniqueViolation) {
		return MatchConflict, nil
	}
	if err != nil {
		return MatchNone, err
	}
	return match, nil
}

func findExisting(ctx context.Context, tx store.Tx, c *model.CandidateLead) (Match, error) {
	if email := normalizeEmail(c.Contact.Email); email != "" {
		ok, err := tx.ContactEmailExists(ctx, email)
		if err != nil {
			return MatchNone, err
		}
		if ok {
			return MatchEmail, nil
		}
	}

	if digits := store.DigitsOnly(c.Contact.Phone); digits != "" {
		ok, err := tx.ContactPhoneExists(ctx, digits)
		if err != nil {
			return MatchNone, err
		}
		if ok {
			return MatchPhone, nil
		}
	}

	business := strings.TrimSpace(c.Business)
	addr := addressFields(c)
	if business != "" && addr != nil {
		ok, err := tx.LeadBusinessAddressExists(ctx, store.BusinessAddressKey{
			Business: business,
			Street1:  addr.Street1,
			City:     addr.City,
			State:    addr.State,
		})
		if err != nil {
			return MatchNone, err
		}
		if ok {
			return MatchBusinessAddress, nil
		}
	}
	return MatchNone, nil
}

func (e *Engine) insert(ctx context.Context, tx store.Tx, c *model.CandidateLead) error {
	lead := &model.Lead{
		PersonType: optional(c.PersonType),
		Business:   optional(c.Business),
		Website:    optional(c.Website),
		LicenseNum: optional(c.LicenseNum),
		Notes:      optional(c.Notes),
		CreatedBy:  optional(e.createdBy),
	}

	if contact := newContact(c); contact != nil {
		id, err := tx.InsertContact(ctx, contact)
		if err != nil {
			return eris.Wrap(err, "dedup: insert contact")
		}
		lead.ContactID = &id
	}

	if addr := newAddress(c); addr != nil {
		id, err := tx.InsertAddress(ctx, addr)
		if err != nil {
			return eris.Wrap(err, "dedup: insert address")
		}
		lead.AddressID = &id
	}

	if _, err := tx.InsertLead(ctx, lead); err != nil {
		return eris.Wrap(err, "dedup: insert lead")
	}
	return nil
}

// newContact returns nil when the candidate carries no contact data.
func newContact(c *model.CandidateLead) *model.Contact {
	cc := c.Contact
	if !cc.HasData() {
		return nil
	}
	first := firstNonBlank(cc.FirstName, cc.LastName, c.Business, "Unknown")
	return &model.Contact{
		FirstName: first,
		LastName:  optional(cc.LastName),
		Email:     optional(cc.Email),
		Phone:     optional(cc.Phone),
	}
}

// newAddress returns nil when the candidate carries no address data.
// Required columns fall back to placeholders.
func newAddress(c *model.CandidateLead) *model.Address {
	a := addressFields(c)
	if a == nil {
		return nil
	}
	street1 := firstNonBlank(a.Street1, a.City, c.Business, "Unknown")
	return &model.Address{
		Street1: street1,
		Street2: optional(a.Street2),
		City:    firstNonBlank(a.City, street1, "Unknown"),
		State:   firstNonBlank(a.State, "NA"),
		Zipcode: firstNonBlank(a.Zipcode, "00000"),
		Lat:     a.Lat,
		Long:    a.Long,
	}
}

// addressFields returns the structured view of the candidate address. A
// text-only address is split with geo.ParseAddress; when that yields no
// street the whole text stands in for both street and city.
func addressFields(c *model.CandidateLead) *model.CandidateAddress {
	a := c.Address
	if a.IsEmpty() {
		return nil
	}
	if a.IsStructured() || strings.TrimSpace(a.Text) == "" {
		return a
	}

	text := strings.TrimSpace(a.Text)
	parsed := geo.ParseAddress(text)
	out := &model.CandidateAddress{Lat: a.Lat, Long: a.Long}
	if parsed.Street != "" {
		out.Street1 = parsed.Street
		out.City = parsed.City
		out.State = parsed.State
		out.Zipcode = parsed.Zip
		return out
	}
	out.Street1 = text
	out.City = text
	return out
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
