package store

import (
	"sort"

	"github.com/zalahq/leadscout/internal/geo"
	"github.com/zalahq/leadscout/internal/model"
)

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// leadColumns must stay in the order scanLeadRow reads them.
const leadColumns = `l.lead_id, l.person_type, l.business, l.website, l.license_num, l.notes,
	l.contact_id, l.address_id, l.created_by,
	c.contact_id, c.first_name, c.last_name, c.email, c.phone,
	a.address_id, a.street_1, a.street_2, a.city, a.state, a.zipcode, a.lat, a.long`

// propertyColumns must stay in the order scanPropertyRow reads them.
const propertyColumns = `p.property_id, p.lead_id, p.address_id, p.property_name, p.mls_number, p.notes,
	a.address_id, a.street_1, a.street_2, a.city, a.state, a.zipcode, a.lat, a.long`

type nullableAddress struct {
	ID      *int64
	Street1 *string
	Street2 *string
	City    *string
	State   *string
	Zipcode *string
	Lat     *float64
	Long    *float64
}

func (n *nullableAddress) dest() []any {
	return []any{&n.ID, &n.Street1, &n.Street2, &n.City, &n.State, &n.Zipcode, &n.Lat, &n.Long}
}

func (n *nullableAddress) toModel() *model.Address {
	if n.ID == nil {
		return nil
	}
	return &model.Address{
		ID:      *n.ID,
		Street1: deref(n.Street1),
		Street2: n.Street2,
		City:    deref(n.City),
		State:   deref(n.State),
		Zipcode: deref(n.Zipcode),
		Lat:     n.Lat,
		Long:    n.Long,
	}
}

func scanLeadRow(rs rowScanner) (model.LeadRecord, error) {
	var (
		rec       model.LeadRecord
		contactID *int64
		firstName *string
		lastName  *string
		email     *string
		phone     *string
		addr      nullableAddress
	)
	dest := []any{
		&rec.ID, &rec.PersonType, &rec.Business, &rec.Website, &rec.LicenseNum, &rec.Notes,
		&rec.ContactID, &rec.AddressID, &rec.CreatedBy,
		&contactID, &firstName, &lastName, &email, &phone,
	}
	dest = append(dest, addr.dest()...)
	if err := rs.Scan(dest...); err != nil {
		return model.LeadRecord{}, err
	}
	if contactID != nil {
		rec.Contact = &model.Contact{
			ID:        *contactID,
			FirstName: deref(firstName),
			LastName:  lastName,
			Email:     email,
			Phone:     phone,
		}
	}
	rec.Address = addr.toModel()
	rec.Properties = []model.Property{}
	return rec, nil
}

func scanPropertyRow(rs rowScanner) (model.Property, error) {
	var (
		p    model.Property
		addr nullableAddress
	)
	dest := []any{&p.ID, &p.LeadID, &p.AddressID, &p.PropertyName, &p.MLSNumber, &p.Notes}
	dest = append(dest, addr.dest()...)
	if err := rs.Scan(dest...); err != nil {
		return model.Property{}, err
	}
	p.Address = addr.toModel()
	return p, nil
}

// rankNearby attaches properties, computes the best distance per lead over
// its own address and its property addresses, drops leads outside the radius
// or without any coordinates, and sorts by distance.
func rankNearby(leads []model.LeadRecord, props []model.Property, lat, lon, radiusMiles float64) []model.LeadRecord {
	byLead := make(map[int64][]model.Property)
	for _, p := range props {
		if p.LeadID == nil {
			continue
		}
		byLead[*p.LeadID] = append(byLead[*p.LeadID], p)
	}

	out := make([]model.LeadRecord, 0, len(leads))
	for _, rec := range leads {
		if ps, ok := byLead[rec.ID]; ok {
			rec.Properties = ps
		}

		best := -1.0
		consider := func(a *model.Address) {
			if !a.HasCoordinates() {
				return
			}
			d := geo.Haversine(lat, lon, *a.Lat, *a.Long)
			if best < 0 || d < best {
				best = d
			}
		}
		consider(rec.Address)
		for i := range rec.Properties {
			consider(rec.Properties[i].Address)
		}

		if best < 0 || !geo.WithinRadius(best, radiusMiles) {
			continue
		}
		d := geo.RoundMiles(best)
		rec.DistanceMiles = &d
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].DistanceMiles != *out[j].DistanceMiles {
			return *out[i].DistanceMiles < *out[j].DistanceMiles
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
