package model

import "strings"

// CandidateContact is the contact block of a provider result.
type CandidateContact struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// HasData reports whether any contact field carries a non-blank value.
func (c CandidateContact) HasData() bool {
	return strings.TrimSpace(c.FirstName) != "" ||
		strings.TrimSpace(c.LastName) != "" ||
		strings.TrimSpace(c.Email) != "" ||
		strings.TrimSpace(c.Phone) != ""
}

// CandidateAddress is either structured (Street1..Zipcode, Lat/Long) or a
// single free-text line in Text. Providers fill whichever they have.
type CandidateAddress struct {
	Street1 string   `json:"street_1,omitempty"`
	Street2 string   `json:"street_2,omitempty"`
	City    string   `json:"city,omitempty"`
	State   string   `json:"state,omitempty"`
	Zipcode string   `json:"zipcode,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Long    *float64 `json:"long,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// HasCoordinates reports whether both coordinates are present.
func (a *CandidateAddress) HasCoordinates() bool {
	return a != nil && a.Lat != nil && a.Long != nil
}

// IsStructured reports whether any structured field is set.
func (a *CandidateAddress) IsStructured() bool {
	if a == nil {
		return false
	}
	return strings.TrimSpace(a.Street1) != "" ||
		strings.TrimSpace(a.Street2) != "" ||
		strings.TrimSpace(a.City) != "" ||
		strings.TrimSpace(a.State) != "" ||
		strings.TrimSpace(a.Zipcode) != ""
}

// IsEmpty reports whether the address carries nothing usable.
func (a *CandidateAddress) IsEmpty() bool {
	return a == nil || (!a.IsStructured() && strings.TrimSpace(a.Text) == "" && !a.HasCoordinates())
}

// OneLine renders the address as a single comma-separated line suitable for
// geocoding. Falls back to Text when no structured part is set.
func (a *CandidateAddress) OneLine() string {
	if a == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{a.Street1, a.Street2, a.City, a.State, a.Zipcode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return strings.TrimSpace(a.Text)
}

// CandidateLead is the provider-neutral shape every adapter normalizes into.
type CandidateLead struct {
	PersonType    string            `json:"person_type,omitempty"`
	Business      string            `json:"business,omitempty"`
	Website       string            `json:"website,omitempty"`
	LicenseNum    string            `json:"license_num,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Contact       CandidateContact  `json:"contact"`
	Address       *CandidateAddress `json:"address,omitempty"`
	DistanceMiles *float64          `json:"distance_miles"`
	Source        DataSource        `json:"source"`
}
