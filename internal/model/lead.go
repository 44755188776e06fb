package model

// Contact is a stored person record. Email and phone are unique when present.
type Contact struct {
	ID        int64   `json:"contact_id"`
	FirstName string  `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
}

// Address is a stored postal address with optional coordinates.
type Address struct {
	ID      int64    `json:"address_id"`
	Street1 string   `json:"street_1"`
	Street2 *string  `json:"street_2"`
	City    string   `json:"city"`
	State   string   `json:"state"`
	Zipcode string   `json:"zipcode"`
	Lat     *float64 `json:"lat"`
	Long    *float64 `json:"long"`
}

// HasCoordinates reports whether both coordinates are set.
func (a *Address) HasCoordinates() bool {
	return a != nil && a.Lat != nil && a.Long != nil
}

// Lead links a contact and an address to business metadata.
type Lead struct {
	ID         int64   `json:"lead_id"`
	PersonType *string `json:"person_type"`
	Business   *string `json:"business"`
	Website    *string `json:"website"`
	LicenseNum *string `json:"license_num"`
	Notes      *string `json:"notes"`
	ContactID  *int64  `json:"contact_id"`
	AddressID  *int64  `json:"address_id"`
	CreatedBy  *string `json:"created_by"`
}

// Property is a listing attached to a lead. Only read here, for distance.
type Property struct {
	ID           int64    `json:"property_id"`
	LeadID       *int64   `json:"lead_id"`
	AddressID    *int64   `json:"address_id"`
	PropertyName *string  `json:"property_name"`
	MLSNumber    *string  `json:"mls_number"`
	Notes        *string  `json:"notes"`
	Address      *Address `json:"address"`
}

// LeadRecord is the read model returned by searches: a lead with its
// contact, address, properties and distance from the search center.
type LeadRecord struct {
	Lead
	Contact       *Contact   `json:"contact"`
	Address       *Address   `json:"address"`
	Properties    []Property `json:"properties"`
	DistanceMiles *float64   `json:"distance_miles"`
}

// ProviderUsage is the persisted monthly call counter of one provider.
type ProviderUsage struct {
	Provider string `json:"provider" yaml:"provider"`
	Period   string `json:"period" yaml:"period"`
	Count    int    `json:"count" yaml:"count"`
}

// PersistStats summarizes one persistence batch.
type PersistStats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// Add accumulates o into s.
func (s *PersistStats) Add(o PersistStats) {
	s.Inserted += o.Inserted
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
}
