package model

// NormalizedLocation is a resolved search center.
type NormalizedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
	Zip       string  `json:"zip,omitempty"`
	Query     string  `json:"query,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// IsZero reports whether the location has not been resolved.
func (l NormalizedLocation) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}
