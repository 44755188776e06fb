package model

// DataSource names where a lead came from. Values match the keys used in
// search responses.
type DataSource string

const (
	SourceDB           DataSource = "db"
	SourceRapidAPI     DataSource = "rapidapi"
	SourceGooglePlaces DataSource = "google_places"
	SourceGPT          DataSource = "gpt"
)

// ExternalSources lists every external provider in dispatch order.
var ExternalSources = []DataSource{SourceRapidAPI, SourceGooglePlaces, SourceGPT}

// IsLLM reports whether the source is the LLM web-search provider, which
// always runs in the background.
func (s DataSource) IsLLM() bool {
	return s == SourceGPT
}

// Valid reports whether s is a known source.
func (s DataSource) Valid() bool {
	switch s {
	case SourceDB, SourceRapidAPI, SourceGooglePlaces, SourceGPT:
		return true
	default:
		return false
	}
}
