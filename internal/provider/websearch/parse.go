package websearch

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/zalahq/leadscout/internal/model"
)

const (
	personType    = "agent"
	defaultRegion = "US"
)

var bareKeyRe = regexp.MustCompile(`([\{,]\s*)(\w+)(\s*):`)

// SkipDiagnostic records why one element of the model's array was dropped.
type SkipDiagnostic struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ParseLeads decodes the model's final answer into candidates. Only an
// answer that is not a JSON array (even after repair) is an error; bad
// elements are skipped and reported.
func ParseLeads(text string) ([]model.CandidateLead, []SkipDiagnostic, error) {
	body := extractArray(text)
	if body == "" {
		return nil, nil, eris.New("websearch: response contains no JSON array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		repaired := bareKeyRe.ReplaceAllString(body, `${1}"${2}"${3}:`)
		if err2 := json.Unmarshal([]byte(repaired), &items); err2 != nil {
			return nil, nil, eris.Wrap(err2, "websearch: parse response")
		}
	}

	var (
		leads []model.CandidateLead
		skips []SkipDiagnostic
	)
	for i, raw := range items {
		lead, err := parseLeadRecord(raw)
		if err != nil {
			skips = append(skips, SkipDiagnostic{Index: i, Reason: err.Error()})
			continue
		}
		leads = append(leads, lead)
	}
	return leads, skips, nil
}

// extractArray strips code fences and surrounding prose, returning the
// outermost [...] span.
func extractArray(text string) string {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

type rawRecord map[string]any

func (r rawRecord) str(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
	return strings.TrimSpace(norm.NFKC.String(s))
}

func parseLeadRecord(raw json.RawMessage) (model.CandidateLead, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.CandidateLead{}, eris.New("not a JSON object")
	}

	first := rec.str("firstName")
	last := rec.str("lastName")
	email := strings.ToLower(rec.str("email"))
	switch {
	case first == "":
		return model.CandidateLead{}, eris.New("missing firstName")
	case last == "":
		return model.CandidateLead{}, eris.New("missing lastName")
	case email == "":
		return model.CandidateLead{}, eris.New("missing email")
	case !strings.Contains(email, "@"):
		return model.CandidateLead{}, eris.Errorf("invalid email %q", email)
	}

	lead := model.CandidateLead{
		PersonType: personType,
		Business:   rec.str("businessName"),
		Website:    rec.str("website"),
		LicenseNum: rec.str("licenseNum"),
		Contact: model.CandidateContact{
			FirstName: first,
			LastName:  last,
			Email:     email,
			Phone:     normalizePhone(rec.str("phoneNumber")),
		},
		Source: model.SourceGPT,
	}
	lead.Address = rec.address()
	return lead, nil
}

// first returns the first non-empty value among keys.
func (r rawRecord) first(keys ...string) string {
	for _, k := range keys {
		if v := r.str(k); v != "" {
			return v
		}
	}
	return ""
}

// address accepts either free text or an object such as
// {"street":..,"city":..,"state":..,"zip":..}.
func (r rawRecord) address() *model.CandidateAddress {
	switch v := r["address"].(type) {
	case string:
		if text := r.str("address"); text != "" {
			return &model.CandidateAddress{Text: text}
		}
	case map[string]any:
		obj := rawRecord(v)
		addr := &model.CandidateAddress{
			Street1: obj.first("street", "street1", "street_1", "line1", "address"),
			Street2: obj.first("street2", "street_2", "line2"),
			City:    obj.first("city"),
			State:   obj.first("state"),
			Zipcode: obj.first("zip", "zipcode", "zipCode", "postalCode"),
		}
		if addr.IsStructured() {
			return addr
		}
	}
	return nil
}

// normalizePhone returns the national format of a valid number, or "" when
// the model produced something that is not a phone number.
func normalizePhone(s string) string {
	if s == "" {
		return ""
	}
	num, err := phonenumbers.Parse(s, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}
