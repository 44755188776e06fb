package geo

import (
	"regexp"
	"strings"
)

var (
	zipPattern      = regexp.MustCompile(`^\d{5}$`)
	inSeparatorExpr = regexp.MustCompile(`(?i)\s+in\s+`)
)

// IsZip reports whether s is exactly a 5-digit US postal code.
func IsZip(s string) bool {
	return zipPattern.MatchString(s)
}

// ParsedAddress is a best-effort split of a one-line US address.
type ParsedAddress struct {
	Street string
	City   string
	State  string
	Zip    string
}

// ParseAddress splits "street, city, ST 12345[, country]" into parts.
// Missing parts are left empty.
func ParseAddress(addr string) ParsedAddress {
	parts := splitAddress(addr)
	if len(parts) == 0 {
		return ParsedAddress{}
	}
	if len(parts) == 1 {
		if s, z := parseStateZip(parts[0]); s != "" {
			return ParsedAddress{State: s, Zip: z}
		}
		return ParsedAddress{City: parts[0]}
	}

	// Walk from the end: the first "ST 12345" segment anchors city and street.
	for i := len(parts) - 1; i >= 0; i-- {
		s, z := parseStateZip(parts[i])
		if s == "" {
			continue
		}
		out := ParsedAddress{State: s, Zip: z}
		if i > 0 {
			out.City = parts[i-1]
		}
		if i > 1 {
			out.Street = strings.Join(parts[:i-1], ", ")
		}
		return out
	}

	out := ParsedAddress{City: parts[len(parts)-1]}
	if len(parts) >= 2 {
		out.Street = strings.Join(parts[:len(parts)-1], ", ")
	}
	return out
}

func splitAddress(addr string) []string {
	raw := make([]string, 0)
	for _, p := range strings.Split(addr, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			raw = append(raw, trimmed)
		}
	}
	return raw
}

// parseStateZip tries to parse "IL 62701" or "IL" from a string.
func parseStateZip(s string) (state, zip string) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return "", ""
	}
	candidate := fields[0]
	if len(candidate) != 2 {
		return "", ""
	}
	// Must be uppercase letters.
	if candidate[0] < 'A' || candidate[0] > 'Z' || candidate[1] < 'A' || candidate[1] > 'Z' {
		return "", ""
	}
	state = candidate
	if len(fields) == 2 {
		if !isZipCode(fields[1]) {
			return "", ""
		}
		zip = fields[1]
	}
	return state, zip
}

func isZipCode(s string) bool {
	if len(s) < 5 || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c != '-' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// SplitFreeform separates a qualifier from a location in text such as
// "luxury condo agents in Miami, FL". The last whitespace-delimited "in"
// wins. When there is no separator, or nothing follows it, the whole text
// is the location.
func SplitFreeform(text string) (filter, location string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	matches := inSeparatorExpr.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return "", text
	}
	last := matches[len(matches)-1]
	before := strings.TrimSpace(text[:last[0]])
	after := strings.TrimSpace(text[last[1]:])
	if after == "" {
		return "", text
	}
	return before, after
}
