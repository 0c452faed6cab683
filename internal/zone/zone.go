// Package zone answers whether a country belongs to the regulated travel zone.
package zone

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// SchengenMembers lists the states applying the common 90/180 rule.
var SchengenMembers = []string{
	"AT", "BE", "BG", "CH", "CZ", "DE", "DK", "EE", "ES", "FI",
	"FR", "GR", "HR", "HU", "IS", "IT", "LI", "LT", "LU", "LV",
	"MT", "NL", "NO", "PL", "PT", "RO", "SE", "SI", "SK",
}

// Reference is an immutable set of member countries.
type Reference struct {
	members map[string]struct{}
}

// Schengen returns the reference for the Schengen area.
func Schengen() *Reference {
	r, err := New(SchengenMembers)
	if err != nil {
		panic(err) // the built-in list is always valid
	}
	return r
}

// New builds a Reference from country codes in any form ParseRegion accepts.
func New(codes []string) (*Reference, error) {
	r := &Reference{members: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		n, err := Normalize(c)
		if err != nil {
			return nil, err
		}
		r.members[n] = struct{}{}
	}
	return r, nil
}

// Normalize converts an ISO 3166 alpha-2, alpha-3 or UN M.49 numeric code
// to its canonical alpha-2 form.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty country code")
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return "", fmt.Errorf("unknown country code %q: %w", code, err)
	}
	region = region.Canonicalize()
	if !region.IsCountry() {
		return "", fmt.Errorf("%q is not a country", code)
	}
	return region.String(), nil
}

// Contains reports whether code is a member. Unknown or malformed codes are
// never members.
func (r *Reference) Contains(code string) bool {
	n, err := Normalize(code)
	if err != nil {
		return false
	}
	_, ok := r.members[n]
	return ok
}

// Members returns the member codes in sorted order.
func (r *Reference) Members() []string {
	out := make([]string, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
