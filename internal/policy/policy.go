package policy

import (
	"fmt"
	"strings"
)

// Document is an ordered access-policy document. Grant lines
// ("g, <principal>, role:<role>") are keyed by principal; any other lines
// are preserved untouched, in place.
type Document struct {
	lines []string
}

// Parse builds a Document from the raw policy.csv payload.
func Parse(raw string) *Document {
	doc := &Document{}
	if raw == "" {
		return doc
	}
	doc.lines = strings.Split(raw, "\n")
	return doc
}

// principalOf extracts the principal from a grant line, or "" for any other
// line.
func principalOf(line string) string {
	fields := strings.SplitN(line, ",", 3)
	if len(fields) != 3 || strings.TrimSpace(fields[0]) != "g" {
		return ""
	}
	return strings.TrimSpace(fields[1])
}

// UpsertGrant removes any existing grant for principal and appends exactly
// one new grant line. Applying the same grant twice, or a different role for
// the same principal, always leaves a single line for that principal.
func (d *Document) UpsertGrant(principal, role string) {
	d.RemoveGrant(principal)
	d.lines = append(d.lines, fmt.Sprintf("g, %s, role:%s", principal, role))
}

// RemoveGrant drops the grant lines for principal; absence is not an error.
func (d *Document) RemoveGrant(principal string) {
	kept := d.lines[:0]
	for _, line := range d.lines {
		if principalOf(line) == principal {
			continue
		}
		kept = append(kept, line)
	}
	d.lines = kept
}

// Grants returns the principal -> role mapping of the document.
func (d *Document) Grants() map[string]string {
	grants := map[string]string{}
	for _, line := range d.lines {
		p := principalOf(line)
		if p == "" {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		grants[p] = strings.TrimPrefix(strings.TrimSpace(fields[2]), "role:")
	}
	return grants
}

func (d *Document) String() string {
	return strings.Join(d.lines, "\n")
}
