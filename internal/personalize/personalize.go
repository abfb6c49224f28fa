// Package personalize renders resolved template text for a specific lead.
//
// Only three placeholders are supported: {{name}}, {{company}} and
// {{vertical}}. Any other {{...}} token, including stray braces, is left in
// the output unchanged.
package personalize

import (
	"regexp"
	"strings"

	"followup-templates/internal/vertical"
)

// Lead carries the fields personalization reads. Zero values mean absent.
type Lead struct {
	Name     string         `json:"name,omitempty"`
	Company  string         `json:"company,omitempty"`
	Vertical string         `json:"vertical,omitempty"`
	Extra    map[string]any `json:"-"`
}

var (
	namePattern     = regexp.MustCompile(`(?i)\{\{name\}\}`)
	companyPattern  = regexp.MustCompile(`(?i)\{\{company\}\}`)
	verticalPattern = regexp.MustCompile(`(?i)\{\{vertical\}\}`)
	spaceRuns       = regexp.MustCompile(`\s{2,}`)
)

// Personalize substitutes name, company and vertical label, then collapses
// whitespace runs and trims the result.
func Personalize(content string, lead Lead) string {
	out := namePattern.ReplaceAllLiteralString(content, FirstName(lead.Name))
	out = companyPattern.ReplaceAllLiteralString(out, strings.TrimSpace(lead.Company))
	out = verticalPattern.ReplaceAllLiteralString(out, vertical.Label(vertical.Normalize(lead.Vertical)))
	out = spaceRuns.ReplaceAllLiteralString(out, " ")
	return strings.TrimSpace(out)
}

// FirstName returns the first whitespace-delimited token of a full name.
func FirstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
