// Package vertical maps free-text industry labels onto the closed set of
// verticals that templates are written for.
package vertical

import "strings"

// Vertical is a canonical industry segment.
type Vertical string

const (
	RealEstate       Vertical = "real_estate"
	NetworkMarketing Vertical = "network_marketing"
	Finance          Vertical = "finance"
	Generic          Vertical = "generic"
)

type synonymRule struct {
	vertical Vertical
	needles  []string
}

// Checked in order; the first rule with a matching needle wins.
var synonyms = []synonymRule{
	{RealEstate, []string{"immo", "makler", "real_estate", "realestate", "real estate"}},
	{NetworkMarketing, []string{"network", "mlm", "direktvertrieb"}},
	{Finance, []string{"finanz", "finance", "versicherung", "insurance"}},
}

var labels = map[Vertical]string{
	RealEstate:       "Immobilien",
	NetworkMarketing: "Network Marketing",
	Finance:          "Finanzen",
	Generic:          "Standard",
}

// Normalize never fails: empty or unrecognized input yields Generic.
func Normalize(raw string) Vertical {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Generic
	}
	for _, rule := range synonyms {
		for _, needle := range rule.needles {
			if strings.Contains(s, needle) {
				return rule.vertical
			}
		}
	}
	return Generic
}

// Label returns the human-readable German label shown to leads.
func Label(v Vertical) string {
	if l, ok := labels[v]; ok {
		return l
	}
	return labels[Generic]
}

// Parse accepts only canonical values.
func Parse(s string) (Vertical, bool) {
	v := Vertical(strings.ToLower(strings.TrimSpace(s)))
	_, ok := labels[v]
	return v, ok
}

// All lists the canonical verticals, Generic last.
func All() []Vertical {
	return []Vertical{RealEstate, NetworkMarketing, Finance, Generic}
}

func (v Vertical) String() string {
	return string(v)
}

func (v Vertical) IsGeneric() bool {
	return v == Generic
}
