package mrz

import (
	"encoding/json"
	"strings"
)

// Name is the decoded holder name: the primary identifier followed by the
// secondary identifier components in document order.
type Name struct {
	Surname    string   `json:"surname"`
	GivenNames []string `json:"given_names"`
}

// Full returns the given names followed by the surname, space separated.
func (n Name) Full() string {
	parts := append([]string{}, n.GivenNames...)
	if n.Surname != "" {
		parts = append(parts, n.Surname)
	}
	return strings.Join(parts, " ")
}

func (n Name) MarshalJSON() ([]byte, error) {
	type name Name
	out := name(n)
	if out.GivenNames == nil {
		out.GivenNames = []string{}
	}
	return json.Marshal(out)
}

// parseName splits a name field on the double filler separating primary
// and secondary identifiers. Single fillers separate name components.
func parseName(field string) Name {
	primary, secondary, _ := strings.Cut(strings.TrimRight(field, "<"), "<<")
	name := Name{Surname: strings.Join(nameComponents(primary), " ")}
	name.GivenNames = nameComponents(secondary)
	return name
}

func nameComponents(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "<") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
