package document

import (
	"strings"
	"time"
)

var euCountries = []string{
	"AUT", "BEL", "BGR", "HRV", "CYP",
	"CZE", "DNK", "EST", "FIN", "FRA",
	// Germany has D instead of the expected DEU.
	"D", "GRC", "HUN", "IRL", "ITA",
	"LVA", "LTU", "LUX", "MLT", "NLD",
	"POL", "PRT", "ROU", "SVK", "SVN",
	"ESP", "SWE",
}

func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}
	return "No"
}

func IsEuCitizen(nationality string) bool {
	nationality = strings.ToUpper(strings.Trim(nationality, "< "))
	for _, country := range euCountries {
		if nationality == country {
			return true
		}
	}
	return false
}

// isOlderThan reports whether someone born on dob has reached the given age at now.
func isOlderThan(dob, now time.Time, years int) bool {
	return !dob.After(now.AddDate(-years, 0, 0))
}
