package mrz

import (
	"fmt"
	"strconv"
	"time"
)

// Date is a decoded YYMMDD field with its century resolved.
type Date struct {
	Raw   string
	Year  int
	Month time.Month
	Day   int
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return d.Time().Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(d.String())), nil
}

// ParseDate decodes a six digit YYMMDD string. Passports store only two
// digits of the year, so the century is chosen relative to now by rule.
func ParseDate(raw string, rule CenturyRule, now time.Time) (Date, error) {
	if len(raw) != 6 {
		return Date{}, fmt.Errorf("invalid date format: %s", raw)
	}
	for i := 0; i < 6; i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return Date{}, fmt.Errorf("invalid date format: %s", raw)
		}
	}
	yy, _ := strconv.Atoi(raw[0:2])
	mm, _ := strconv.Atoi(raw[2:4])
	dd, _ := strconv.Atoi(raw[4:6])

	year := resolveCentury(yy, rule, now)
	t := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != mm || t.Day() != dd {
		return Date{}, fmt.Errorf("error parsing date: %s is not a calendar date", raw)
	}
	return Date{Raw: raw, Year: year, Month: time.Month(mm), Day: dd}, nil
}

func resolveCentury(yy int, rule CenturyRule, now time.Time) int {
	century := now.Year() / 100 * 100
	year := century + yy
	switch rule {
	case Nearest:
		// within fifty years either side of now
		if year-now.Year() > 50 {
			year -= 100
		} else if now.Year()-year > 50 {
			year += 100
		}
	default:
		if year > now.Year() {
			year -= 100
		}
	}
	return year
}
