package mrz

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document holds the printable data of a travel document.
type Document struct {
	DocumentCode   string    `json:"document_code"`
	IssuingState   string    `json:"issuing_state"`
	Surname        string    `json:"surname"`
	GivenNames     []string  `json:"given_names"`
	DocumentNumber string    `json:"document_number"`
	Nationality    string    `json:"nationality"`
	BirthDate      time.Time `json:"birth_date"`
	Sex            string    `json:"sex"`
	ExpiryDate     time.Time `json:"expiry_date"`
	OptionalData   string    `json:"optional_data"`
	OptionalData2  string    `json:"optional_data2"`
}

const dateLayout = "060102"

// ligatures that do not decompose into a base letter plus marks
var ligatures = strings.NewReplacer(
	"ß", "SS",
	"Æ", "AE", "æ", "AE",
	"Ø", "OE", "ø", "OE",
	"Œ", "OE", "œ", "OE",
	"Þ", "TH", "þ", "TH",
	"Đ", "D", "đ", "D",
	"Ł", "L", "ł", "L",
)

// Transliterate maps free text to the MRZ character set: diacritics are
// dropped, letters upper-cased and everything else becomes a filler.
func Transliterate(s string) string {
	s = ligatures.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToUpper(stripped)

	var b strings.Builder
	for _, r := range stripped {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(Filler)
		}
	}
	return b.String()
}

// Compose renders doc in format f with all check digits filled in.
// Names that do not fit are truncated; any other value that does not
// fit is an error.
func Compose(f *Format, doc Document) ([]string, error) {
	lines := make([][]byte, f.Lines)
	for i := range lines {
		lines[i] = []byte(strings.Repeat(string(Filler), f.Width))
	}

	number := Transliterate(doc.DocumentNumber)
	optional := Transliterate(doc.OptionalData)
	long := false
	if len(number) > 9 && f.longDocumentNumber {
		check, err := ComputeCheckDigit(number)
		if err != nil {
			return nil, err
		}
		optional = number[9:] + string(check) + "<" + optional
		number = number[:9]
		long = true
	}

	values := map[string]string{
		FieldDocumentCode:   Transliterate(doc.DocumentCode),
		FieldIssuingState:   Transliterate(doc.IssuingState),
		FieldName:           composeName(doc.Surname, doc.GivenNames),
		FieldDocumentNumber: number,
		FieldNationality:    Transliterate(doc.Nationality),
		FieldBirthDate:      formatDate(doc.BirthDate),
		FieldSex:            Transliterate(doc.Sex),
		FieldExpiryDate:     formatDate(doc.ExpiryDate),
		FieldOptionalData:   optional,
		FieldOptionalData2:  Transliterate(doc.OptionalData2),
	}

	for _, d := range f.Fields {
		if d.Type == CheckDigit {
			continue
		}
		v := values[d.Name]
		if len(v) > d.Length {
			if d.Type != Composite {
				return nil, fmt.Errorf("%s %q does not fit in %d characters", d.Name, v, d.Length)
			}
			v = v[:d.Length]
		}
		copy(lines[d.Line][d.Start:], v)
	}

	// check digits are listed after the data they cover
	for _, d := range f.Fields {
		if d.Type != CheckDigit {
			continue
		}
		if long && d.Name == FieldDocumentNumberCheck {
			continue
		}
		data := joinSpans(lines, d.Covers)
		if d.FillerAllowed && strings.Trim(data, "<") == "" {
			continue
		}
		c, err := ComputeCheckDigit(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		lines[d.Line][d.Start] = c
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out, nil
}

func composeName(surname string, givenNames []string) string {
	name := Transliterate(strings.TrimSpace(surname))
	given := make([]string, 0, len(givenNames))
	for _, g := range givenNames {
		if g = Transliterate(strings.TrimSpace(g)); g != "" {
			given = append(given, g)
		}
	}
	if len(given) > 0 {
		name += "<<" + strings.Join(given, "<")
	}
	return name
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
