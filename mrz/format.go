package mrz

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

var ErrFormatMismatch = errors.New("lines do not match any MRZ format")

// SemanticType tells the parser how a field is corrected and decoded.
type SemanticType int

const (
	AlphaText SemanticType = iota
	Alphanumeric
	Numeric
	DateField
	Sex
	CountryCode
	CheckDigit
	Composite
)

func (t SemanticType) String() string {
	switch t {
	case AlphaText:
		return "alpha"
	case Alphanumeric:
		return "alphanumeric"
	case Numeric:
		return "numeric"
	case DateField:
		return "date"
	case Sex:
		return "sex"
	case CountryCode:
		return "country"
	case CheckDigit:
		return "check_digit"
	case Composite:
		return "name"
	default:
		return fmt.Sprintf("SemanticType(%d)", int(t))
	}
}

// CenturyRule picks the century of a two digit year.
type CenturyRule int

const (
	// NotInFuture resolves to the latest year that is not after the reference date.
	NotInFuture CenturyRule = iota
	// Nearest resolves to the year closest to the reference date.
	Nearest
)

// Span is a half-open character range [Start, End) on one line.
type Span struct {
	Line  int
	Start int
	End   int
}

type FieldDescriptor struct {
	Name   string
	Line   int
	Start  int
	Length int
	Type   SemanticType

	// Dates only.
	Century CenturyRule

	// Check digits only. Protects names the field whose validity the digit
	// decides, Covers the characters it is computed over. A FillerAllowed
	// digit may be '<' when the protected data is absent.
	Protects      string
	Covers        []Span
	FillerAllowed bool
}

func (d FieldDescriptor) End() int {
	return d.Start + d.Length
}

type Format struct {
	Name   string
	Lines  int
	Width  int
	Fields []FieldDescriptor

	visa bool
	// Document numbers longer than nine characters continue in the
	// first optional data field.
	longDocumentNumber bool
}

// Field looks up a descriptor by name.
func (f *Format) Field(name string) (FieldDescriptor, bool) {
	for _, d := range f.Fields {
		if d.Name == name {
			return d, true
		}
	}
	return FieldDescriptor{}, false
}

func (f *Format) String() string {
	return f.Name
}

const (
	FieldDocumentCode        = "documentCode"
	FieldIssuingState        = "issuingState"
	FieldName                = "name"
	FieldDocumentNumber      = "documentNumber"
	FieldDocumentNumberCheck = "documentNumberCheckDigit"
	FieldNationality         = "nationality"
	FieldBirthDate           = "birthDate"
	FieldBirthDateCheck      = "birthDateCheckDigit"
	FieldSex                 = "sex"
	FieldExpiryDate          = "expiryDate"
	FieldExpiryDateCheck     = "expiryDateCheckDigit"
	FieldOptionalData        = "optionalData"
	FieldOptionalDataCheck   = "optionalDataCheckDigit"
	FieldOptionalData2       = "optionalData2"
	FieldCompositeCheck      = "compositeCheckDigit"
)

func field(name string, line, start, length int, typ SemanticType) FieldDescriptor {
	return FieldDescriptor{Name: name, Line: line, Start: start, Length: length, Type: typ}
}

func date(name string, line, start int, rule CenturyRule) FieldDescriptor {
	return FieldDescriptor{Name: name, Line: line, Start: start, Length: 6, Type: DateField, Century: rule}
}

func check(name string, line, pos int, protects string, covers ...Span) FieldDescriptor {
	return FieldDescriptor{
		Name:     name,
		Line:     line,
		Start:    pos,
		Length:   1,
		Type:     CheckDigit,
		Protects: protects,
		Covers:   covers,
	}
}

func optionalCheck(name string, line, pos int, protects string, covers ...Span) FieldDescriptor {
	d := check(name, line, pos, protects, covers...)
	d.FillerAllowed = true
	return d
}

// twoLineHeader is the first line shared by TD2, TD3 and both visa formats.
func twoLineHeader(width int) []FieldDescriptor {
	return []FieldDescriptor{
		field(FieldDocumentCode, 0, 0, 2, AlphaText),
		field(FieldIssuingState, 0, 2, 3, CountryCode),
		field(FieldName, 0, 5, width-5, Composite),
	}
}

// twoLineData is the start of the second line shared by the two line formats.
func twoLineData() []FieldDescriptor {
	return []FieldDescriptor{
		field(FieldDocumentNumber, 1, 0, 9, Alphanumeric),
		check(FieldDocumentNumberCheck, 1, 9, FieldDocumentNumber, Span{1, 0, 9}),
		field(FieldNationality, 1, 10, 3, CountryCode),
		date(FieldBirthDate, 1, 13, NotInFuture),
		check(FieldBirthDateCheck, 1, 19, FieldBirthDate, Span{1, 13, 19}),
		field(FieldSex, 1, 20, 1, Sex),
		date(FieldExpiryDate, 1, 21, Nearest),
		check(FieldExpiryDateCheck, 1, 27, FieldExpiryDate, Span{1, 21, 27}),
	}
}

func concat(parts ...[]FieldDescriptor) []FieldDescriptor {
	var out []FieldDescriptor
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var (
	TD1 = &Format{
		Name:  "TD1",
		Lines: 3,
		Width: 30,
		Fields: []FieldDescriptor{
			field(FieldDocumentCode, 0, 0, 2, AlphaText),
			field(FieldIssuingState, 0, 2, 3, CountryCode),
			field(FieldDocumentNumber, 0, 5, 9, Alphanumeric),
			check(FieldDocumentNumberCheck, 0, 14, FieldDocumentNumber, Span{0, 5, 14}),
			field(FieldOptionalData, 0, 15, 15, Alphanumeric),
			date(FieldBirthDate, 1, 0, NotInFuture),
			check(FieldBirthDateCheck, 1, 6, FieldBirthDate, Span{1, 0, 6}),
			field(FieldSex, 1, 7, 1, Sex),
			date(FieldExpiryDate, 1, 8, Nearest),
			check(FieldExpiryDateCheck, 1, 14, FieldExpiryDate, Span{1, 8, 14}),
			field(FieldNationality, 1, 15, 3, CountryCode),
			field(FieldOptionalData2, 1, 18, 11, Alphanumeric),
			check(FieldCompositeCheck, 1, 29, "",
				Span{0, 5, 30}, Span{1, 0, 7}, Span{1, 8, 15}, Span{1, 18, 29}),
			field(FieldName, 2, 0, 30, Composite),
		},
		longDocumentNumber: true,
	}

	TD2 = &Format{
		Name:  "TD2",
		Lines: 2,
		Width: 36,
		Fields: concat(twoLineHeader(36), twoLineData(), []FieldDescriptor{
			field(FieldOptionalData, 1, 28, 7, Alphanumeric),
			check(FieldCompositeCheck, 1, 35, "",
				Span{1, 0, 10}, Span{1, 13, 20}, Span{1, 21, 35}),
		}),
		longDocumentNumber: true,
	}

	TD3 = &Format{
		Name:  "TD3",
		Lines: 2,
		Width: 44,
		Fields: concat(twoLineHeader(44), twoLineData(), []FieldDescriptor{
			field(FieldOptionalData, 1, 28, 14, Alphanumeric),
			optionalCheck(FieldOptionalDataCheck, 1, 42, FieldOptionalData, Span{1, 28, 42}),
			check(FieldCompositeCheck, 1, 43, "",
				Span{1, 0, 10}, Span{1, 13, 20}, Span{1, 21, 43}),
		}),
	}

	MRVA = &Format{
		Name:  "MRVA",
		Lines: 2,
		Width: 44,
		Fields: concat(twoLineHeader(44), twoLineData(), []FieldDescriptor{
			field(FieldOptionalData, 1, 28, 16, Alphanumeric),
		}),
		visa: true,
	}

	MRVB = &Format{
		Name:  "MRVB",
		Lines: 2,
		Width: 36,
		Fields: concat(twoLineHeader(36), twoLineData(), []FieldDescriptor{
			field(FieldOptionalData, 1, 28, 8, Alphanumeric),
		}),
		visa: true,
	}
)

// Formats lists every supported layout in detection order.
var Formats = []*Format{TD1, TD2, TD3, MRVA, MRVB}

// FormatByName returns the format with the given name, case sensitive.
func FormatByName(name string) (*Format, bool) {
	for _, f := range Formats {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// DetectFormat matches the line count and width exactly. Visa formats share
// their geometry with TD2 and TD3 and are told apart by a leading 'V'.
func DetectFormat(lines []string) (*Format, error) {
	if len(lines) == 0 {
		return nil, ErrFormatMismatch
	}
	width := utf8.RuneCountInString(lines[0])
	if width == 0 {
		return nil, ErrFormatMismatch
	}
	for _, l := range lines[1:] {
		if utf8.RuneCountInString(l) != width {
			return nil, fmt.Errorf("%w: lines have different widths", ErrFormatMismatch)
		}
	}

	visa := unicode.ToUpper([]rune(lines[0])[0]) == 'V'
	for _, f := range Formats {
		if f.Lines != len(lines) || f.Width != width {
			continue
		}
		if f.Lines == 2 && f.visa != visa {
			continue
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %d lines of %d characters", ErrFormatMismatch, len(lines), width)
}
