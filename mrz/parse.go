package mrz

import (
	"strings"
	"time"
)

// Parser decodes and validates MRZ lines. A Parser has no mutable state and
// may be shared between goroutines.
type Parser struct {
	correct bool
	now     func() time.Time
}

type Option func(*Parser)

// WithoutCorrection disables OCR confusion correction.
func WithoutCorrection() Option {
	return func(p *Parser) { p.correct = false }
}

// WithClock sets the reference time used to resolve two digit years.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{correct: true, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse detects the format of lines and decodes every field. The only
// error is ErrFormatMismatch; failing check digits are reported through
// the result.
func (p *Parser) Parse(lines []string) (*Result, error) {
	format, err := DetectFormat(lines)
	if err != nil {
		return nil, err
	}

	raw := make([][]byte, len(lines))
	corrected := make([][]byte, len(lines))
	for i, l := range lines {
		raw[i] = asciiLine(l)
		corrected[i] = append([]byte(nil), raw[i]...)
	}
	if p.correct {
		for _, d := range format.Fields {
			correctBytes(corrected[d.Line][d.Start:d.End()], ClassOf(d.Type))
		}
	}

	fields := make([]ParsedField, len(format.Fields))
	index := make(map[string]int, len(format.Fields))
	for i, d := range format.Fields {
		fields[i] = ParsedField{
			Name:      d.Name,
			Type:      d.Type,
			Raw:       string(raw[d.Line][d.Start:d.End()]),
			Corrected: string(corrected[d.Line][d.Start:d.End()]),
		}
		index[d.Name] = i
	}

	now := p.now()
	for i, d := range format.Fields {
		fields[i].Value = decodeField(d, fields[i].Corrected, now)
	}

	long, isLong := longDocumentNumber(format, corrected)
	if isLong {
		fields[index[FieldDocumentNumber]].Value = long.number
		fields[index[FieldDocumentNumberCheck]].Value = decodeCheckDigit(string(long.check))
		fields[index[FieldOptionalData]].Value = decodeText(long.rest)
	}

	allValid := true
	for i, d := range format.Fields {
		if d.Type != CheckDigit {
			continue
		}
		data := joinSpans(corrected, d.Covers)
		checkChar := corrected[d.Line][d.Start]
		if isLong && d.Name == FieldDocumentNumberCheck {
			data, checkChar = long.number, long.check
		}

		outcome := evaluateCheck(data, checkChar, d.FillerAllowed)
		if outcome == checkSkipped {
			continue
		}
		valid := outcome == checkValid
		fields[i].CheckDigitValid = &valid
		if j, ok := index[d.Protects]; ok {
			fields[j].CheckDigitValid = &valid
		}
		allValid = allValid && valid
	}

	rawLines := make([]string, len(raw))
	for i, l := range raw {
		rawLines[i] = string(l)
	}
	return &Result{
		Format:              format.Name,
		Lines:               rawLines,
		Fields:              fields,
		AllCheckDigitsValid: allValid,
	}, nil
}

// Parse decodes lines with a default Parser.
func Parse(lines []string) (*Result, error) {
	return NewParser().Parse(lines)
}

// ParseText runs line selection on recognizer output and parses the result.
func (p *Parser) ParseText(text string) (*Result, error) {
	lines := SelectLines(text)
	if lines == nil {
		return nil, ErrFormatMismatch
	}
	return p.Parse(lines)
}

// asciiLine upper-cases a line and replaces characters outside ASCII with
// '?', which is never a valid MRZ character.
func asciiLine(line string) []byte {
	out := make([]byte, 0, len(line))
	for _, r := range line {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, byte(r-'a'+'A'))
		case r < 0x80:
			out = append(out, byte(r))
		default:
			out = append(out, '?')
		}
	}
	return out
}

func joinSpans(lines [][]byte, spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.Write(lines[s.Line][s.Start:s.End])
	}
	return b.String()
}

func decodeField(d FieldDescriptor, s string, now time.Time) any {
	switch d.Type {
	case DateField:
		date, err := ParseDate(s, d.Century, now)
		if err != nil {
			return nil
		}
		return date
	case Composite:
		return parseName(s)
	case CheckDigit:
		return decodeCheckDigit(s)
	default:
		return decodeText(s)
	}
}

func decodeText(s string) any {
	s = strings.Trim(s, "<")
	if s == "" {
		return nil
	}
	return strings.ReplaceAll(s, "<", " ")
}

func decodeCheckDigit(s string) any {
	if len(s) != 1 || s[0] < '0' || s[0] > '9' {
		return nil
	}
	return int(s[0] - '0')
}

type longNumber struct {
	number string
	check  byte
	rest   string
}

// longDocumentNumber handles TD1 and TD2 documents whose number exceeds
// nine characters: the check digit position holds a filler and the number
// continues in the optional data, terminated by its check digit.
func longDocumentNumber(format *Format, lines [][]byte) (longNumber, bool) {
	if !format.longDocumentNumber {
		return longNumber{}, false
	}
	number, _ := format.Field(FieldDocumentNumber)
	check, _ := format.Field(FieldDocumentNumberCheck)
	optional, _ := format.Field(FieldOptionalData)

	if lines[check.Line][check.Start] != Filler {
		return longNumber{}, false
	}
	data := string(lines[optional.Line][optional.Start:optional.End()])
	extension, rest, _ := strings.Cut(data, "<")
	if extension == "" {
		return longNumber{}, false
	}

	checkChar := []byte{extension[len(extension)-1]}
	correctBytes(checkChar, Digits)
	principal := string(lines[number.Line][number.Start:number.End()])
	return longNumber{
		number: principal + extension[:len(extension)-1],
		check:  checkChar[0],
		rest:   rest,
	}, true
}
