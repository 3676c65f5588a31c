package mrz

// ParsedField is one field of a parsed MRZ.
//
// Value holds the decoded value: string for text fields, Date for dates,
// Name for the holder name and int for check digits. It is nil when the
// field is empty or could not be decoded.
type ParsedField struct {
	Name            string       `json:"name"`
	Type            SemanticType `json:"-"`
	Raw             string       `json:"raw"`
	Corrected       string       `json:"corrected"`
	Value           any          `json:"value"`
	CheckDigitValid *bool        `json:"check_digit_valid,omitempty"`
}

// Result is a parsed MRZ. It is built once by Parser.Parse and must be
// treated as read-only.
type Result struct {
	Format              string        `json:"format"`
	Lines               []string      `json:"lines"`
	Fields              []ParsedField `json:"fields"`
	AllCheckDigitsValid bool          `json:"all_check_digits_valid"`
}

func (r *Result) Field(name string) (ParsedField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ParsedField{}, false
}

// Text returns the decoded string value of a text field, or "".
func (r *Result) Text(name string) string {
	f, ok := r.Field(name)
	if !ok {
		return ""
	}
	s, _ := f.Value.(string)
	return s
}

func (r *Result) DocumentCode() string   { return r.Text(FieldDocumentCode) }
func (r *Result) IssuingState() string   { return r.Text(FieldIssuingState) }
func (r *Result) DocumentNumber() string { return r.Text(FieldDocumentNumber) }
func (r *Result) Nationality() string    { return r.Text(FieldNationality) }
func (r *Result) Sex() string            { return r.Text(FieldSex) }
func (r *Result) OptionalData() string   { return r.Text(FieldOptionalData) }

func (r *Result) Name() (Name, bool) {
	f, ok := r.Field(FieldName)
	if !ok {
		return Name{}, false
	}
	n, ok := f.Value.(Name)
	return n, ok
}

func (r *Result) BirthDate() (Date, bool) {
	return r.date(FieldBirthDate)
}

func (r *Result) ExpiryDate() (Date, bool) {
	return r.date(FieldExpiryDate)
}

func (r *Result) date(name string) (Date, bool) {
	f, ok := r.Field(name)
	if !ok {
		return Date{}, false
	}
	d, ok := f.Value.(Date)
	return d, ok
}
