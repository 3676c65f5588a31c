package models

import "time"

// MrzData holds the credential attributes derived from a scanned MRZ.
type MrzData struct {
	DocumentNumber string    `json:"document_number"`
	DocumentType   string    `json:"document_type"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Nationality    string    `json:"nationality"`
	IsEuCitizen    string    `json:"is_eu_citizen"`
	DateOfBirth    time.Time `json:"date_of_birth"`
	YearOfBirth    string    `json:"year_of_birth"`
	DateOfExpiry   time.Time `json:"date_of_expiry"`
	Gender         string    `json:"gender"`
	Country        string    `json:"country"`
	Over12         string    `json:"over12"`
	Over16         string    `json:"over16"`
	Over18         string    `json:"over18"`
	Over21         string    `json:"over21"`
	Over65         string    `json:"over65"`
	IsExpired      string    `json:"is_expired"`
}

// CrossCheckRequest compares a scanned MRZ with data groups read from the
// document chip. Data groups and EF.SOD are hex encoded.
type CrossCheckRequest struct {
	Lines      []string          `json:"lines,omitempty"`
	Text       string            `json:"text,omitempty"`
	DataGroups map[string]string `json:"data_groups"`
	EFSOD      string            `json:"EF_SOD,omitempty"`
}

type FieldComparison struct {
	Field      string  `json:"field"`
	Scanned    string  `json:"scanned"`
	Chip       string  `json:"chip"`
	Match      bool    `json:"match"`
	Similarity float64 `json:"similarity,omitempty"`
}

type CrossCheckResponse struct {
	Match  bool              `json:"match"`
	Fields []FieldComparison `json:"fields"`
	// nil when no EF.SOD was submitted
	AuthenticContent *bool `json:"authentic_content,omitempty"`
}
