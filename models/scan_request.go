package models

import "go-mrz-scanner/mrz"

// ParseRequest carries MRZ lines or free recognizer text. Lines win when
// both are set.
type ParseRequest struct {
	Lines []string `json:"lines,omitempty"`
	Text  string   `json:"text,omitempty"`
}

type ScanResponse struct {
	Found         bool        `json:"found"`
	Mrz           *mrz.Result `json:"mrz,omitempty"`
	DocumentImage string      `json:"document_image,omitempty"` // base64 PNG
	CaptureFormat string      `json:"capture_format,omitempty"`
}

type StartScanResponse struct {
	SessionId string `json:"session_id"`
}

type FrameResponse struct {
	SessionId string      `json:"session_id"`
	Completed bool        `json:"completed"`
	Accepted  bool        `json:"accepted"` // this frame completed the session
	Mrz       *mrz.Result `json:"mrz,omitempty"`
}

type SessionResponse struct {
	SessionId     string      `json:"session_id"`
	Status        string      `json:"status"`
	Mrz           *mrz.Result `json:"mrz,omitempty"`
	DocumentImage string      `json:"document_image,omitempty"`
}

type ComposeRequest struct {
	Format   string       `json:"format"`
	Document mrz.Document `json:"document"`
}

type ComposeResponse struct {
	Lines []string `json:"lines"`
}

type IssueRequest struct {
	SessionId string `json:"session_id"`
}
