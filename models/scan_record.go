package models

import "time"

const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
)

// ScanRecord is what session storage keeps for a scan session. Only the MRZ
// lines are stored; results are rebuilt by parsing them again.
type ScanRecord struct {
	SessionId     string     `json:"session_id"`
	Status        string     `json:"status"`
	Lines         []string   `json:"lines,omitempty"`
	DocumentImage string     `json:"document_image,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (r ScanRecord) Completed() bool {
	return r.Status == SessionCompleted
}
