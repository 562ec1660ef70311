package model

import "time"

// RunStatus represents the current state of an extraction run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// Run is a persisted extraction run for one document.
type Run struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title,omitempty"`
	Status     RunStatus         `json:"status"`
	Result     *ExtractionResult `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
