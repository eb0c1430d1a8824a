package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
)

// OCRJob is the per-document OCR status record.
type OCRJob struct {
	DocumentID       uuid.UUID           `json:"document_id"`
	Status           constants.JobStatus `json:"status"`
	OCRText          *string             `json:"ocr_text,omitempty"`
	CorrectedText    *string             `json:"corrected_text,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	ExtractionMethod *string             `json:"extraction_method,omitempty"`
	ErrorMessage     *string             `json:"error_message,omitempty"`
	BatchID          *string             `json:"batch_id,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// OCRStatus is the caller-facing view of a job.
type OCRStatus struct {
	DocumentID  uuid.UUID           `json:"document_id"`
	Status      constants.JobStatus `json:"status"`
	Text        string              `json:"text"`
	Confidence  float64             `json:"confidence"`
	Method      string              `json:"extraction_method,omitempty"`
	ProcessedAt *time.Time          `json:"processed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// StatusView projects the job into its caller-facing view. Corrected jobs report
// the corrected text.
func (j *OCRJob) StatusView() *OCRStatus {
	st := &OCRStatus{
		DocumentID:  j.DocumentID,
		Status:      j.Status,
		ProcessedAt: j.ProcessedAt,
	}
	if j.Status == constants.JobStatusCorrected && j.CorrectedText != nil {
		st.Text = *j.CorrectedText
	} else if j.OCRText != nil {
		st.Text = *j.OCRText
	}
	if j.Confidence != nil {
		st.Confidence = *j.Confidence
	}
	if j.ExtractionMethod != nil {
		st.Method = *j.ExtractionMethod
	}
	if j.ErrorMessage != nil {
		st.Error = *j.ErrorMessage
	}
	return st
}

// PendingStatus is reported for documents that have never been submitted.
func PendingStatus(documentID uuid.UUID) *OCRStatus {
	return &OCRStatus{DocumentID: documentID, Status: constants.JobStatusPending}
}
