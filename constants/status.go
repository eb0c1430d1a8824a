package constants

// Status is the outcome tag of an extraction result.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPartial     Status = "partial"
	StatusError       Status = "error"
	StatusUnsupported Status = "unsupported"
)

// JobStatus is the canonical status for rows in ocr_job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing" // exclusive, see ocr_job claim
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCorrected  JobStatus = "corrected"
)

// Terminal reports whether no worker will touch the job again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCorrected
}

// BatchStatus is the aggregate state of a bulk OCR request.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
)
