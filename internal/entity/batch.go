package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/tender-docs/constants"
)

// Batch is the pollable aggregate of a bulk OCR request.
type Batch struct {
	ID                 string                `json:"batch_id"`
	TotalDocuments     int                   `json:"total_documents"`
	ProcessedDocuments int                   `json:"processed_documents"`
	Succeeded          int                   `json:"succeeded"`
	Failed             int                   `json:"failed"`
	Status             constants.BatchStatus `json:"status"`
	Items              []BatchItem           `json:"items,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	FinishedAt         *time.Time            `json:"finished_at,omitempty"`
}

// BatchItem is the observable state of one document in a batch.
type BatchItem struct {
	DocumentID uuid.UUID           `json:"document_id"`
	Status     constants.JobStatus `json:"status"`
	Error      string              `json:"error,omitempty"`
}

// Tally recomputes the counters and the aggregate status from Items.
func (b *Batch) Tally() {
	b.ProcessedDocuments, b.Succeeded, b.Failed = 0, 0, 0
	for _, it := range b.Items {
		if !it.Status.Terminal() {
			continue
		}
		b.ProcessedDocuments++
		if it.Status == constants.JobStatusFailed {
			b.Failed++
		} else {
			b.Succeeded++
		}
	}
	b.Status = constants.BatchStatusProcessing
	if b.ProcessedDocuments >= b.TotalDocuments {
		b.Status = constants.BatchStatusCompleted
	}
}
