package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document is a stored vendor or tender file that OCR jobs run against.
type Document struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	FileExt     string    `json:"file_ext"`
	ContentType string    `json:"content_type"`
	ContentHash []byte    `json:"content_hash"`
	FileSize    int64     `json:"file_size"`
	StoragePath string    `json:"storage_path"`
	SourcePath  string    `json:"source_path,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
