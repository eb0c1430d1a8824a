package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		filename string
		ext      string
		want     FileType
	}{
		{"tender.pdf", "pdf", FileTypePDF},
		{"Budget.XLSX", "xlsx", FileTypeExcel},
		{"legacy.xls", "xls", FileTypeExcel},
		{"proposal.docx", "docx", FileTypeDocx},
		{"pitch.pptx", "pptx", FileTypePptx},
		{"notes.txt", "txt", FileTypeText},
		{"scan.png", "png", FileTypeImage},
		{"scan.jpg", "jpg", FileTypeImage},
		{"scan.JPEG", "jpeg", FileTypeImage},
		{"scan.tiff", "tiff", FileTypeImage},
		{"scan.bmp", "bmp", FileTypeImage},
		{"anim.gif", "gif", FileTypeImage},
		{"archive.zip", "zip", FileTypeUnsupported},
		{"data.csv", "csv", FileTypeUnsupported},
		{"README", "", FileTypeUnsupported},
		{"", "", FileTypeUnsupported},
		{"dir.v2/file", "", FileTypeUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			ext, ft := DetectFileType(tt.filename)
			assert.Equal(t, tt.ext, ext)
			assert.Equal(t, tt.want, ft)
		})
	}
}

func TestIsOCRBearing(t *testing.T) {
	assert.True(t, FileTypePDF.IsOCRBearing())
	assert.True(t, FileTypeImage.IsOCRBearing())
	assert.False(t, FileTypeExcel.IsOCRBearing())
	assert.False(t, FileTypeUnsupported.IsOCRBearing())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCorrected.Terminal())
}
