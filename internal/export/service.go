package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

const sheetName = "OCR Jobs"

// Service produces XLSX reports over the OCR job table.
type Service struct {
	jobs   repository.OCRJobRepository
	docs   repository.DocumentRepository
	logger *slog.Logger
}

func NewService(jobs repository.OCRJobRepository, docs repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, docs: docs, logger: logger}
}

var headers = []string{
	"Document ID",
	"Filename",
	"Status",
	"Method",
	"Confidence",
	"Processed At",
	"Error",
	"Text",
}

// ExportJobsXLSX returns a workbook with one row per OCR job, most recently
// updated first. An empty status exports every job.
func (s *Service) ExportJobsXLSX(ctx context.Context, status constants.JobStatus) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.List(ctx, status, 0)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	for _, j := range jobs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		filename := ""
		if doc, err := s.docs.GetByID(ctx, j.DocumentID); err == nil {
			filename = doc.Filename
		}
		view := j.StatusView()

		write(1, j.DocumentID.String())
		write(2, filename)
		write(3, string(view.Status))
		write(4, view.Method)
		if j.Confidence != nil {
			write(5, *j.Confidence)
		}
		if view.ProcessedAt != nil {
			write(6, view.ProcessedAt.UTC().Format(time.RFC3339))
		}
		write(7, view.Error)
		write(8, truncate(view.Text, 140))
		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "D", 18)
	_ = f.SetColWidth(sheetName, "E", "E", 12)
	_ = f.SetColWidth(sheetName, "F", "F", 22)
	_ = f.SetColWidth(sheetName, "G", "H", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("ocr job export written",
		"status", status,
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
