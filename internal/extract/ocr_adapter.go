package extract

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/core/ocr"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// OCRRunner is the engine cascade as seen by the extraction layer.
type OCRRunner interface {
	Extract(ctx context.Context, in *ocr.Input) *entity.ExtractionResult
}

// OCRExtractor handles PDFs and images by delegating to the engine cascade.
type OCRExtractor struct {
	fileType constants.FileType
	cascade  OCRRunner
	logger   *slog.Logger
}

func NewOCRExtractor(ft constants.FileType, cascade OCRRunner, logger *slog.Logger) *OCRExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRExtractor{fileType: ft, cascade: cascade, logger: logger}
}

func (e *OCRExtractor) Extract(ctx context.Context, src Source) *entity.ExtractionResult {
	name := src.Name()
	return guard(e.logger, e.fileType, name, func() *entity.ExtractionResult {
		if e.cascade == nil {
			return entity.ErrorResult(e.fileType, name, "no OCR engine configured", nil)
		}
		return e.cascade.Extract(ctx, ocr.NewInput(src.Path, src.Data, name))
	})
}
