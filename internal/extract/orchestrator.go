package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
	"github.com/joseph-ayodele/tender-docs/internal/metrics"
)

// Orchestrator detects the format of a file and routes it to one extractor.
// It holds no per-call state and is safe for concurrent use.
type Orchestrator struct {
	extractors map[constants.FileType]Extractor
	strict     bool
	logger     *slog.Logger
}

type Option func(*Orchestrator)

// WithExtractor replaces the extractor for one strategy.
func WithExtractor(ft constants.FileType, e Extractor) Option {
	return func(o *Orchestrator) { o.extractors[ft] = e }
}

// WithStrictSchema validates every envelope against the JSON schema and turns
// invalid ones into error results.
func WithStrictSchema(strict bool) Option {
	return func(o *Orchestrator) { o.strict = strict }
}

// NewOrchestrator wires the built-in extractors. cascade serves PDFs and images.
func NewOrchestrator(cascade OCRRunner, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		extractors: map[constants.FileType]Extractor{
			constants.FileTypePDF:   NewOCRExtractor(constants.FileTypePDF, cascade, logger),
			constants.FileTypeImage: NewOCRExtractor(constants.FileTypeImage, cascade, logger),
			constants.FileTypeExcel: NewSpreadsheetExtractor(logger),
			constants.FileTypeDocx:  NewDocxExtractor(logger),
			constants.FileTypePptx:  NewPptxExtractor(logger),
			constants.FileTypeText:  NewTextExtractor(logger),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ExtractFile extracts a file on disk, using its base name as the filename.
func (o *Orchestrator) ExtractFile(ctx context.Context, path string) *entity.ExtractionResult {
	return o.Extract(ctx, Source{Path: path, Filename: filepath.Base(path)})
}

// ExtractBytes extracts in-memory content declared under filename.
func (o *Orchestrator) ExtractBytes(ctx context.Context, data []byte, filename string) *entity.ExtractionResult {
	return o.Extract(ctx, Source{Data: data, Filename: filename})
}

// Extract never fails: every outcome, including unsupported formats and
// extractor panics, is reported through the envelope.
func (o *Orchestrator) Extract(ctx context.Context, src Source) *entity.ExtractionResult {
	start := time.Now()
	name := src.Name()
	ext, ft := constants.DetectFileType(name)

	var res *entity.ExtractionResult
	ex, ok := o.extractors[ft]
	if !ok {
		res = entity.UnsupportedResult(name, ext)
	} else {
		res = guard(o.logger, ft, name, func() *entity.ExtractionResult {
			return ex.Extract(ctx, src)
		})
	}

	if o.strict {
		if err := entity.ValidateResult(res); err != nil {
			o.logger.Error("extractor produced invalid result", "file", name, "file_type", ft, "error", err)
			res = entity.ErrorResult(ft, name, fmt.Sprintf("invalid extraction result: %v", err), err)
		}
	}
	res.Duration = time.Since(start)

	metrics.ObserveExtraction(string(res.FileType), string(res.Status), res.ExtractionMethod, res.Duration)
	attrs := []any{
		"file", name,
		"file_type", res.FileType,
		"status", res.Status,
		"method", res.ExtractionMethod,
		"duration_ms", res.Duration.Milliseconds(),
	}
	switch res.Status {
	case constants.StatusSuccess:
		o.logger.Info("extraction finished", attrs...)
	case constants.StatusPartial, constants.StatusUnsupported:
		o.logger.Warn("extraction finished", append(attrs, "message", res.Message)...)
	default:
		o.logger.Error("extraction finished", append(attrs, "message", res.Message)...)
	}
	return res
}
