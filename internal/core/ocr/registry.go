package ocr

import (
	"context"
	"fmt"
	"log/slog"
)

// BuildEngines maps configured engine names to engines, in order. Known names:
// vision, documentai, tesseract, textlayer, raster (pdf raster probe plus
// image header probe).
func BuildEngines(cfg Config, runner Runner, logger *slog.Logger, names []string) ([]Engine, error) {
	var out []Engine
	for _, name := range names {
		switch name {
		case "vision":
			out = append(out, NewVisionEngine(cfg, logger))
		case "documentai":
			out = append(out, NewDocumentAIEngine(cfg, logger))
		case "tesseract":
			out = append(out, NewTesseractEngine(cfg, runner, logger))
		case "textlayer":
			out = append(out, NewTextLayerEngine(cfg))
		case "raster":
			out = append(out, NewRasterEngine(cfg, runner, logger), NewImageProbeEngine())
		default:
			return nil, fmt.Errorf("unknown OCR engine %q", name)
		}
	}
	return out, nil
}

// NewDefaultCascade builds and probes the cascade for the configured engines.
func NewDefaultCascade(ctx context.Context, cfg Config, names []string, logger *slog.Logger) (*Cascade, error) {
	engines, err := BuildEngines(cfg, nil, logger, names)
	if err != nil {
		return nil, err
	}
	return NewCascade(ctx, logger, cfg.withDefaults().EngineTimeout, engines...), nil
}
