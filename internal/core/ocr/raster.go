package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

const noOCRMessage = "no OCR engine available; recovered page structure only"

// RasterEngine is the last PDF tier: it rasterizes pages at a low DPI and
// reports page count and pixel sizes without any text.
type RasterEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewRasterEngine builds the engine. A nil runner uses os/exec.
func NewRasterEngine(cfg Config, runner Runner, logger *slog.Logger) *RasterEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &RasterEngine{cfg: cfg.withDefaults(), runner: runner, logger: logger.With("engine", constants.MethodPDFRasterOnly)}
}

func (e *RasterEngine) Name() string { return constants.MethodPDFRasterOnly }

func (e *RasterEngine) InstallHint() string { return "install poppler-utils (pdftoppm)" }

func (e *RasterEngine) Supports(ft constants.FileType) bool { return ft == constants.FileTypePDF }

func (e *RasterEngine) Available(context.Context) error {
	if _, err := e.runner.LookPath(e.cfg.Pdftoppm); err != nil {
		return unavailable("pdftoppm binary %q not found", e.cfg.Pdftoppm)
	}
	return nil
}

func (e *RasterEngine) Extract(ctx context.Context, in *Input) (*Output, error) {
	path, cleanup, err := in.LocalPath()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	images, done, err := rasterize(ctx, e.runner, e.logger, e.cfg.Pdftoppm, path, e.cfg.ProbeDPI, e.cfg.MaxPages)
	if err != nil {
		return nil, err
	}
	defer done()

	pages := make([]entity.Page, 0, len(images))
	for i, img := range images {
		w, h, err := imageFileSize(img)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		pages = append(pages, entity.Page{PageNumber: i + 1, Width: w, Height: h})
	}
	return &Output{Partial: true, Pages: pages, PageCount: len(pages), Message: noOCRMessage}, nil
}

// ImageProbeEngine is the last image tier: it decodes only the image header
// and reports its pixel size without any text.
type ImageProbeEngine struct{}

func NewImageProbeEngine() *ImageProbeEngine { return &ImageProbeEngine{} }

func (e *ImageProbeEngine) Name() string { return constants.MethodImageProbeOnly }

func (e *ImageProbeEngine) InstallHint() string { return "" }

func (e *ImageProbeEngine) Supports(ft constants.FileType) bool { return ft == constants.FileTypeImage }

func (e *ImageProbeEngine) Available(context.Context) error { return nil }

func (e *ImageProbeEngine) Extract(_ context.Context, in *Input) (*Output, error) {
	data, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	return &Output{
		Partial:   true,
		PageCount: 1,
		Pages:     []entity.Page{{PageNumber: 1, Width: cfg.Width, Height: cfg.Height}},
		Message:   noOCRMessage,
		Warnings:  []string{"decoded format " + format},
	}, nil
}

func imageFileSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// listRendered returns pdftoppm's prefix-N.png outputs ordered by page number.
func listRendered(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	pageNo := func(p string) int {
		s := strings.TrimSuffix(strings.TrimPrefix(p, prefix+"-"), ".png")
		n, _ := strconv.Atoi(s)
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return pageNo(matches[i]) < pageNo(matches[j]) })
	return matches, nil
}
