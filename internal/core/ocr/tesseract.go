package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// TesseractEngine is the classic OCR engine. PDFs are rasterized with pdftoppm
// first; images are normalised with the imaging library when needed.
type TesseractEngine struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewTesseractEngine builds the engine. A nil runner uses os/exec.
func NewTesseractEngine(cfg Config, runner Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &TesseractEngine{cfg: cfg.withDefaults(), runner: runner, logger: logger.With("engine", constants.MethodTesseract)}
}

func (e *TesseractEngine) Name() string { return constants.MethodTesseract }

func (e *TesseractEngine) InstallHint() string {
	return "install tesseract-ocr (and poppler-utils for PDFs)"
}

func (e *TesseractEngine) Supports(ft constants.FileType) bool {
	return ft == constants.FileTypePDF || ft == constants.FileTypeImage
}

func (e *TesseractEngine) Available(context.Context) error {
	if _, err := e.runner.LookPath(e.cfg.Tesseract); err != nil {
		return unavailable("tesseract binary %q not found", e.cfg.Tesseract)
	}
	return nil
}

type pageOCR struct {
	text   string
	blocks []entity.Block
	confs  []float64
	err    error
}

func (e *TesseractEngine) Extract(ctx context.Context, in *Input) (*Output, error) {
	if in.FileType == constants.FileTypePDF {
		return e.extractPDF(ctx, in)
	}
	path, cleanup, err := prepareImage(e.logger, in, e.cfg.ArtifactCacheDir, e.cfg.MinImageWidth)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}
	defer cleanup()

	res := e.ocrPages(ctx, []string{path})
	if res[0].err != nil {
		return nil, res[0].err
	}
	text := strings.TrimSpace(res[0].text)
	if text == "" {
		return nil, errors.New("tesseract recognized no text")
	}
	out := &Output{Text: text, PageCount: 1}
	if c, ok := meanConfidence(res[0].confs); ok {
		out.Confidence = ptr(c)
	}
	return out, nil
}

func (e *TesseractEngine) extractPDF(ctx context.Context, in *Input) (*Output, error) {
	if _, err := e.runner.LookPath(e.cfg.Pdftoppm); err != nil {
		return nil, unavailable("pdftoppm binary %q not found", e.cfg.Pdftoppm)
	}
	path, cleanup, err := in.LocalPath()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	images, done, err := rasterize(ctx, e.runner, e.logger, e.cfg.Pdftoppm, path, e.cfg.DPI, e.cfg.MaxPages)
	if err != nil {
		return nil, err
	}
	defer done()

	results := e.ocrPages(ctx, images)
	var (
		pages    []entity.Page
		texts    []string
		all      []float64
		warnings []string
		failed   int
	)
	for i, r := range results {
		page := entity.Page{PageNumber: i + 1, Text: r.text, Blocks: r.blocks}
		if r.err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, r.err))
		}
		if c, ok := meanConfidence(r.confs); ok {
			page.Confidence = ptr(c)
		}
		pages = append(pages, page)
		texts = append(texts, r.text)
		all = append(all, r.confs...)
	}
	if failed == len(results) {
		return nil, fmt.Errorf("tesseract failed on every page: %s", strings.Join(warnings, "; "))
	}
	text := strings.TrimSpace(strings.Join(texts, "\n"))
	if text == "" {
		return nil, errors.New("tesseract recognized no text")
	}
	out := &Output{Text: text, Pages: pages, PageCount: len(pages), Warnings: warnings}
	if c, ok := meanConfidence(all); ok {
		out.Confidence = ptr(c)
	}
	return out, nil
}

// ocrPages runs tesseract over images with bounded parallelism. Results keep
// the order of images; a failed page carries its error.
func (e *TesseractEngine) ocrPages(ctx context.Context, images []string) []pageOCR {
	results := make([]pageOCR, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PageParallelism)
	for i, img := range images {
		g.Go(func() error {
			out, errb, err := e.runner.Run(gctx, e.cfg.Tesseract, e.logger, e.args(img)...)
			if err != nil {
				results[i].err = fmt.Errorf("tesseract: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
				return nil
			}
			text, blocks, confs := parseTSV(out)
			results[i] = pageOCR{text: Normalize(text), blocks: blocks, confs: confs}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].err == nil && results[i].text == "" {
				results[i].err = err
			}
		}
	}
	return results
}

// tesseract <img> stdout -l <lang> [--psm n] [--oem n] [--tessdata-dir d] tsv
func (e *TesseractEngine) args(img string) []string {
	args := []string{img, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

// parseTSV rebuilds text from tesseract TSV output. Columns are
// level page block par line word left top width height conf text; only word
// rows (level 5) carry text. Words on one line are joined with spaces, lines
// with newlines. Confidences are scaled to 0..1 and -1 entries are skipped.
func parseTSV(out []byte) (string, []entity.Block, []float64) {
	type block struct {
		lines []string
		confs []float64
	}
	var (
		blocks   []*block
		cur      *block
		lastBlk  = ""
		lastLine = ""
		line     []string
		all      []float64
	)
	flushLine := func() {
		if cur != nil && len(line) > 0 {
			cur.lines = append(cur.lines, strings.Join(line, " "))
		}
		line = nil
	}
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		blk := cols[1] + "/" + cols[2]
		lineKey := blk + "/" + cols[3] + "/" + cols[4]
		if blk != lastBlk {
			flushLine()
			cur = &block{}
			blocks = append(blocks, cur)
			lastBlk = blk
			lastLine = ""
		}
		if lineKey != lastLine {
			flushLine()
			lastLine = lineKey
		}
		line = append(line, word)
		if v, err := strconv.ParseFloat(cols[10], 64); err == nil && v >= 0 {
			c := clamp01(v / 100)
			cur.confs = append(cur.confs, c)
			all = append(all, c)
		}
	}
	flushLine()

	var texts []string
	var out2 []entity.Block
	for _, b := range blocks {
		if len(b.lines) == 0 {
			continue
		}
		text := strings.Join(b.lines, "\n")
		conf, _ := meanConfidence(b.confs)
		out2 = append(out2, entity.Block{Text: text, Confidence: conf})
		texts = append(texts, text)
	}
	return strings.Join(texts, "\n"), out2, all
}

// rasterize renders PDF pages to PNGs with pdftoppm and returns them in page
// order. done removes the temp directory.
func rasterize(ctx context.Context, r Runner, logger *slog.Logger, bin, pdfPath string, dpi, maxPages int) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "tenderdocs-pp-*")
	if err != nil {
		return nil, nil, err
	}
	done := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}

	prefix := tmpDir + string(os.PathSeparator) + "page"
	// pdftoppm -r <dpi> -png [-l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages))
	}
	args = append(args, pdfPath, prefix)
	if _, errb, err := r.Run(ctx, bin, logger, args...); err != nil {
		done()
		return nil, nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	matches, err := listRendered(prefix)
	if err != nil {
		done()
		return nil, nil, err
	}
	if len(matches) == 0 {
		done()
		return nil, nil, errors.New("pdftoppm produced no images")
	}
	return matches, done, nil
}
