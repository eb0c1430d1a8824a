package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// visionMaxBytes is the inline content limit of the synchronous API.
const visionMaxBytes = 20 << 20

// annotator is the slice of the Vision API the engine uses.
type annotator interface {
	AnnotateImage(ctx context.Context, content []byte) (*visionpb.AnnotateImageResponse, error)
	AnnotateFile(ctx context.Context, content []byte, mimeType string, pages []int32) ([]*visionpb.AnnotateImageResponse, error)
}

type visionAnnotator struct {
	client *vision.ImageAnnotatorClient
}

func (a *visionAnnotator) AnnotateImage(ctx context.Context, content []byte) (*visionpb.AnnotateImageResponse, error) {
	resp, err := a.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResponses()) == 0 {
		return nil, errors.New("no response from Vision API")
	}
	return resp.GetResponses()[0], nil
}

func (a *visionAnnotator) AnnotateFile(ctx context.Context, content []byte, mimeType string, pages []int32) ([]*visionpb.AnnotateImageResponse, error) {
	resp, err := a.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: content, MimeType: mimeType},
			Features:    []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			Pages:       pages,
		}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetResponses()) == 0 {
		return nil, errors.New("no response from Vision API")
	}
	fileResp := resp.GetResponses()[0]
	if fileResp.GetError() != nil {
		return nil, fmt.Errorf("vision file error: %s", fileResp.GetError().GetMessage())
	}
	return fileResp.GetResponses(), nil
}

// VisionEngine is the layout-aware engine backed by Google Cloud Vision
// DOCUMENT_TEXT_DETECTION.
type VisionEngine struct {
	cfg    Config
	logger *slog.Logger
	client *Handle[annotator]
}

// NewVisionEngine builds the engine; the API client is created on first use.
func NewVisionEngine(cfg Config, logger *slog.Logger) *VisionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	e := &VisionEngine{cfg: cfg, logger: logger.With("engine", constants.MethodVisionOCR)}
	e.client = NewHandle(e.dial)
	return e
}

// newVisionEngineWithAnnotator is used by tests to bypass the API client.
func newVisionEngineWithAnnotator(cfg Config, a annotator, init func()) *VisionEngine {
	e := &VisionEngine{cfg: cfg.withDefaults(), logger: slog.Default()}
	e.client = NewHandle(func(context.Context) (annotator, error) {
		if init != nil {
			init()
		}
		return a, nil
	})
	return e
}

func (e *VisionEngine) dial(ctx context.Context) (annotator, error) {
	var opts []option.ClientOption
	switch {
	case e.cfg.GoogleCredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(e.cfg.GoogleCredentialsJSON)))
	case e.cfg.GoogleCredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(e.cfg.GoogleCredentialsFile))
	}
	e.logger.Info("initialising vision client")
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return newCachedAnnotator(&visionAnnotator{client: client}, filepath.Join(e.cfg.ArtifactCacheDir, "vision"), e.logger), nil
}

func (e *VisionEngine) Name() string { return constants.MethodVisionOCR }

func (e *VisionEngine) InstallHint() string {
	return "set GOOGLE_CREDENTIALS or GOOGLE_APPLICATION_CREDENTIALS for Google Cloud Vision"
}

func (e *VisionEngine) Supports(ft constants.FileType) bool {
	return ft == constants.FileTypePDF || ft == constants.FileTypeImage
}

// Available checks that credentials are configured; the client itself is
// created lazily by the first extraction.
func (e *VisionEngine) Available(context.Context) error {
	if e.client.Loaded() || e.cfg.GoogleCredentialsJSON != "" {
		return nil
	}
	if e.cfg.GoogleCredentialsFile == "" {
		return unavailable("no Google Cloud credentials configured")
	}
	if _, err := os.Stat(e.cfg.GoogleCredentialsFile); err != nil {
		return unavailable("credentials file %s: %v", e.cfg.GoogleCredentialsFile, err)
	}
	return nil
}

func (e *VisionEngine) Extract(ctx context.Context, in *Input) (*Output, error) {
	data, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	if len(data) > visionMaxBytes {
		return nil, fmt.Errorf("document is %d bytes, over the %d byte inline limit", len(data), visionMaxBytes)
	}
	client, err := e.client.Get(ctx)
	if err != nil {
		return nil, err
	}
	if in.FileType == constants.FileTypePDF {
		return e.extractPDF(ctx, client, data)
	}
	return e.extractImage(ctx, client, data)
}

func (e *VisionEngine) extractImage(ctx context.Context, client annotator, data []byte) (*Output, error) {
	resp, err := client.AnnotateImage(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("vision annotate image: %w", err)
	}
	if resp.GetError() != nil {
		return nil, fmt.Errorf("vision error: %s", resp.GetError().GetMessage())
	}
	pages, words := walkTextAnnotation(resp.GetFullTextAnnotation(), 1)
	if len(words) == 0 {
		return nil, errors.New("vision detected no text")
	}
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	conf, _ := meanConfidence(words)
	return &Output{
		Text:       strings.Join(texts, "\n"),
		PageCount:  1,
		Confidence: ptr(conf),
	}, nil
}

func (e *VisionEngine) extractPDF(ctx context.Context, client annotator, data []byte) (*Output, error) {
	total, err := PDFPageCount(data)
	if err != nil {
		return nil, err
	}
	var pages []entity.Page
	var words []float64
	for _, chunk := range pageChunks(total, e.cfg.VisionPagesPerCall, e.cfg.MaxPages) {
		responses, err := client.AnnotateFile(ctx, data, "application/pdf", chunk)
		if err != nil {
			return nil, fmt.Errorf("vision annotate pages %d-%d: %w", chunk[0], chunk[len(chunk)-1], err)
		}
		for i, r := range responses {
			if r.GetError() != nil {
				return nil, fmt.Errorf("vision page error: %s", r.GetError().GetMessage())
			}
			pageNo := int(r.GetContext().GetPageNumber())
			if pageNo == 0 && i < len(chunk) {
				pageNo = int(chunk[i])
			}
			ps, ws := walkTextAnnotation(r.GetFullTextAnnotation(), pageNo)
			pages = append(pages, ps...)
			words = append(words, ws...)
		}
	}
	if len(words) == 0 {
		return nil, errors.New("vision detected no text")
	}
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	conf, _ := meanConfidence(words)
	e.logger.Debug("vision pdf done", "pages", len(pages), "words", len(words))
	return &Output{
		Text:       strings.Join(texts, "\n"),
		Pages:      pages,
		PageCount:  total,
		Confidence: ptr(conf),
	}, nil
}

// walkTextAnnotation flattens pages -> blocks -> paragraphs -> words. Words are
// joined with single spaces inside a block, blocks with newlines inside a
// page. It returns the pages and every word confidence.
func walkTextAnnotation(ann *visionpb.TextAnnotation, firstPage int) ([]entity.Page, []float64) {
	var pages []entity.Page
	var all []float64
	for pi, p := range ann.GetPages() {
		page := entity.Page{
			PageNumber: firstPage + pi,
			Width:      int(p.GetWidth()),
			Height:     int(p.GetHeight()),
		}
		var blockTexts []string
		var pageWords []float64
		for _, b := range p.GetBlocks() {
			var words []string
			var confs []float64
			for _, para := range b.GetParagraphs() {
				for _, w := range para.GetWords() {
					var sb strings.Builder
					for _, s := range w.GetSymbols() {
						sb.WriteString(s.GetText())
					}
					if sb.Len() == 0 {
						continue
					}
					words = append(words, sb.String())
					confs = append(confs, float64(w.GetConfidence()))
				}
			}
			if len(words) == 0 {
				continue
			}
			text := strings.Join(words, " ")
			conf, _ := meanConfidence(confs)
			page.Blocks = append(page.Blocks, entity.Block{Text: text, Confidence: conf})
			blockTexts = append(blockTexts, text)
			pageWords = append(pageWords, confs...)
		}
		page.Text = strings.Join(blockTexts, "\n")
		if c, ok := meanConfidence(pageWords); ok {
			page.Confidence = ptr(c)
		}
		all = append(all, pageWords...)
		pages = append(pages, page)
	}
	return pages, all
}
