package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// documentProcessor is the slice of the Document AI API the engine uses.
type documentProcessor interface {
	Process(ctx context.Context, name string, content []byte, mimeType string) (*documentaipb.Document, error)
}

type documentAIClient struct {
	client *documentai.DocumentProcessorClient
}

func (c *documentAIClient) Process(ctx context.Context, name string, content []byte, mimeType string) (*documentaipb.Document, error) {
	resp, err := c.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: content, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.GetDocument(), nil
}

// DocumentAIEngine is an optional layout-aware engine backed by a Document AI
// OCR processor. It is only available when a processor is configured.
type DocumentAIEngine struct {
	cfg    Config
	logger *slog.Logger
	client *Handle[documentProcessor]
}

// NewDocumentAIEngine builds the engine; the API client is created on first use.
func NewDocumentAIEngine(cfg Config, logger *slog.Logger) *DocumentAIEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	e := &DocumentAIEngine{cfg: cfg, logger: logger.With("engine", constants.MethodDocumentAIOCR)}
	e.client = NewHandle(e.dial)
	return e
}

func (e *DocumentAIEngine) dial(ctx context.Context) (documentProcessor, error) {
	var opts []option.ClientOption
	if e.cfg.DocumentAILocation != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", e.cfg.DocumentAILocation)))
	}
	switch {
	case e.cfg.GoogleCredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(e.cfg.GoogleCredentialsJSON)))
	case e.cfg.GoogleCredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(e.cfg.GoogleCredentialsFile))
	}
	e.logger.Info("initialising document ai client", "location", e.cfg.DocumentAILocation)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create document ai client: %w", err)
	}
	return &documentAIClient{client: client}, nil
}

func (e *DocumentAIEngine) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		e.cfg.DocumentAIProject, e.cfg.DocumentAILocation, e.cfg.DocumentAIProcessor)
}

func (e *DocumentAIEngine) Name() string { return constants.MethodDocumentAIOCR }

func (e *DocumentAIEngine) InstallHint() string {
	return "set DOCUMENTAI_PROJECT and DOCUMENTAI_PROCESSOR to use a Document AI OCR processor"
}

func (e *DocumentAIEngine) Supports(ft constants.FileType) bool {
	return ft == constants.FileTypePDF || ft == constants.FileTypeImage
}

func (e *DocumentAIEngine) Available(context.Context) error {
	if e.cfg.DocumentAIProject == "" || e.cfg.DocumentAIProcessor == "" {
		return unavailable("no Document AI processor configured")
	}
	if e.cfg.GoogleCredentialsJSON == "" && e.cfg.GoogleCredentialsFile == "" {
		return unavailable("no Google Cloud credentials configured")
	}
	return nil
}

func (e *DocumentAIEngine) Extract(ctx context.Context, in *Input) (*Output, error) {
	data, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	client, err := e.client.Get(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := client.Process(ctx, e.processorName(), data, constants.MimeType(in.Ext))
	if err != nil {
		return nil, fmt.Errorf("document ai process: %w", err)
	}
	pages, words := walkDocument(doc)
	if len(words) == 0 {
		return nil, errors.New("document ai detected no text")
	}
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	conf, _ := meanConfidence(words)
	out := &Output{
		Text:       strings.Join(texts, "\n"),
		PageCount:  len(pages),
		Confidence: ptr(conf),
	}
	if in.FileType == constants.FileTypePDF {
		out.Pages = pages
	}
	return out, nil
}

// walkDocument rebuilds page/block structure from text anchors. Block text is
// its words joined by single spaces; block confidence is the mean of the token
// confidences that fall inside the block, or the block's own confidence when
// the processor returned no tokens.
func walkDocument(doc *documentaipb.Document) ([]entity.Page, []float64) {
	text := doc.GetText()
	var pages []entity.Page
	var all []float64
	for i, p := range doc.GetPages() {
		pageNo := int(p.GetPageNumber())
		if pageNo == 0 {
			pageNo = i + 1
		}
		page := entity.Page{
			PageNumber: pageNo,
			Width:      int(p.GetDimension().GetWidth()),
			Height:     int(p.GetDimension().GetHeight()),
		}
		var tokens []tokenSpan
		for _, t := range p.GetTokens() {
			s, e := anchorBounds(t.GetLayout().GetTextAnchor())
			if e <= s {
				continue
			}
			tokens = append(tokens, tokenSpan{start: s, end: e, conf: float64(t.GetLayout().GetConfidence())})
		}

		var blockTexts []string
		var pageWords []float64
		for _, b := range p.GetBlocks() {
			layout := b.GetLayout()
			words := strings.Fields(anchorText(text, layout.GetTextAnchor()))
			if len(words) == 0 {
				continue
			}
			bs, be := anchorBounds(layout.GetTextAnchor())
			var confs []float64
			for _, t := range tokens {
				if t.start >= bs && t.end <= be {
					confs = append(confs, t.conf)
				}
			}
			if len(confs) == 0 {
				confs = []float64{float64(layout.GetConfidence())}
			}
			blockText := strings.Join(words, " ")
			conf, _ := meanConfidence(confs)
			page.Blocks = append(page.Blocks, entity.Block{Text: blockText, Confidence: conf})
			blockTexts = append(blockTexts, blockText)
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

type tokenSpan struct {
	start, end int64
	conf       float64
}

func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	if c := anchor.GetContent(); c != "" {
		return c
	}
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		s, e := seg.GetStartIndex(), seg.GetEndIndex()
		if s < 0 || e > int64(len(text)) || s >= e {
			continue
		}
		sb.WriteString(text[s:e])
	}
	return sb.String()
}

func anchorBounds(anchor *documentaipb.Document_TextAnchor) (int64, int64) {
	segs := anchor.GetTextSegments()
	if len(segs) == 0 {
		return 0, 0
	}
	start, end := segs[0].GetStartIndex(), segs[0].GetEndIndex()
	for _, s := range segs[1:] {
		if s.GetStartIndex() < start {
			start = s.GetStartIndex()
		}
		if s.GetEndIndex() > end {
			end = s.GetEndIndex()
		}
	}
	return start, end
}
