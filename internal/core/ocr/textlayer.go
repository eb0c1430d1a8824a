package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// TextLayerEngine reads the embedded text layer of born-digital PDFs. It does
// no OCR and fails on scanned documents.
type TextLayerEngine struct {
	maxPages int
}

func NewTextLayerEngine(cfg Config) *TextLayerEngine {
	return &TextLayerEngine{maxPages: cfg.MaxPages}
}

func (e *TextLayerEngine) Name() string { return constants.MethodPDFTextLayer }

func (e *TextLayerEngine) InstallHint() string { return "" }

func (e *TextLayerEngine) Supports(ft constants.FileType) bool { return ft == constants.FileTypePDF }

func (e *TextLayerEngine) Available(context.Context) error { return nil }

func (e *TextLayerEngine) Extract(ctx context.Context, in *Input) (*Output, error) {
	data, err := in.Bytes()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	total := reader.NumPage()
	if e.maxPages > 0 && total > e.maxPages {
		total = e.maxPages
	}
	pages := make([]entity.Page, 0, total)
	texts := make([]string, 0, total)
	chars := 0
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := entity.Page{PageNumber: n}
		p := reader.Page(n)
		if !p.V.IsNull() {
			text, err := p.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", n, err)
			}
			page.Text = Normalize(text)
		}
		chars += len(strings.TrimSpace(page.Text))
		pages = append(pages, page)
		texts = append(texts, page.Text)
	}
	if chars == 0 {
		return nil, errors.New("pdf has no text layer")
	}
	return &Output{
		Text:       strings.TrimSpace(strings.Join(texts, "\n")),
		Pages:      pages,
		PageCount:  reader.NumPage(),
		Confidence: ptr(1.0),
	}, nil
}
