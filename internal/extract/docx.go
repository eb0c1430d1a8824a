package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nguyenthenguyen/docx"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

const defaultParagraphStyle = "Normal"

// DocxExtractor reads paragraphs and tables from a word-processing document.
type DocxExtractor struct {
	logger *slog.Logger
}

func NewDocxExtractor(logger *slog.Logger) *DocxExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxExtractor{logger: logger}
}

// docxContent is the body of a document in reading order.
type docxContent struct {
	Paragraphs []entity.Paragraph
	Tables     []entity.Table
}

func (e *DocxExtractor) Extract(_ context.Context, src Source) *entity.ExtractionResult {
	name := src.Name()
	return guard(e.logger, constants.FileTypeDocx, name, func() *entity.ExtractionResult {
		data, err := src.Bytes()
		if err != nil {
			return entity.ErrorResult(constants.FileTypeDocx, name, "failed to read document", err)
		}
		content, err := readDocx(data)
		if err != nil {
			e.logger.Warn("docx parse failed", "file", name, "error", err)
			return entity.ErrorResult(constants.FileTypeDocx, name, fmt.Sprintf("failed to parse word document %s", name), err)
		}

		res := entity.NewResult(constants.FileTypeDocx, name)
		res.Paragraphs = content.Paragraphs
		res.Tables = content.Tables
		res.FullText = content.text()
		res.SetMeta("paragraph_count", fmt.Sprint(len(content.Paragraphs)))
		res.SetMeta("table_count", fmt.Sprint(len(content.Tables)))
		if len(content.Paragraphs) == 0 && len(content.Tables) == 0 {
			return res.Partial(constants.MethodDocx, "document contains no text")
		}
		return res.Succeed(constants.MethodDocx)
	})
}

// text joins paragraph texts with newlines.
func (c docxContent) text() string {
	parts := make([]string, 0, len(c.Paragraphs))
	for _, p := range c.Paragraphs {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// plain renders paragraphs followed by one " | "-joined line per table row.
func (c docxContent) plain() string {
	var lines []string
	for _, p := range c.Paragraphs {
		lines = append(lines, p.Text)
	}
	for _, t := range c.Tables {
		for _, row := range t.Rows {
			lines = append(lines, strings.Join(row, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func readDocx(data []byte) (docxContent, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return docxContent{}, err
	}
	defer doc.Close()

	styles, err := readStyleNames(data)
	if err != nil {
		return docxContent{}, err
	}
	return parseDocumentXML(doc.Editable().GetContent(), styles)
}

// readStyleNames maps style ids to display names from word/styles.xml.
// A document without a styles part yields an empty map.
func readStyleNames(data []byte) (map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	names := map[string]string{}
	for _, f := range zr.File {
		if f.Name != "word/styles.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		var styles struct {
			Styles []struct {
				ID   string `xml:"styleId,attr"`
				Name struct {
					Val string `xml:"val,attr"`
				} `xml:"name"`
			} `xml:"style"`
		}
		if err := xml.NewDecoder(rc).Decode(&styles); err != nil {
			return nil, fmt.Errorf("styles.xml: %w", err)
		}
		for _, s := range styles.Styles {
			if s.ID != "" && s.Name.Val != "" {
				names[s.ID] = displayStyleName(s.Name.Val)
			}
		}
	}
	return names, nil
}

// displayStyleName capitalizes built-in names stored in lower case ("heading 1").
func displayStyleName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}

// parseDocumentXML walks word/document.xml in order. Only body-level
// paragraphs are kept; paragraphs inside table cells, nested tables included,
// contribute to the outermost cell text. Drawings and alternate content are
// skipped.
func parseDocumentXML(content string, styles map[string]string) (docxContent, error) {
	out := docxContent{Paragraphs: []entity.Paragraph{}, Tables: []entity.Table{}}
	dec := xml.NewDecoder(strings.NewReader(content))

	type para struct {
		text  strings.Builder
		style string
	}
	var (
		paras     []*para
		tblDepth  int
		table     *entity.Table
		row       []string
		cellParas []string
	)
	top := func() *para {
		if len(paras) == 0 {
			return nil
		}
		return paras[len(paras)-1]
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return docxContent{}, fmt.Errorf("document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "drawing", "pict", "AlternateContent", "object":
				if err := dec.Skip(); err != nil {
					return docxContent{}, err
				}
			case "tbl":
				tblDepth++
				if tblDepth == 1 {
					table = &entity.Table{TableNumber: len(out.Tables) + 1, Rows: [][]string{}}
				}
			case "tr":
				if tblDepth == 1 {
					row = []string{}
				}
			case "tc":
				if tblDepth == 1 {
					cellParas = nil
				}
			case "p":
				paras = append(paras, &para{})
			case "pPr":
				// Tab stops and run defaults live here too; only the style matters.
				var props struct {
					Style struct {
						Val string `xml:"val,attr"`
					} `xml:"pStyle"`
				}
				if err := dec.DecodeElement(&props, &t); err != nil {
					return docxContent{}, err
				}
				if p := top(); p != nil {
					p.style = props.Style.Val
				}
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return docxContent{}, err
				}
				if p := top(); p != nil {
					p.text.WriteString(s)
				}
			case "tab":
				if p := top(); p != nil {
					p.text.WriteString("\t")
				}
			case "br", "cr":
				if p := top(); p != nil {
					p.text.WriteString("\n")
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				p := top()
				if p == nil {
					continue
				}
				paras = paras[:len(paras)-1]
				text := p.text.String()
				switch {
				case tblDepth == 0 && strings.TrimSpace(text) != "":
					level := defaultParagraphStyle
					if p.style != "" {
						level = p.style
						if n, ok := styles[p.style]; ok {
							level = n
						}
					}
					out.Paragraphs = append(out.Paragraphs, entity.Paragraph{Text: text, Level: level})
				case tblDepth >= 1:
					// nested table text folds into the enclosing cell
					cellParas = append(cellParas, text)
				}
			case "tc":
				if tblDepth == 1 {
					row = append(row, strings.Join(cellParas, "\n"))
				}
			case "tr":
				if tblDepth == 1 && table != nil {
					table.Rows = append(table.Rows, row)
				}
			case "tbl":
				if tblDepth == 1 && table != nil {
					out.Tables = append(out.Tables, *table)
					table = nil
				}
				tblDepth--
			}
		}
	}
	return out, nil
}
