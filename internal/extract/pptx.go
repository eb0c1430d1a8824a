package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

// Shape type tags.
const (
	ShapeTitle       = "title"
	ShapePlaceholder = "placeholder"
	ShapeTextBox     = "text_box"
	ShapeAutoShape   = "auto_shape"
	ShapeTable       = "table"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// PptxExtractor reads the text-bearing shapes of each slide.
type PptxExtractor struct {
	logger *slog.Logger
}

func NewPptxExtractor(logger *slog.Logger) *PptxExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PptxExtractor{logger: logger}
}

func (e *PptxExtractor) Extract(ctx context.Context, src Source) *entity.ExtractionResult {
	name := src.Name()
	return guard(e.logger, constants.FileTypePptx, name, func() *entity.ExtractionResult {
		data, err := src.Bytes()
		if err != nil {
			return entity.ErrorResult(constants.FileTypePptx, name, "failed to read presentation", err)
		}
		slides, err := readPptx(ctx, data)
		if err != nil {
			e.logger.Warn("pptx parse failed", "file", name, "error", err)
			return entity.ErrorResult(constants.FileTypePptx, name, fmt.Sprintf("failed to parse presentation %s", name), err)
		}

		res := entity.NewResult(constants.FileTypePptx, name)
		res.Slides = slides
		res.PageCount = len(slides)
		res.FullText = slidesText(slides, false)
		res.SetMeta("slide_count", strconv.Itoa(len(slides)))
		if strings.TrimSpace(res.FullText) == "" {
			return res.Partial(constants.MethodPptx, "presentation contains no text")
		}
		return res.Succeed(constants.MethodPptx)
	})
}

// slidesText joins shape texts in order. With headers each slide starts with
// a "--- Slide N ---" line.
func slidesText(slides []entity.Slide, headers bool) string {
	var parts []string
	for _, s := range slides {
		if headers {
			parts = append(parts, fmt.Sprintf("--- Slide %d ---", s.SlideNumber))
		}
		for _, sh := range s.Shapes {
			parts = append(parts, sh.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// xmlNode is a generic element tree; slide markup mixes shape kinds whose
// relative order matters.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
	Text    string     `xml:",chardata"`
}

func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *xmlNode) path(locals ...string) *xmlNode {
	cur := n
	for _, l := range locals {
		if cur = cur.child(l); cur == nil {
			return nil
		}
	}
	return cur
}

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// relID returns the namespaced r:id attribute; sldId also carries a plain id.
func (n *xmlNode) relID() string {
	for _, a := range n.Attrs {
		if a.Name.Local == "id" && a.Name.Space != "" {
			return a.Value
		}
	}
	return ""
}

// find collects descendants with the given local name, depth first.
func (n *xmlNode) find(local string, out []*xmlNode) []*xmlNode {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local == local {
			out = append(out, c)
			continue
		}
		out = c.find(local, out)
	}
	return out
}

func readPptx(ctx context.Context, data []byte) ([]entity.Slide, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	parts, err := slideOrder(files)
	if err != nil {
		return nil, err
	}

	slides := make([]entity.Slide, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := files[part]
		if !ok {
			return nil, fmt.Errorf("slide part %s missing", part)
		}
		var root xmlNode
		if err := decodeZipXML(f, &root); err != nil {
			return nil, fmt.Errorf("%s: %w", part, err)
		}
		slide := entity.Slide{SlideNumber: i + 1, Shapes: []entity.Shape{}}
		if tree := root.path("cSld", "spTree"); tree != nil {
			slide.Shapes = collectShapes(tree, slide.Shapes)
		}
		slides = append(slides, slide)
	}
	return slides, nil
}

// slideOrder follows the presentation's slide id list. Packages without a
// usable list fall back to slide part numbering.
func slideOrder(files map[string]*zip.File) ([]string, error) {
	pres, okPres := files["ppt/presentation.xml"]
	rels, okRels := files["ppt/_rels/presentation.xml.rels"]
	if okPres && okRels {
		var p xmlNode
		if err := decodeZipXML(pres, &p); err != nil {
			return nil, fmt.Errorf("presentation.xml: %w", err)
		}
		var r xmlNode
		if err := decodeZipXML(rels, &r); err != nil {
			return nil, fmt.Errorf("presentation.xml.rels: %w", err)
		}
		targets := map[string]string{}
		for _, rel := range r.Nodes {
			targets[rel.attr("Id")] = rel.attr("Target")
		}
		var parts []string
		if lst := p.child("sldIdLst"); lst != nil {
			for _, id := range lst.Nodes {
				target, ok := targets[id.relID()]
				if !ok {
					continue
				}
				if strings.HasPrefix(target, "/") {
					parts = append(parts, strings.TrimPrefix(target, "/"))
				} else {
					parts = append(parts, path.Clean(path.Join("ppt", target)))
				}
			}
		}
		if len(parts) > 0 {
			return parts, nil
		}
	}

	type numbered struct {
		n    int
		name string
	}
	var found []numbered
	for name := range files {
		if m := slidePartRe.FindStringSubmatch(name); m != nil {
			n, _ := strconv.Atoi(m[1])
			found = append(found, numbered{n: n, name: name})
		}
	}
	if len(found) == 0 && !okPres {
		return nil, fmt.Errorf("not a presentation package: ppt/presentation.xml not found")
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	parts := make([]string, 0, len(found))
	for _, f := range found {
		parts = append(parts, f.name)
	}
	return parts, nil
}

// collectShapes appends the text-bearing shapes of a shape tree in document
// order. Group members are flattened.
func collectShapes(tree *xmlNode, out []entity.Shape) []entity.Shape {
	for i := range tree.Nodes {
		n := &tree.Nodes[i]
		switch n.XMLName.Local {
		case "sp":
			txBody := n.child("txBody")
			if txBody == nil {
				continue
			}
			text := textBodyText(txBody)
			if strings.TrimSpace(text) == "" {
				continue
			}
			out = append(out, entity.Shape{Type: shapeType(n), Text: text})
		case "grpSp":
			out = collectShapes(n, out)
		case "graphicFrame":
			tbl := n.path("graphic", "graphicData", "tbl")
			if tbl == nil {
				continue
			}
			var rows []string
			for _, tr := range tbl.find("tr", nil) {
				var cells []string
				for _, tc := range tr.find("tc", nil) {
					if body := tc.child("txBody"); body != nil {
						cells = append(cells, textBodyText(body))
					}
				}
				rows = append(rows, strings.Join(cells, " | "))
			}
			text := strings.Join(rows, "\n")
			if strings.TrimSpace(text) != "" {
				out = append(out, entity.Shape{Type: ShapeTable, Text: text})
			}
		}
	}
	return out
}

func shapeType(sp *xmlNode) string {
	if ph := sp.path("nvSpPr", "nvPr", "ph"); ph != nil {
		switch ph.attr("type") {
		case "title", "ctrTitle":
			return ShapeTitle
		}
		return ShapePlaceholder
	}
	if c := sp.path("nvSpPr", "cNvSpPr"); c != nil && (c.attr("txBox") == "1" || c.attr("txBox") == "true") {
		return ShapeTextBox
	}
	return ShapeAutoShape
}

// textBodyText joins paragraphs with newlines; runs and fields are concatenated.
func textBodyText(body *xmlNode) string {
	var paras []string
	for i := range body.Nodes {
		p := &body.Nodes[i]
		if p.XMLName.Local != "p" {
			continue
		}
		var b strings.Builder
		for j := range p.Nodes {
			switch r := &p.Nodes[j]; r.XMLName.Local {
			case "r", "fld":
				if t := r.child("t"); t != nil {
					b.WriteString(t.Text)
				}
			case "br":
				b.WriteString("\n")
			}
		}
		paras = append(paras, b.String())
	}
	return strings.Join(paras, "\n")
}

func decodeZipXML(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return xml.Unmarshal(raw, v)
}
