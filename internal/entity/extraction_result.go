package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/tender-docs/constants"
)

// ExtractionResult is the envelope every extractor returns. It is built once per
// call and is not mutated after it is handed back.
type ExtractionResult struct {
	FileType         constants.FileType `json:"file_type" jsonschema:"enum=pdf,enum=excel,enum=docx,enum=pptx,enum=text,enum=image,enum=unsupported"`
	Filename         string             `json:"filename"`
	Status           constants.Status   `json:"status" jsonschema:"enum=success,enum=partial,enum=error,enum=unsupported"`
	ExtractionMethod string             `json:"extraction_method,omitempty"`
	Message          string             `json:"message,omitempty"`
	Error            string             `json:"error,omitempty"`

	FullText   string      `json:"full_text,omitempty"`
	Confidence *float64    `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
	PageCount  int         `json:"page_count,omitempty"`
	Pages      []Page      `json:"pages,omitempty"`
	Sheets     []Sheet     `json:"sheets,omitempty"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
	Tables     []Table     `json:"tables,omitempty"`
	Slides     []Slide     `json:"slides,omitempty"`
	Content    string      `json:"content,omitempty"`
	Lines      []string    `json:"lines,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
	Duration time.Duration     `json:"-"`
}

// Page is one page of an OCR-bearing document.
type Page struct {
	PageNumber int      `json:"page_number"`
	Text       string   `json:"text"`
	Blocks     []Block  `json:"blocks,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`
}

// Block is a layout block with the mean confidence of its words.
type Block struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Sheet is one worksheet; Rows counts data rows, the header excluded.
type Sheet struct {
	Name    string   `json:"name"`
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
	Data    []Row    `json:"data"`
}

// Paragraph is a non-empty word-processing paragraph and its style name.
type Paragraph struct {
	Text  string `json:"text"`
	Level string `json:"level"`
}

// Table is a word-processing table; each row is its cell texts in order.
type Table struct {
	TableNumber int        `json:"table_number"`
	Rows        [][]string `json:"rows"`
}

// Slide groups the text-bearing shapes of one presentation slide.
type Slide struct {
	SlideNumber int     `json:"slide_number"`
	Shapes      []Shape `json:"shapes"`
}

// Shape is a text-bearing presentation shape.
type Shape struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Cell is one keyed value of a spreadsheet row.
type Cell struct {
	Key   string
	Value any
}

// Row is a spreadsheet row keyed by column header. It keeps column order when
// encoded as a JSON object.
type Row []Cell

// Get returns the value stored under key.
func (r Row) Get(key string) (any, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the row as an object whose keys follow column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object back into a row, preserving key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("row: expected object")
	}
	out := Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out = append(out, Cell{Key: key, Value: v})
	}
	*r = out
	return nil
}

// NewResult starts an envelope for the given strategy and filename.
func NewResult(fileType constants.FileType, filename string) *ExtractionResult {
	return &ExtractionResult{FileType: fileType, Filename: filename}
}

// ErrorResult reports that no engine could process the file.
func ErrorResult(fileType constants.FileType, filename, message string, cause error) *ExtractionResult {
	r := NewResult(fileType, filename)
	r.Status = constants.StatusError
	r.Message = message
	if cause != nil {
		r.Error = cause.Error()
		if r.Message == "" {
			r.Message = cause.Error()
		}
	}
	return r
}

// UnsupportedResult reports an extension outside the known set.
func UnsupportedResult(filename, ext string) *ExtractionResult {
	r := NewResult(constants.FileTypeUnsupported, filename)
	r.Status = constants.StatusUnsupported
	if ext == "" {
		r.Message = "file has no extension; supported types are pdf, xlsx, xls, docx, pptx, txt and images"
	} else {
		r.Message = fmt.Sprintf("unsupported file type: .%s", ext)
	}
	return r
}

// Succeed marks the result as fully extracted by method.
func (r *ExtractionResult) Succeed(method string) *ExtractionResult {
	r.Status = constants.StatusSuccess
	r.ExtractionMethod = method
	r.Message = ""
	return r
}

// Partial marks the result as structurally recovered without text.
func (r *ExtractionResult) Partial(method, message string) *ExtractionResult {
	r.Status = constants.StatusPartial
	r.ExtractionMethod = method
	r.Message = message
	return r
}

// SetMeta records a metadata entry, allocating the map on first use.
func (r *ExtractionResult) SetMeta(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// HasPayload reports whether any text or structured payload was populated.
// Empty sheet lists and line lists count: an empty workbook or text file is a
// valid extraction.
func (r *ExtractionResult) HasPayload() bool {
	return strings.TrimSpace(r.FullText) != "" ||
		strings.TrimSpace(r.Content) != "" ||
		len(r.Pages) > 0 ||
		r.Sheets != nil ||
		r.Lines != nil ||
		len(r.Paragraphs) > 0 ||
		len(r.Tables) > 0 ||
		len(r.Slides) > 0
}

// Check verifies the envelope invariants: a known status, a method tag exactly
// when the status is success or partial, a message whenever the status is not
// success, and a payload behind every success.
func (r *ExtractionResult) Check() error {
	switch r.Status {
	case constants.StatusSuccess:
		if r.ExtractionMethod == "" || r.ExtractionMethod == constants.MethodNone {
			return errors.New("success result without extraction_method")
		}
		if !r.HasPayload() {
			return errors.New("success result without payload")
		}
	case constants.StatusPartial:
		if r.ExtractionMethod == "" || r.ExtractionMethod == constants.MethodNone {
			return errors.New("partial result without extraction_method")
		}
		if r.Message == "" {
			return errors.New("partial result without message")
		}
	case constants.StatusError, constants.StatusUnsupported:
		if r.ExtractionMethod != "" && r.ExtractionMethod != constants.MethodNone {
			return fmt.Errorf("%s result carries extraction_method %q", r.Status, r.ExtractionMethod)
		}
		if r.Message == "" {
			return fmt.Errorf("%s result without message", r.Status)
		}
	default:
		return fmt.Errorf("unknown status %q", r.Status)
	}
	return nil
}
